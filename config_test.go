package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(p, []byte("chunkSize: 1000000\nplainHTTP: true\ncacheDir: /var/cache/regstow\n"), os.ModePerm)
	require.NoError(t, err)

	cfg, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), cfg.ChunkSize)
	assert.True(t, cfg.PlainHTTP)
	assert.Equal(t, "/var/cache/regstow", cfg.CacheDir)
	assert.Empty(t, cfg.S3Bucket)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadConfigInvalidYaml(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("{not yaml"), os.ModePerm))

	_, err := loadConfig(p)
	assert.NotNil(t, err)
}
