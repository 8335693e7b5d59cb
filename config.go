package main

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the optional yaml config file. Flags override it.
type Config struct {
	ChunkSize int64  `yaml:"chunkSize"`
	PlainHTTP bool   `yaml:"plainHTTP"`
	CacheDir  string `yaml:"cacheDir"`
	S3Bucket  string `yaml:"s3Bucket"`
}

// loadConfig reads the config from path, falling back to $REGSTOW_CONFIG. A
// missing file yields the zero config.
func loadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REGSTOW_CONFIG")
	}
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	} else if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
