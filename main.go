// Command regstow stores named files in a container-image registry, using one
// repository per file group and one blob per file.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/common/version"
	"github.com/regstow/regstow/pkg/blobcache"
	"github.com/regstow/regstow/pkg/progress"
	"github.com/regstow/regstow/pkg/registry"
	"github.com/regstow/regstow/pkg/session"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var logger *zap.Logger

const usage = `Usage: regstow [flags] <command> [args]

Commands:
  ls   <repo>                  list files in a repository
  push <repo> <file> [name]    upload a file (name defaults to the file basename)
  pull <repo> <name> [dest]    download a file
  rm   <repo> <name>           remove a file from the listing
  link <repo> <name>           print the external download URL for a file
  version                      print build information
`

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to yaml config file (default $REGSTOW_CONFIG)")
		chunkSize  = pflag.Int64("chunk-size", 0, "upload chunk size in bytes")
		plainHTTP  = pflag.Bool("plain-http", false, "use http:// for registry requests")
		debug      = pflag.BoolP("debug", "d", false, "enable debug logging")
	)
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *debug {
		logger = zap.Must(zap.NewDevelopment())
	} else {
		logger = zap.Must(zap.NewProduction())
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(version.Print("regstow"))
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("could not load config", zap.Error(err))
	}
	if *chunkSize > 0 {
		cfg.ChunkSize = *chunkSize
	}
	if *plainHTTP {
		cfg.PlainHTTP = true
	}

	engine, err := newEngine(cfg)
	if err != nil {
		logger.Fatal("could not build engine", zap.Error(err))
	}

	if err := run(context.Background(), engine, args); err != nil {
		logger.Fatal("command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

func newEngine(cfg *Config) (*session.Engine, error) {
	client := registry.NewClient(registry.Options{
		HTTPClient: &http.Client{},
		ChunkSize:  cfg.ChunkSize,
		PlainHTTP:  cfg.PlainHTTP,
		Logger:     logger,
	})

	var blobs blobcache.Service
	switch {
	case cfg.S3Bucket != "":
		s3, err := blobcache.NewS3Store(cfg.S3Bucket, os.TempDir())
		if err != nil {
			return nil, err
		}
		blobs = s3
	case cfg.CacheDir != "":
		blobs = &blobcache.FileStore{CacheDirectory: cfg.CacheDir}
	}

	return session.NewEngine(session.EngineOptions{
		Client: client,
		Blobs:  blobs,
		Logger: logger,
	}), nil
}

func run(ctx context.Context, engine *session.Engine, args []string) error {
	cmd := args[0]
	if len(args) < 2 {
		return fmt.Errorf("%s: repository argument required", cmd)
	}
	s, err := engine.Begin(ctx, args[1])
	if err != nil {
		return err
	}

	switch cmd {
	case "ls":
		for _, item := range s.Listing.FileItems {
			fmt.Printf("%-12d %-71s %s\n", item.Size, item.Digest, item.Name)
		}
		return nil

	case "push":
		if len(args) < 3 {
			return fmt.Errorf("push: file argument required")
		}
		path := args[2]
		name := filepath.Base(path)
		if len(args) > 3 {
			name = args[3]
		}
		if err := s.Upload(ctx, name, path, consoleProgress{name: name}); err != nil {
			return err
		}
		return s.Commit(ctx)

	case "pull":
		if len(args) < 3 {
			return fmt.Errorf("pull: name argument required")
		}
		name := args[2]
		dest := name
		if len(args) > 3 {
			dest = args[3]
		}
		return s.Pull(ctx, name, dest, consoleProgress{name: name})

	case "rm":
		if len(args) < 3 {
			return fmt.Errorf("rm: name argument required")
		}
		if err := s.Remove(args[2]); err != nil {
			return err
		}
		return s.Commit(ctx)

	case "link":
		if len(args) < 3 {
			return fmt.Errorf("link: name argument required")
		}
		url, err := s.Link(ctx, args[2])
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// consoleProgress prints transfer progress to stderr.
type consoleProgress struct {
	name string
}

var _ progress.Listener = consoleProgress{}

func (p consoleProgress) OnProgress(current, total int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s: %d/%d bytes", p.name, current, total)
	} else {
		fmt.Fprintf(os.Stderr, "\r%s: %d bytes", p.name, current)
	}
}

func (p consoleProgress) OnSuccess(total int64) {
	fmt.Fprintf(os.Stderr, "\r%s: %d bytes, done\n", p.name, total)
}
