package config

import (
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
)

// Config captures runtime configuration for the dupelink tool.
type Config struct {
	// RootDir is the directory tree that will be scanned for duplicates.
	RootDir string

	// Extensions are the file suffixes considered for deduplication.
	// Matching is exact and case-sensitive.
	Extensions []string

	// DBPath is the location of the SQLite content index. Created if absent.
	DBPath string

	// Workers is the number of parallel hashing workers.
	Workers int

	// DryRun records every hash in the index and reports which files could
	// be linked, but never removes or links anything.
	DryRun bool

	// Verbosity controls diagnostic log output on stderr.
	Verbosity int
}

// FromFlags parses configuration from command line flags. It should be
// called by the main package to construct the initial configuration.
func FromFlags() (Config, error) {
	var cfg Config
	var extensions string

	flag.StringVar(&cfg.RootDir, "dir", "", "directory tree to scan for duplicate files")
	flag.StringVar(&extensions, "extensions", ".bin,.safetensors,.pth,.pt", "comma separated list of file extensions to consider")
	flag.StringVar(&cfg.DBPath, "db-path", "./model-data.sqlite3", "path to the content index database")
	flag.IntVar(&cfg.Workers, "threads", 4, "number of parallel hashing workers")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "record hashes and report possible links without touching any file")
	flag.IntVar(&cfg.Verbosity, "v", 0, "diagnostic log verbosity (0=warn, 1=info, 2=debug, 3+=trace)")
	flag.Parse()

	if strings.TrimSpace(cfg.RootDir) == "" {
		return Config{}, errors.New("a scan directory is required (-dir)")
	}
	abs, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve scan directory %q: %w", cfg.RootDir, err)
	}
	cfg.RootDir = filepath.Clean(abs)

	exts, err := NormalizeExtensions(extensions)
	if err != nil {
		return Config{}, err
	}
	cfg.Extensions = exts

	if cfg.Workers < 1 {
		return Config{}, fmt.Errorf("thread count must be at least 1, got %d", cfg.Workers)
	}

	return cfg, nil
}

// NormalizeExtensions splits a comma separated extension list, trims
// whitespace, and ensures every entry carries a leading dot.
func NormalizeExtensions(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, ".") {
			trimmed = "." + trimmed
		}
		normalized = append(normalized, trimmed)
	}

	if len(normalized) == 0 {
		return nil, errors.New("at least one file extension is required")
	}

	return normalized, nil
}
