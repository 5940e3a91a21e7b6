package app

import (
	"context"
	"fmt"
	"os"

	"dupelink/internal/config"
	"dupelink/internal/engine"
	"dupelink/internal/logging"
	"dupelink/internal/scanner"
	"dupelink/internal/storage/sqlite"

	"github.com/rs/zerolog"
)

// App ties together configuration, the content index, and the dedup engine.
type App struct {
	cfg    config.Config
	store  *sqlite.Store
	engine *engine.Engine
	log    zerolog.Logger
}

// New constructs an App using the provided configuration. It opens (or
// creates) the content index store; a store that cannot be opened is
// fatal, since no dedup decision is safe without it.
func New(cfg config.Config) (*App, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open content index: %w", err)
	}

	eng := engine.New(store, engine.NewLinkReplacer(), engine.Options{
		Workers: cfg.Workers,
		DryRun:  cfg.DryRun,
		Out:     os.Stdout,
	})

	return &App{
		cfg:    cfg,
		store:  store,
		engine: eng,
		log:    logging.GetLogger("app"),
	}, nil
}

// Run executes one scan-and-reconcile pass over the configured root.
func (a *App) Run(ctx context.Context) error {
	src, err := scanner.New(a.cfg.RootDir, a.cfg.Extensions)
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	a.log.Info().
		Str("root", a.cfg.RootDir).
		Strs("extensions", a.cfg.Extensions).
		Int("threads", a.cfg.Workers).
		Bool("dryRun", a.cfg.DryRun).
		Msg("starting dedup pass")

	stats, err := a.engine.Run(ctx, src)
	if err != nil {
		return fmt.Errorf("dedup pass: %w", err)
	}

	a.log.Info().
		Int64("scanned", stats.Scanned).
		Int64("newFiles", stats.NewFiles).
		Int64("duplicates", stats.Duplicates).
		Int64("bytesSaved", stats.BytesSaved).
		Int64("hashErrors", stats.HashErrors).
		Int64("linkErrors", stats.LinkErrors).
		Msg("dedup pass complete")

	return nil
}

// Close releases the content index store.
func (a *App) Close() error {
	return a.store.Close()
}
