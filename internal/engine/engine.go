// Package engine orchestrates one scan-and-reconcile pass: parallel
// hashing feeding a strictly serialized commit loop over the content
// index.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"dupelink/internal/hasher"
	"dupelink/internal/logging"
	"dupelink/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Index is the persistence surface the engine needs. The SQLite store in
// storage/sqlite is the production implementation.
type Index interface {
	Lookup(ctx context.Context, digest string) (storage.FileRecord, bool, error)
	Insert(ctx context.Context, path, digest string) (storage.FileRecord, error)
}

// Linker replaces a duplicate file with a symlink to its canonical copy.
type Linker interface {
	Replace(duplicate, canonical string) error
}

// Walker produces the candidate files for a pass.
type Walker interface {
	Walk(ctx context.Context, fn func(path string, size int64) error) error
}

// Options configures an Engine.
type Options struct {
	// Workers is the number of parallel hashing workers. Hashing is the
	// only parallel phase; commits are serialized.
	Workers int

	// DryRun records hashes and reports possible links without mutating
	// the filesystem.
	DryRun bool

	// Out receives the per-file and summary report lines. Defaults to
	// stdout.
	Out io.Writer
}

// Stats accumulates the outcome of a single pass.
type Stats struct {
	// Scanned counts candidate files yielded by the walker.
	Scanned int64
	// NewFiles counts digests registered for the first time.
	NewFiles int64
	// Duplicates counts files linked (live) or reported linkable (dry-run).
	Duplicates int64
	// BytesSaved is the confirmed (live) or potential (dry-run) savings.
	BytesSaved int64
	// HashErrors counts files skipped because they could not be hashed.
	HashErrors int64
	// LinkErrors counts duplicates whose replacement failed. Those files
	// were not counted as savings.
	LinkErrors int64
}

type hashResult struct {
	path   string
	digest string
	size   int64
}

// Engine runs the dedup pass against an Index and a Linker.
type Engine struct {
	index   Index
	linker  Linker
	workers int
	dryRun  bool
	out     io.Writer
	log     zerolog.Logger
}

// New constructs an Engine.
func New(index Index, linker Linker, opts Options) *Engine {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	return &Engine{
		index:   index,
		linker:  linker,
		workers: workers,
		dryRun:  opts.DryRun,
		out:     out,
		log:     logging.GetLogger("engine"),
	}
}

// Run performs one bounded pass: every candidate from the walker is
// hashed by the worker pool, and each result is committed through the
// lookup-then-insert-or-link sequence. Per-file hash and link failures
// are reported and skipped; index failures abort the run, since no
// further decision is safe once the store misbehaves. Which of several
// never-seen duplicates becomes canonical depends on hashing completion
// order and is not deterministic within a run.
func (e *Engine) Run(ctx context.Context, src Walker) (Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats Stats
	var scanned, hashErrors atomic.Int64

	paths := make(chan string)
	results := make(chan hashResult)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(paths)
		return src.Walk(gctx, func(path string, size int64) error {
			scanned.Add(1)
			select {
			case paths <- path:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for path := range paths {
				digest, size, err := hasher.Sum(path)
				if err != nil {
					hashErrors.Add(1)
					e.log.Warn().Err(err).Str("path", path).Msg("hashing failed, skipping file")
					continue
				}
				select {
				case results <- hashResult{path: path, digest: digest, size: size}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	hashDone := make(chan error, 1)
	go func() {
		hashDone <- g.Wait()
		close(results)
	}()

	// Single-consumer commit loop: this is the critical section around
	// lookup-then-insert-or-link, so two workers can never race two
	// "first" records for the same digest into the index.
	var commitErr error
	for res := range results {
		if commitErr != nil {
			continue // drain so no worker blocks on send
		}
		if err := e.commit(ctx, res, &stats); err != nil {
			commitErr = err
			cancel()
		}
	}
	hashErr := <-hashDone

	stats.Scanned = scanned.Load()
	stats.HashErrors = hashErrors.Load()

	if commitErr != nil {
		return stats, commitErr
	}
	if hashErr != nil {
		return stats, hashErr
	}

	e.summarize(stats)
	return stats, nil
}

func (e *Engine) commit(ctx context.Context, res hashResult, stats *Stats) error {
	existing, found, err := e.index.Lookup(ctx, res.digest)
	if err != nil {
		return err
	}

	if !found {
		record, insErr := e.index.Insert(ctx, res.path, res.digest)
		if insErr == nil {
			stats.NewFiles++
			fmt.Fprintf(e.out, "Added new file: %s with sha256: %s\n", record.Path, record.Digest)
			return nil
		}
		if !errors.Is(insErr, storage.ErrDigestExists) {
			return insErr
		}
		// Cannot happen while commits stay single-threaded; kept as a
		// backstop around the uniqueness constraint. Re-read and treat
		// the file as a duplicate of whoever won.
		existing, found, err = e.index.Lookup(ctx, res.digest)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("digest %s missing after constraint violation", res.digest)
		}
	}

	if existing.Path == res.path {
		// File is already canonical; repeat run over an unchanged tree.
		return nil
	}

	if e.dryRun {
		stats.Duplicates++
		stats.BytesSaved += res.size
		fmt.Fprintf(e.out, "File %s can be symlinked to: %s saving %d more bytes.\n", res.path, existing.Path, res.size)
		return nil
	}

	if err := e.linker.Replace(res.path, existing.Path); err != nil {
		stats.LinkErrors++
		e.log.Error().Err(err).
			Str("path", res.path).
			Str("canonical", existing.Path).
			Msg("link replacement failed, duplicate left unlinked")
		return nil
	}

	stats.Duplicates++
	stats.BytesSaved += res.size
	fmt.Fprintf(e.out, "Symlinking %s => %s saving %d more bytes.\n", res.path, existing.Path, res.size)
	return nil
}

func (e *Engine) summarize(stats Stats) {
	saved := humanize.IBytes(uint64(stats.BytesSaved))
	if e.dryRun {
		fmt.Fprintf(e.out, "Total possible savings: %d bytes (%s)\n", stats.BytesSaved, saved)
		return
	}
	fmt.Fprintf(e.out, "Saved: %d bytes (%s)\n", stats.BytesSaved, saved)
}
