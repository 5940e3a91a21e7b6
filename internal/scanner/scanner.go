// Package scanner enumerates candidate files for deduplication.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dupelink/internal/logging"

	"github.com/rs/zerolog"
)

// Scanner walks a directory tree and yields regular files whose extension
// matches the configured set. Symlinks and empty files are never yielded.
type Scanner struct {
	root string
	exts map[string]struct{}
	log  zerolog.Logger
}

// New constructs a Scanner for the given root directory and extension set.
// Extension matching is exact and case-sensitive; entries without a
// leading dot get one.
func New(root string, extensions []string) (*Scanner, error) {
	if root == "" {
		return nil, errors.New("scan root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root %q: %w", root, err)
	}

	if len(extensions) == 0 {
		return nil, errors.New("at least one extension is required")
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		if ext == "" {
			continue
		}
		if ext[0] != '.' {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	return &Scanner{
		root: filepath.Clean(abs),
		exts: exts,
		log:  logging.GetLogger("scanner"),
	}, nil
}

// Walk traverses the tree rooted at the scan root and calls fn once per
// candidate file with its absolute path and size. Unreadable directories
// are logged and their subtrees skipped so one bad branch cannot abort
// the pass. The walk stops early if fn returns an error or the context
// is cancelled. The root itself must be a readable directory.
func (s *Scanner) Walk(ctx context.Context, fn func(path string, size int64) error) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scan root %s is not a directory", s.root)
	}

	return s.walkDir(ctx, s.root, fn)
}

func (s *Scanner) walkDir(ctx context.Context, dir string, fn func(path string, size int64) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.log.Warn().Err(err).Str("path", dir).Msg("skipping unreadable directory")
		return nil
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Symlinks are skipped before any stat so dangling links and
		// linked directories are never followed.
		if entry.Type()&fs.ModeSymlink != 0 {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if err := s.walkDir(ctx, path, fn); err != nil {
				return err
			}
			continue
		}

		if !entry.Type().IsRegular() {
			continue
		}

		if _, ok := s.exts[filepath.Ext(entry.Name())]; !ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("skipping unreadable file")
			continue
		}
		if info.Size() == 0 {
			continue
		}

		if err := fn(path, info.Size()); err != nil {
			return err
		}
	}

	return nil
}
