package engine

import (
	"fmt"
	"os"

	"dupelink/internal/logging"

	"github.com/rs/zerolog"
)

// tmpSuffix is appended to a duplicate's path while the replacement
// symlink is staged next to it.
const tmpSuffix = ".dupelink-tmp"

// LinkReplacer swaps a duplicate file for a symbolic link to its canonical
// copy. The link is created first at a temporary sibling name and then
// renamed over the duplicate, so a failure at any step leaves the
// duplicate file intact instead of deleted without a link.
type LinkReplacer struct {
	log zerolog.Logger
}

// NewLinkReplacer constructs a LinkReplacer operating on the real
// filesystem.
func NewLinkReplacer() *LinkReplacer {
	return &LinkReplacer{log: logging.GetLogger("linker")}
}

// Replace removes the file at duplicate and leaves a symlink to canonical
// in its place. The duplicate must still be a regular file when Replace
// runs; anything else means the tree changed underneath us and the file
// is left alone.
func (l *LinkReplacer) Replace(duplicate, canonical string) error {
	info, err := os.Lstat(duplicate)
	if err != nil {
		return fmt.Errorf("stat duplicate %s: %w", duplicate, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("duplicate %s is no longer a regular file", duplicate)
	}

	tmp := duplicate + tmpSuffix
	// A stale staging link from an interrupted run would block Symlink.
	_ = os.Remove(tmp)

	if err := os.Symlink(canonical, tmp); err != nil {
		return fmt.Errorf("stage symlink for %s: %w", duplicate, err)
	}

	if err := os.Rename(tmp, duplicate); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s with symlink: %w", duplicate, err)
	}

	l.log.Debug().Str("path", duplicate).Str("canonical", canonical).Msg("replaced duplicate with symlink")
	return nil
}
