package engine_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"dupelink/internal/engine"
	"dupelink/internal/scanner"
	"dupelink/internal/storage"
	"dupelink/internal/storage/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newScanner(t *testing.T, root string) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(root, []string{".bin"})
	require.NoError(t, err)
	return s
}

// runPass executes one engine pass over root with a fresh store handle on
// dbPath, returning the stats and captured report output.
func runPass(t *testing.T, root, dbPath string, dryRun bool, workers int) (engine.Stats, string) {
	t.Helper()

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	var out bytes.Buffer
	eng := engine.New(store, engine.NewLinkReplacer(), engine.Options{
		Workers: workers,
		DryRun:  dryRun,
		Out:     &out,
	})

	stats, err := eng.Run(context.Background(), newScanner(t, root))
	require.NoError(t, err)
	return stats, out.String()
}

func isSymlinkTo(t *testing.T, path, target string) bool {
	t.Helper()
	info, err := os.Lstat(path)
	require.NoError(t, err)
	if info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	got, err := os.Readlink(path)
	require.NoError(t, err)
	return got == target
}

// The canonical scenario: a.bin and b.bin share content, c.bin differs.
func setupScenario(t *testing.T) (root, dbPath string) {
	t.Helper()
	root = t.TempDir()
	writeFile(t, filepath.Join(root, "a.bin"), "identical content")
	writeFile(t, filepath.Join(root, "b.bin"), "identical content")
	writeFile(t, filepath.Join(root, "c.bin"), "different content")
	return root, filepath.Join(t.TempDir(), "index.sqlite3")
}

func TestRun_LiveLinksDuplicates(t *testing.T) {
	root, dbPath := setupScenario(t)

	// A single worker keeps commit order equal to traversal order, so
	// a.bin is deterministically canonical.
	stats, out := runPass(t, root, dbPath, false, 1)

	assert.Equal(t, int64(3), stats.Scanned)
	assert.Equal(t, int64(2), stats.NewFiles)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(len("identical content")), stats.BytesSaved)
	assert.Zero(t, stats.HashErrors)
	assert.Zero(t, stats.LinkErrors)

	a := filepath.Join(root, "a.bin")
	assert.True(t, isSymlinkTo(t, filepath.Join(root, "b.bin"), a))
	for _, name := range []string{"a.bin", "c.bin"} {
		info, err := os.Lstat(filepath.Join(root, name))
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular(), name)
	}

	assert.Contains(t, out, "Symlinking")
	assert.Contains(t, out, fmt.Sprintf("Saved: %d bytes", stats.BytesSaved))

	// Index gained exactly the two digests.
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	for _, content := range []string{"identical content", "different content"} {
		_, found, lookupErr := store.Lookup(context.Background(), digestOf(content))
		require.NoError(t, lookupErr)
		assert.True(t, found)
	}
}

func TestRun_DryRunRegistersWithoutLinking(t *testing.T) {
	root, dbPath := setupScenario(t)

	stats, out := runPass(t, root, dbPath, true, 1)

	assert.Equal(t, int64(2), stats.NewFiles)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(len("identical content")), stats.BytesSaved)

	// No file was removed or linked.
	for _, name := range []string{"a.bin", "b.bin", "c.bin"} {
		info, err := os.Lstat(filepath.Join(root, name))
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular(), name)
	}

	assert.Contains(t, out, "can be symlinked to")
	assert.Contains(t, out, fmt.Sprintf("Total possible savings: %d bytes", stats.BytesSaved))

	// The index contents match what a live run would have committed.
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	for _, content := range []string{"identical content", "different content"} {
		_, found, lookupErr := store.Lookup(context.Background(), digestOf(content))
		require.NoError(t, lookupErr)
		assert.True(t, found)
	}
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	root, dbPath := setupScenario(t)

	runPass(t, root, dbPath, false, 1)
	stats, _ := runPass(t, root, dbPath, false, 1)

	// b.bin is a symlink now, so only two candidates remain and nothing
	// new is registered, linked, or saved.
	assert.Equal(t, int64(2), stats.Scanned)
	assert.Zero(t, stats.NewFiles)
	assert.Zero(t, stats.Duplicates)
	assert.Zero(t, stats.BytesSaved)
}

func TestRun_DistinctFilesAllRegistered(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("f%d.bin", i)), fmt.Sprintf("content %d", i))
	}
	dbPath := filepath.Join(t.TempDir(), "index.sqlite3")

	stats, _ := runPass(t, root, dbPath, false, 2)

	assert.Equal(t, int64(3), stats.NewFiles)
	assert.Zero(t, stats.Duplicates)
	assert.Zero(t, stats.BytesSaved)

	for i := 0; i < 3; i++ {
		info, err := os.Lstat(filepath.Join(root, fmt.Sprintf("f%d.bin", i)))
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular())
	}
}

func TestRun_ConcurrentIdenticalFiles(t *testing.T) {
	root := t.TempDir()
	const fileCount = 8
	for i := 0; i < fileCount; i++ {
		writeFile(t, filepath.Join(root, fmt.Sprintf("f%d.bin", i)), "same bytes everywhere")
	}
	dbPath := filepath.Join(t.TempDir(), "index.sqlite3")

	stats, _ := runPass(t, root, dbPath, false, 4)

	// Exactly one file became canonical; which one is scheduling
	// dependent, but never more than one.
	assert.Equal(t, int64(1), stats.NewFiles)
	assert.Equal(t, int64(fileCount-1), stats.Duplicates)
	assert.Equal(t, int64((fileCount-1)*len("same bytes everywhere")), stats.BytesSaved)
	assert.Zero(t, stats.LinkErrors)

	var regular []string
	var linkTargets []string
	for i := 0; i < fileCount; i++ {
		path := filepath.Join(root, fmt.Sprintf("f%d.bin", i))
		info, err := os.Lstat(path)
		require.NoError(t, err)
		if info.Mode().IsRegular() {
			regular = append(regular, path)
			continue
		}
		require.NotZero(t, info.Mode()&os.ModeSymlink)
		target, err := os.Readlink(path)
		require.NoError(t, err)
		linkTargets = append(linkTargets, target)
	}

	require.Len(t, regular, 1)
	require.Len(t, linkTargets, fileCount-1)
	for _, target := range linkTargets {
		assert.Equal(t, regular[0], target)
	}

	// The uniqueness constraint held: a single record for the digest.
	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	record, found, err := store.Lookup(context.Background(), digestOf("same bytes everywhere"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, regular[0], record.Path)
}

// fakeWalker feeds a fixed path list, bypassing the filesystem scanner.
type fakeWalker struct {
	paths []string
}

func (f *fakeWalker) Walk(ctx context.Context, fn func(path string, size int64) error) error {
	for _, path := range f.paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(path, 0); err != nil {
			return err
		}
	}
	return nil
}

// memIndex is an in-memory Index used to drive engine error paths.
type memIndex struct {
	records   map[string]storage.FileRecord
	lookupErr error
	nextID    int64
}

func newMemIndex() *memIndex {
	return &memIndex{records: make(map[string]storage.FileRecord)}
}

func (m *memIndex) Lookup(_ context.Context, digest string) (storage.FileRecord, bool, error) {
	if m.lookupErr != nil {
		return storage.FileRecord{}, false, m.lookupErr
	}
	record, ok := m.records[digest]
	return record, ok, nil
}

func (m *memIndex) Insert(_ context.Context, path, digest string) (storage.FileRecord, error) {
	if _, ok := m.records[digest]; ok {
		return storage.FileRecord{}, storage.ErrDigestExists
	}
	m.nextID++
	record := storage.FileRecord{
		ID:       m.nextID,
		Filename: filepath.Base(path),
		Path:     path,
		Digest:   digest,
	}
	m.records[digest] = record
	return record, nil
}

type failingLinker struct {
	calls int
}

func (f *failingLinker) Replace(_, _ string) error {
	f.calls++
	return errors.New("link refused")
}

func TestRun_HashErrorSkipsFile(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "real.bin")
	writeFile(t, real, "actual content")

	var out bytes.Buffer
	eng := engine.New(newMemIndex(), engine.NewLinkReplacer(), engine.Options{Workers: 2, Out: &out})

	walker := &fakeWalker{paths: []string{filepath.Join(dir, "vanished.bin"), real}}
	stats, err := eng.Run(context.Background(), walker)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.Scanned)
	assert.Equal(t, int64(1), stats.HashErrors)
	assert.Equal(t, int64(1), stats.NewFiles)
}

func TestRun_IndexErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.bin"), "content")

	idx := newMemIndex()
	idx.lookupErr = errors.New("index store corrupt")

	eng := engine.New(idx, engine.NewLinkReplacer(), engine.Options{Workers: 1, Out: new(bytes.Buffer)})
	_, err := eng.Run(context.Background(), newScanner(t, dir))
	require.Error(t, err)
	assert.ErrorContains(t, err, "index store corrupt")
}

func TestRun_LinkErrorDoesNotAbort(t *testing.T) {
	root, _ := setupScenario(t)

	linker := &failingLinker{}
	var out bytes.Buffer
	eng := engine.New(newMemIndex(), linker, engine.Options{Workers: 1, Out: &out})

	stats, err := eng.Run(context.Background(), newScanner(t, root))
	require.NoError(t, err)

	assert.Equal(t, 1, linker.calls)
	assert.Equal(t, int64(1), stats.LinkErrors)
	// A failed link is never counted as savings.
	assert.Zero(t, stats.Duplicates)
	assert.Zero(t, stats.BytesSaved)
	// The unrelated files were still registered.
	assert.Equal(t, int64(2), stats.NewFiles)

	// The duplicate file is untouched.
	info, statErr := os.Lstat(filepath.Join(root, "b.bin"))
	require.NoError(t, statErr)
	assert.True(t, info.Mode().IsRegular())
}
