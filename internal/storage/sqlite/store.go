package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dupelink/internal/storage"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store persists the content index inside a SQLite database. Digest
// uniqueness is enforced by the schema, not by convention.
type Store struct {
	db *sql.DB
}

// Open initializes (or reuses) a SQLite database at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS files (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        filename TEXT NOT NULL,
        path TEXT NOT NULL,
        digest TEXT NOT NULL UNIQUE
);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

// Lookup returns the canonical record for a digest, if one exists. It has
// no side effects.
func (s *Store) Lookup(ctx context.Context, digest string) (storage.FileRecord, bool, error) {
	var record storage.FileRecord
	err := s.db.QueryRowContext(ctx, `
SELECT id, filename, path, digest FROM files WHERE digest = ?
`, digest).Scan(&record.ID, &record.Filename, &record.Path, &record.Digest)

	if errors.Is(err, sql.ErrNoRows) {
		return storage.FileRecord{}, false, nil
	}
	if err != nil {
		return storage.FileRecord{}, false, fmt.Errorf("lookup digest %s: %w", digest, err)
	}

	return record, true, nil
}

// Insert persists a new canonical record for a digest and returns it with
// its assigned id. Once Insert returns, the record survives restarts. If
// the digest is already indexed the error wraps storage.ErrDigestExists.
func (s *Store) Insert(ctx context.Context, path, digest string) (storage.FileRecord, error) {
	filename := filepath.Base(path)

	result, err := s.db.ExecContext(ctx, `
INSERT INTO files(filename, path, digest) VALUES(?, ?, ?)
`, filename, path, digest)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.FileRecord{}, fmt.Errorf("insert record %s: %w", path, storage.ErrDigestExists)
		}
		return storage.FileRecord{}, fmt.Errorf("insert record %s: %w", path, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return storage.FileRecord{}, fmt.Errorf("read inserted id for %s: %w", path, err)
	}

	return storage.FileRecord{
		ID:       id,
		Filename: filename,
		Path:     path,
		Digest:   digest,
	}, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || serr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
