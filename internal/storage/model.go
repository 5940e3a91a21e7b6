package storage

import "errors"

// FileRecord is the canonical entry persisted for a content digest. The
// index holds at most one record per digest; the recorded path is the
// file every later duplicate of that digest gets linked to.
type FileRecord struct {
	ID       int64
	Filename string
	Path     string
	Digest   string
}

// ErrDigestExists is returned by Insert when the index already holds a
// record for the digest.
var ErrDigestExists = errors.New("digest already indexed")
