// Package hasher computes content digests for candidate files.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// chunkSize bounds memory use per hashed file regardless of file size.
const chunkSize = 4096

// Sum streams the file at path through SHA-256 and returns the lowercase
// hex digest along with the number of bytes hashed. The size comes from
// the stream itself, so it matches exactly the content the digest covers
// even if the file is mutated concurrently.
func Sum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var n int64
	for {
		read, err := f.Read(buf)
		if read > 0 {
			h.Write(buf[:read])
			n += int64(read)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}
