package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// DefaultChunkSize is the read size used when hashing file contents.
const DefaultChunkSize = 4096

// NewHasher returns the hash used for content fingerprints.
func NewHasher() hash.Hash {
	return sha256.New()
}

// HashReader returns the hex SHA-256 of everything read from r, reading chunkSize bytes at a time.
func HashReader(r io.Reader, chunkSize int) (string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	h := NewHasher()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, onlyReader{r}, buf); err != nil {
		return "", fmt.Errorf("read content for hashing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return HashReader(f, DefaultChunkSize)
}

// onlyReader hides WriterTo so io.CopyBuffer honours the chunk size.
type onlyReader struct {
	io.Reader
}
