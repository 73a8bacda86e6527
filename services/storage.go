package services

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/cppla/filededup/utils"
)

const tempPrefix = ".tmp-"

// ErrTooLarge is returned when a stream exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// SavedTemp describes a stream written to a temporary file.
type SavedTemp struct {
	Path string
	Size int64
	Hash string
}

// DiskStore keeps file bytes in a single flat directory.
type DiskStore struct {
	dir string
}

// NewDiskStore creates dir if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *DiskStore) Dir() string { return s.dir }

// IsTempName reports whether name would be treated as an abandoned temp file by SweepTemp.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// Path returns where a file named name lives in the store.
func (s *DiskStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// SaveTemp streams r into a uniquely named temp file, hashing as it writes.
// A limit <= 0 disables the size check.
func (s *DiskStore) SaveTemp(r io.Reader, limit int64) (*SavedTemp, error) {
	tmpPath := filepath.Join(s.dir, tempPrefix+uuid.New().String())
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	src := r
	if limit > 0 {
		src = &io.LimitedReader{R: r, N: limit + 1}
	}
	hasher := utils.NewHasher()
	buf := make([]byte, utils.DefaultChunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(out, hasher), src, buf)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if limit > 0 && written > limit {
		_ = os.Remove(tmpPath)
		return nil, ErrTooLarge
	}

	return &SavedTemp{Path: tmpPath, Size: written, Hash: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// Promote moves a temp file to its permanent name and returns the final path.
// An existing file with the same name is replaced.
func (s *DiskStore) Promote(tmpPath, name string) (string, error) {
	final := s.Path(name)
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("move %s into place: %w", name, err)
	}
	return final, nil
}

// Discard removes a temp file, ignoring files that are already gone.
func (s *DiskStore) Discard(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.Sugar.Warnf("discard temp file %s: %v", tmpPath, err)
	}
}

// SweepTemp removes temp files older than maxAge and returns how many were removed.
func (s *DiskStore) SweepTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage directory: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !IsTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// DetectContentType sniffs the MIME type of the file at path.
func DetectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
