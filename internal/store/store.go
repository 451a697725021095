// Package store provides the crash-safe write primitive used by all
// persisted state files.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrWriteFailed indicates the atomic write could not complete
	ErrWriteFailed = errors.New("atomic write failed")
)

// WriteFileAtomic leaves the target file either in its prior complete
// state or its new complete state, never truncated or partial. It
// writes a uniquely-named sibling temp file, syncs it, then renames it
// over the target in a single step. On any failure after the temp file
// exists it is removed best-effort and the error is returned; the
// target stays untouched.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// ReadFile reads the target file. A missing file is not an error; it
// returns (nil, false, nil) so callers can start from empty state.
func ReadFile(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
