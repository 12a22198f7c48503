package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AtomicWriter writes to a temp file in the target directory and renames it over the
// target on Commit, so readers only ever observe the old or the new content.
type AtomicWriter struct {
	targetPath string
	tempFile   *os.File
}

// NewAtomicWriter creates a writer for targetPath
func NewAtomicWriter(targetPath string) (*AtomicWriter, error) {
	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)
	if filepath.Clean(dir) != dir {
		return nil, fmt.Errorf("invalid directory path %q", dir)
	}
	if strings.Contains(base, "..") {
		return nil, fmt.Errorf("invalid filename %q", base)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// CreateTemp opens with O_EXCL and mode 0600
	tempFile, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &AtomicWriter{targetPath: targetPath, tempFile: tempFile}, nil
}

// Write writes data to the temporary file
func (aw *AtomicWriter) Write(data []byte) (int, error) {
	if aw.tempFile == nil {
		return 0, errors.New("writer is closed")
	}
	n, err := aw.tempFile.Write(data)
	if err != nil {
		return n, errors.Join(err, aw.Abort())
	}
	return n, nil
}

// Commit syncs the temp file and renames it over the target
func (aw *AtomicWriter) Commit() error {
	if aw.tempFile == nil {
		return errors.New("writer is closed")
	}
	tempPath := aw.tempFile.Name()

	if err := aw.tempFile.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync temp file: %w", err), aw.Abort())
	}
	if err := aw.tempFile.Close(); err != nil {
		aw.tempFile = nil
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	aw.tempFile = nil

	if err := os.Rename(tempPath, aw.targetPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	syncDir(filepath.Dir(aw.targetPath))
	return nil
}

// Abort discards the temp file. Calling it after Commit is a no-op.
func (aw *AtomicWriter) Abort() error {
	if aw.tempFile == nil {
		return nil
	}
	tempPath := aw.tempFile.Name()
	err := aw.tempFile.Close()
	aw.tempFile = nil
	if removeErr := os.Remove(tempPath); removeErr != nil && !os.IsNotExist(removeErr) {
		err = errors.Join(err, removeErr)
	}
	return err
}

// AtomicWriteFile writes data to path atomically
func AtomicWriteFile(path string, data []byte) error {
	writer, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Commit()
}

// syncDir flushes the rename to disk where the platform allows it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
