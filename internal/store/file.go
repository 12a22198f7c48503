package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileLockTimeout = 2 * time.Second

// FileStore keeps one JSON document per key in a directory. The directory is held under
// a FileLock for the lifetime of the store and every write is atomic.
type FileStore struct {
	mu   sync.RWMutex
	dir  string
	lock *FileLock
}

// OpenFile opens or creates a file store in dir
func OpenFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := NewFileLock(filepath.Join(dir, "store"))
	if err := lock.Lock(fileLockTimeout); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, ErrStoreLocked
		}
		return nil, err
	}

	return &FileStore{dir: dir, lock: lock}, nil
}

func (fs *FileStore) pathFor(key string) string {
	return filepath.Join(fs.dir, key+".json")
}

func (fs *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if fs.lock == nil {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(fs.pathFor(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (fs *FileStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lock == nil {
		return ErrStoreClosed
	}

	if err := AtomicWriteFile(fs.pathFor(key), data); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

func (fs *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lock == nil {
		return ErrStoreClosed
	}

	if err := os.Remove(fs.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Close releases the directory lock
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lock == nil {
		return nil
	}
	err := fs.lock.Unlock()
	fs.lock = nil
	return err
}
