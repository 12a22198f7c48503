package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// BlobsBucket holds every stored blob keyed by name
var BlobsBucket = []byte("blobs")

// BoltStore implements BlobStore on a single bbolt database file
type BoltStore struct {
	mu   sync.RWMutex
	db   *bbolt.DB
	path string
}

// OpenBolt opens or creates the database at path with owner-only permissions
func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("failed to open store database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BlobsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create blobs bucket: %w", err)
	}

	if err := EnsureFilePermissions(path); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to secure store file: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file location
func (bs *BoltStore) Path() string {
	return bs.path
}

// Get returns a copy of the blob stored under key
func (bs *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.db == nil {
		return nil, ErrStoreClosed
	}

	var out []byte
	err := bs.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(BlobsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put replaces the blob stored under key in a single transaction
func (bs *BoltStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.db == nil {
		return ErrStoreClosed
	}

	if err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BlobsBucket).Put([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (bs *BoltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	if bs.db == nil {
		return ErrStoreClosed
	}

	if err := bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(BlobsBucket).Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Close releases the database. Closing twice is a no-op.
func (bs *BoltStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.db == nil {
		return nil
	}
	err := bs.db.Close()
	bs.db = nil
	if err != nil {
		return fmt.Errorf("failed to close store database: %w", err)
	}
	return nil
}
