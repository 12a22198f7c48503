// Package store persists the encrypted vault blob. The vault core only ever reads and writes
// a single key; backends decide where the bytes live.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// VaultKey is the storage key of the encrypted vault blob
const VaultKey = "cipherkeep-vault"

// Error variables for blob store operations
var (
	// ErrNotFound is returned when no blob is stored under a key
	ErrNotFound = errors.New("blob not found")
	// ErrStoreClosed is returned when a closed store is used
	ErrStoreClosed = errors.New("store is closed")
	// ErrStoreLocked is returned when the store is held by another process
	ErrStoreLocked = errors.New("store is locked by another process")
	// ErrInvalidKey is returned for an empty or unsafe storage key
	ErrInvalidKey = errors.New("invalid storage key")
)

// BlobStore is the storage collaborator of the vault
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend selects a BlobStore implementation
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendFile   Backend = "file"
	BackendMemory Backend = "memory"
)

// ParseBackend validates a backend name. An empty name selects bolt.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(name); b {
	case "":
		return BackendBolt, nil
	case BackendBolt, BackendFile, BackendMemory:
		return b, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q", name)
	}
}

// Open opens the backend rooted at path. For bolt the path is the database file, for file it
// is the directory holding one JSON document per key. Memory ignores the path.
func Open(backend Backend, path string) (BlobStore, error) {
	switch backend {
	case BackendBolt, "":
		return OpenBolt(path)
	case BackendFile:
		return OpenFile(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func validateKey(key string) error {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// EnsureFilePermissions tightens a file to owner read/write only
func EnsureFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return os.Chmod(path, 0o600)
	}
	return nil
}
