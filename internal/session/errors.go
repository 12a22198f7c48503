package session

import (
	"errors"
	"fmt"

	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// Error variables for vault session operations
var (
	// ErrInvalidState is returned when an operation is not allowed in the current state
	ErrInvalidState = errors.New("operation not allowed in current vault state")
	// ErrVaultLocked is returned when a vault operation requires an unlocked vault
	ErrVaultLocked = errors.New("vault is locked")
	// ErrVaultNotFound is returned when no encrypted vault has been persisted yet
	ErrVaultNotFound = errors.New("vault not found")
	// ErrInvalidPassword never says whether the password or the blob was at fault
	ErrInvalidPassword = errors.New("invalid password or corrupted vault")
	// ErrCredentialNotFound is returned for an unknown credential id
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrPersistence is matched by every PersistenceError
	ErrPersistence = errors.New("failed to save changes")
)

// PersistenceError reports that an encrypted vault could not be written. The session is
// locked by the time the caller sees it.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// VaultCreationError is returned by CreateVault when the password fails policy or the new
// vault could not be persisted.
type VaultCreationError struct {
	Violations []vault.ValidationError
	Err        error
}

func (e *VaultCreationError) Error() string {
	if len(e.Violations) > 0 {
		return "master password " + vault.JoinValidationErrors(e.Violations)
	}
	return fmt.Sprintf("failed to create vault: %v", e.Err)
}

func (e *VaultCreationError) Unwrap() error {
	return e.Err
}
