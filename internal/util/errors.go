// Package util maps command errors to process exit codes.
package util

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cipherkeep/cipherkeep/internal/network"
	"github.com/cipherkeep/cipherkeep/internal/session"
	"github.com/cipherkeep/cipherkeep/internal/store"
)

// Exit codes
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalidInput = 2
	ExitVaultLocked  = 3
	ExitIntegrityErr = 4
	ExitNetwork      = 5
)

// ErrInvalidInput marks errors caused by bad flags or arguments
var ErrInvalidInput = errors.New("invalid input")

// ExitCode picks the exit code for err
func ExitCode(err error) int {
	var creation *session.VaultCreationError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidInput):
		return ExitInvalidInput
	case errors.As(err, &creation) && len(creation.Violations) > 0:
		return ExitInvalidInput
	case errors.Is(err, session.ErrVaultLocked), errors.Is(err, store.ErrStoreLocked),
		errors.Is(err, session.ErrInvalidPassword):
		return ExitVaultLocked
	case errors.Is(err, session.ErrPersistence):
		return ExitIntegrityErr
	case errors.Is(err, network.ErrPeerUnavailable), errors.Is(err, network.ErrNotRunning):
		return ExitNetwork
	default:
		return ExitError
	}
}

// Hint returns a follow-up suggestion for the user, or an empty string
func Hint(err error) string {
	switch {
	case errors.Is(err, store.ErrStoreLocked):
		return "Another cipherkeep process holds the vault. Stop it and retry."
	case errors.Is(err, session.ErrVaultNotFound):
		return "Run 'cipherkeep init' to create a vault."
	case errors.Is(err, session.ErrPersistence):
		return "The vault was locked because the last change could not be saved."
	case errors.Is(err, network.ErrPeerUnavailable):
		return "Run 'cipherkeep peers' to see who is online."
	}
	return ""
}

// Report prints err and its hint to w and returns the exit code
func Report(w io.Writer, err error) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := Hint(err); hint != "" {
		fmt.Fprintln(w, hint)
	}
	return ExitCode(err)
}

// HandleError reports err on stderr and exits with the matching code
func HandleError(err error) {
	if err == nil {
		return
	}
	os.Exit(Report(os.Stderr, err))
}

// InvalidInput wraps a formatted message with ErrInvalidInput
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
