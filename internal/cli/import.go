package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/session"
	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// NewImportCommand creates the import command
func NewImportCommand(app *App) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore the vault from an encrypted backup",
		Long: `Restore a backup written by 'cipherkeep export'. The backup's master password
is checked before anything is written. An existing vault is only replaced with
--force.

Example:
  cipherkeep import ~/backups/cipherkeep-2026-03.json
  cipherkeep import old.json --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, app, args[0], force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing vault")
	return cmd
}

func runImport(ctx context.Context, cmd *cobra.Command, app *App, path string, force bool) (err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	blob, err := vault.UnmarshalBlob(data)
	if err != nil {
		return fmt.Errorf("not a vault backup: %w", err)
	}

	s, err := app.openStore()
	if err != nil {
		return fmt.Errorf("failed to open vault storage: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = s.Get(ctx, store.VaultKey)
	switch {
	case err == nil && !force:
		return fmt.Errorf("a vault already exists at %s (use --force to replace it)", app.Config.VaultPath)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("failed to read vault: %w", err)
	}

	password, err := app.prompter().Password("Backup master password: ")
	if err != nil {
		return err
	}
	plaintext, err := vault.NewCipher().Decrypt(blob, password)
	if err != nil {
		return session.ErrInvalidPassword
	}
	vault.Zeroize(plaintext)

	if err := s.Put(ctx, store.VaultKey, data); err != nil {
		return &session.PersistenceError{Err: err}
	}
	return writeOutput(cmd.OutOrStdout(), "✓ Vault restored from %s\n", path)
}
