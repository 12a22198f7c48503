package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/session"
	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// NewExportCommand creates the export command
func NewExportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Back up the encrypted vault",
		Long: `Write the encrypted vault to a file. The backup stays encrypted under the
master password and can be restored with 'cipherkeep import'.

Example:
  cipherkeep export ~/backups/cipherkeep-2026-03.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := app.openStore()
			if err != nil {
				return fmt.Errorf("failed to open vault storage: %w", err)
			}
			defer func() {
				if cerr := s.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			data, err := s.Get(cmd.Context(), store.VaultKey)
			if errors.Is(err, store.ErrNotFound) {
				return session.ErrVaultNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to read vault: %w", err)
			}
			if _, err := vault.UnmarshalBlob(data); err != nil {
				return fmt.Errorf("stored vault is unreadable: %w", err)
			}

			if err := store.AtomicWriteFile(args[0], data); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), "✓ Encrypted vault exported to %s\n", args[0])
		},
	}
}
