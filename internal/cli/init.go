package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/session"
)

// NewInitCommand creates the init command
func NewInitCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Long: `Create a new vault protected by a master password.

The master password must be at least 12 characters long and include a lowercase
letter, an uppercase letter, a digit and a symbol. It is never stored; losing it
means losing the vault.

Example:
  cipherkeep init
  cipherkeep init --vault /path/to/vault.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, app)
		},
	}
}

func runInit(cmd *cobra.Command, app *App) (err error) {
	ctx := cmd.Context()
	m, err := app.newManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	if m.State() != session.StateOnboarding {
		return fmt.Errorf("vault already exists at %s", app.Config.VaultPath)
	}

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "Creating new vault...\nChoose a strong master password. It encrypts all your data.\n"); err != nil {
		return err
	}
	password, err := PromptPasswordConfirm(app.prompter(), "Master password: ")
	if err != nil {
		return err
	}

	if err := m.CreateVault(ctx, password); err != nil {
		var creation *session.VaultCreationError
		if errors.As(err, &creation) && len(creation.Violations) > 0 {
			for _, v := range creation.Violations {
				_ = writeOutput(out, "  ✗ Master password %s\n", v.Message)
			}
		}
		return err
	}

	return writeOutput(out, "✓ Vault created at %s\n", app.Config.VaultPath)
}
