package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/session"
)

// NewPasswdCommand creates the passwd command
func NewPasswdCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password",
		Long: `Re-encrypt the vault under a new master password.

The new password must satisfy the same rules as at vault creation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswd(cmd, app)
		},
	}
}

func runPasswd(cmd *cobra.Command, app *App) (err error) {
	ctx := cmd.Context()
	m, err := app.newManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	if m.State() == session.StateOnboarding {
		return session.ErrVaultNotFound
	}

	p := app.prompter()
	current, err := p.Password("Current master password: ")
	if err != nil {
		return err
	}
	if err := m.Unlock(ctx, current); err != nil {
		return err
	}

	next, err := PromptPasswordConfirm(p, "New master password: ")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := m.ChangePassword(ctx, current, next); err != nil {
		var creation *session.VaultCreationError
		if errors.As(err, &creation) {
			for _, v := range creation.Violations {
				_ = writeOutput(out, "  ✗ Master password %s\n", v.Message)
			}
		}
		return err
	}
	return writeOutput(out, "✓ Master password changed\n")
}
