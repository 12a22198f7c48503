package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDeleteCommand creates the delete command
func NewDeleteCommand(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id-or-title>",
		Short: "Delete a credential from the vault",
		Long: `Delete a credential permanently.

This action cannot be undone. You will be prompted for confirmation
unless you use the --yes flag.

Example:
  cipherkeep delete old-account
  cipherkeep delete 5f0c... --yes`,
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, app, args[0], yes)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")

	return cmd
}

func runDelete(cmd *cobra.Command, app *App, ref string, yes bool) (err error) {
	ctx := cmd.Context()
	m, err := app.unlock(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	cred, err := findCredential(m, ref)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !yes {
		ok, err := PromptConfirm(app.prompter(), fmt.Sprintf("Delete '%s' (%s)?", cred.Title, cred.Username), false)
		if err != nil {
			return err
		}
		if !ok {
			return writeOutput(out, "Deletion cancelled\n")
		}
	}

	if err := m.DeleteCredential(ctx, cred.ID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return writeOutput(out, "✓ Credential '%s' deleted\n", cred.Title)
}
