package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/crypto"
)

// NewRotatePasswordCommand creates a new command for rotating passwords
func NewRotatePasswordCommand(app *App) *cobra.Command {
	var (
		length     int
		copyToClip bool
		show       bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <id-or-title>",
		Short: "Regenerate the password of an existing credential",
		Long: `Generates a new random password for a credential and stores it, keeping the
rest of the credential and its history. The creation time is preserved and the
update time moves to now.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotatePassword(cmd, app, args[0], length, copyToClip, show)
		},
	}

	cmd.Flags().IntVarP(&length, "length", "l", 20, "Length of the new password")
	cmd.Flags().BoolVarP(&copyToClip, "copy", "c", false, "Copy password to clipboard")
	cmd.Flags().BoolVarP(&show, "show", "s", false, "Show the new password in output")
	cmd.MarkFlagsMutuallyExclusive("copy", "show")

	return cmd
}

func runRotatePassword(cmd *cobra.Command, app *App, ref string, length int, copyToClip, show bool) (err error) {
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

	opts := crypto.DefaultOptions()
	opts.Length = length
	cred.Password, err = crypto.GeneratePassword(opts)
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	updated, err := m.UpdateCredential(ctx, *cred)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	out := cmd.OutOrStdout()
	switch {
	case show:
		return writeOutput(out, "%s\n", updated.Password)
	case copyToClip:
		settings, err := m.Settings()
		if err != nil {
			return err
		}
		ttl := time.Duration(settings.ClipboardClearSeconds) * time.Second
		if err := app.clipboard().CopyWithTimeout(ctx, updated.Password, ttl); err != nil {
			return err
		}
		if err := writeOutput(out, "✓ Password rotated and copied to clipboard (clears in %s)\n", ttl); err != nil {
			return err
		}
		m.Close()
		app.clipboard().Wait()
		return nil
	}
	return writeOutput(out, "✓ Password for '%s' rotated successfully\n", updated.Title)
}
