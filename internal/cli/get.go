package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

type getOptions struct {
	field string
	copy  bool
	show  bool
}

// NewGetCommand creates the get command
func NewGetCommand(app *App) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <id-or-title>",
		Short: "Show a credential",
		Long: `Show a credential, or copy one of its fields to the clipboard.

The password is hidden unless --show is given. --copy copies the selected field
(the password by default) and clears the clipboard after the vault's
clipboard-clear setting.

Example:
  cipherkeep get GitHub
  cipherkeep get GitHub --copy
  cipherkeep get GitHub --field username --copy
  cipherkeep get 5f0c... --show`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, app, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.field, "field", "password", "Field to copy (password|username|url|notes)")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the field to the clipboard")
	cmd.Flags().BoolVar(&opts.show, "show", false, "Show the password in the terminal")

	return cmd
}

func runGet(cmd *cobra.Command, app *App, ref string, opts *getOptions) (err error) {
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

	if !opts.copy {
		if opts.show {
			if err := m.RecordView(ctx, cred.ID, "revealed in terminal"); err != nil {
				return err
			}
			if err := writeOutput(out, "⚠️  WARNING: Displaying password in terminal\n"); err != nil {
				return err
			}
		}
		return writeCredentialDetails(out, cred, opts.show)
	}

	value, sensitive, err := credentialField(cred, opts.field)
	if err != nil {
		return err
	}
	if value == "" {
		return writeOutput(out, "Field '%s' is empty for '%s'\n", opts.field, cred.Title)
	}

	settings, err := m.Settings()
	if err != nil {
		return err
	}
	ttl := time.Duration(settings.ClipboardClearSeconds) * time.Second
	if err := app.clipboard().CopyWithTimeout(ctx, value, ttl); err != nil {
		return err
	}
	if sensitive {
		if err := m.RecordView(ctx, cred.ID, "copied to clipboard"); err != nil {
			return err
		}
		if err := m.RecordUse(ctx, cred.ID); err != nil {
			return err
		}
	}

	msg := fmt.Sprintf("✓ %s for '%s' copied to clipboard", strings.ToUpper(opts.field[:1])+opts.field[1:], cred.Title)
	if ttl > 0 {
		msg += fmt.Sprintf(" (clears in %s)", ttl)
	}
	if err := writeOutput(out, "%s\n", msg); err != nil {
		return err
	}

	// Release the vault while the clipboard timer runs
	m.Close()
	app.clipboard().Wait()
	return nil
}

func credentialField(c *domain.Credential, field string) (value string, sensitive bool, err error) {
	switch strings.ToLower(field) {
	case "password", "secret":
		return c.Password, true, nil
	case "username", "user":
		return c.Username, false, nil
	case "url":
		return c.URL, false, nil
	case "notes":
		return c.Notes, false, nil
	}
	return "", false, fmt.Errorf("invalid field: %s (valid: password, username, url, notes)", field)
}
