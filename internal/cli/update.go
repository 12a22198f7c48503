package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	internalcrypto "github.com/cipherkeep/cipherkeep/internal/crypto"
)

type updateOptions struct {
	title        string
	username     string
	url          string
	notes        string
	tags         []string
	password     bool
	passwordFile string
	generate     bool
	length       int
}

// NewUpdateCommand creates the update command
func NewUpdateCommand(app *App) *cobra.Command {
	opts := &updateOptions{}

	cmd := &cobra.Command{
		Use:   "update <id-or-title>",
		Short: "Update a credential",
		Long: `Update fields of an existing credential. Only the flags given are changed.

Example:
  cipherkeep update GitHub --username new@example.com
  cipherkeep update GitHub --password
  cipherkeep update GitHub --generate --length 32
  cipherkeep update GitHub --tags personal,dev`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, app, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "New title")
	cmd.Flags().StringVar(&opts.username, "username", "", "New username/email")
	cmd.Flags().StringVar(&opts.url, "url", "", "New URL")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "New notes")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "New tags (replaces existing)")
	cmd.Flags().BoolVar(&opts.password, "password", false, "Prompt for a new password")
	cmd.Flags().StringVar(&opts.passwordFile, "password-file", "", "Read the new password from file")
	cmd.Flags().BoolVar(&opts.generate, "generate", false, "Generate a new random password")
	cmd.Flags().IntVar(&opts.length, "length", internalcrypto.DefaultLength, "Length of the generated password")
	cmd.MarkFlagsMutuallyExclusive("password", "password-file", "generate")

	return cmd
}

func runUpdate(cmd *cobra.Command, app *App, ref string, opts *updateOptions) (err error) {
	flags := cmd.Flags()
	changed := false
	for _, name := range []string{"title", "username", "url", "notes", "tags", "password", "password-file", "generate"} {
		changed = changed || flags.Changed(name)
	}
	if !changed {
		return fmt.Errorf("nothing to update, pass at least one field flag")
	}

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

	if flags.Changed("title") {
		cred.Title = opts.title
	}
	if flags.Changed("username") {
		cred.Username = opts.username
	}
	if flags.Changed("url") {
		cred.URL = opts.url
	}
	if flags.Changed("notes") {
		cred.Notes = opts.notes
	}
	if flags.Changed("tags") {
		cred.Tags = opts.tags
	}
	if opts.password || opts.passwordFile != "" || opts.generate {
		cred.Password, err = readNewPassword(app, opts.passwordFile, opts.generate, opts.length)
		if err != nil {
			return err
		}
	}

	updated, err := m.UpdateCredential(ctx, *cred)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return writeOutput(cmd.OutOrStdout(), "✓ Credential '%s' updated\n", updated.Title)
}
