package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	internalcrypto "github.com/cipherkeep/cipherkeep/internal/crypto"
	"github.com/cipherkeep/cipherkeep/internal/domain"
)

type addOptions struct {
	username     string
	url          string
	notes        string
	tags         []string
	passwordFile string
	generate     bool
	length       int
}

// NewAddCommand creates the add command
func NewAddCommand(app *App) *cobra.Command {
	opts := &addOptions{}

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a credential to the vault",
		Long: `Add a credential to the vault.

The password is prompted for unless it is read from a file (--password-file, "-"
for stdin) or generated (--generate).

Example:
  cipherkeep add GitHub --username octocat --url https://github.com
  cipherkeep add "Staging DB" --username admin --generate --length 24 --tags work,db
  echo -n 's3cret' | cipherkeep add Router --username admin --password-file -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, app, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.username, "username", "", "Username/email")
	cmd.Flags().StringVar(&opts.url, "url", "", "Associated URL")
	cmd.Flags().StringVar(&opts.notes, "notes", "", "Additional notes")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Comma-separated tags")
	cmd.Flags().StringVar(&opts.passwordFile, "password-file", "", "Read password from file")
	cmd.Flags().BoolVar(&opts.generate, "generate", false, "Generate a random password")
	cmd.Flags().IntVar(&opts.length, "length", internalcrypto.DefaultLength, "Length of the generated password")
	cmd.MarkFlagsMutuallyExclusive("password-file", "generate")

	return cmd
}

func runAdd(cmd *cobra.Command, app *App, title string, opts *addOptions) (err error) {
	ctx := cmd.Context()
	m, err := app.unlock(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	password, err := readNewPassword(app, opts.passwordFile, opts.generate, opts.length)
	if err != nil {
		return err
	}

	username := opts.username
	if username == "" {
		username, err = app.prompter().Input("Username: ")
		if err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}
	}

	cred, err := m.AddCredential(ctx, domain.NewCredential{
		Title:    title,
		URL:      opts.url,
		Username: username,
		Password: password,
		Notes:    opts.notes,
		Tags:     opts.tags,
	})
	if err != nil {
		return fmt.Errorf("failed to add credential: %w", err)
	}

	app.logger().Debug("credential added", "id", cred.ID)
	return writeOutput(cmd.OutOrStdout(), "✓ Credential '%s' added (%s)\n", cred.Title, cred.ID)
}

// readNewPassword reads a password from a file, generates one, or prompts for it
func readNewPassword(app *App, file string, generate bool, length int) (string, error) {
	switch {
	case generate:
		opts := internalcrypto.DefaultOptions()
		opts.Length = length
		password, err := internalcrypto.GeneratePassword(opts)
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		return password, nil
	case file != "":
		var data []byte
		var err error
		if file == "-" {
			in := app.In
			if in == nil {
				in = os.Stdin
			}
			data, err = io.ReadAll(in)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		password := strings.TrimRight(string(data), "\r\n")
		if password == "" {
			return "", fmt.Errorf("password cannot be empty")
		}
		return password, nil
	}

	password, err := PromptPasswordConfirm(app.prompter(), "Password: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}
