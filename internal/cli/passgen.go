package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalcrypto "github.com/cipherkeep/cipherkeep/internal/crypto"
	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

type passgenOptions struct {
	length    int
	words     int
	noUpper   bool
	noDigits  bool
	noSymbols bool
	copy      bool
	ttl       int
}

// NewPassgenCommand creates the passgen command
func NewPassgenCommand(app *App) *cobra.Command {
	opts := &passgenOptions{
		length: internalcrypto.DefaultLength,
		ttl:    domain.DefaultSettings().ClipboardClearSeconds,
	}

	cmd := &cobra.Command{
		Use:   "passgen",
		Short: "Generate secure passwords or passphrases",
		Long: `Generate a random password or a Diceware-style passphrase.

Passwords always contain lowercase letters; uppercase letters, digits and
symbols are included unless disabled.

Example:
  cipherkeep passgen
  cipherkeep passgen --length 32 --no-symbols
  cipherkeep passgen --words 5 --copy`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPassgen(cmd, app, opts)
		},
	}

	cmd.Flags().IntVar(&opts.length, "length", opts.length, "Length of generated password (characters)")
	cmd.Flags().IntVar(&opts.words, "words", 0, "Number of words for Diceware passphrase")
	cmd.Flags().BoolVar(&opts.noUpper, "no-upper", false, "Leave out uppercase letters")
	cmd.Flags().BoolVar(&opts.noDigits, "no-digits", false, "Leave out digits")
	cmd.Flags().BoolVar(&opts.noSymbols, "no-symbols", false, "Leave out symbols")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the generated value to the clipboard")
	cmd.Flags().IntVar(&opts.ttl, "ttl", opts.ttl, "Clipboard clear timeout in seconds (0 = never)")

	return cmd
}

func runPassgen(cmd *cobra.Command, app *App, opts *passgenOptions) error {
	var secret string

	if cmd.Flags().Changed("words") {
		for _, name := range []string{"length", "no-upper", "no-digits", "no-symbols"} {
			if cmd.Flags().Changed(name) {
				return fmt.Errorf("--words cannot be used with --%s", name)
			}
		}
		if opts.words <= 0 {
			return fmt.Errorf("--words must be positive")
		}
		words, err := internalcrypto.GenerateDiceware(opts.words)
		if err != nil {
			return fmt.Errorf("failed to generate passphrase: %w", err)
		}
		secret = strings.Join(words, " ")
	} else {
		if opts.length <= 0 {
			return fmt.Errorf("--length must be positive")
		}
		password, err := internalcrypto.GeneratePassword(internalcrypto.Options{
			Length:    opts.length,
			Uppercase: !opts.noUpper,
			Digits:    !opts.noDigits,
			Symbols:   !opts.noSymbols,
		})
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		secret = password
	}

	out := cmd.OutOrStdout()
	if !opts.copy {
		return writeOutput(out, "%s\n", secret)
	}

	if opts.ttl < 0 {
		return fmt.Errorf("--ttl must not be negative")
	}
	ttl := time.Duration(opts.ttl) * time.Second
	if err := app.clipboard().CopyWithTimeout(cmd.Context(), secret, ttl); err != nil {
		return err
	}
	if err := writeOutput(out, "✓ Password copied to clipboard (strength %d/100, clears in %s)\n",
		vault.PasswordStrength(secret), ttl); err != nil {
		return err
	}
	app.clipboard().Wait()
	return nil
}
