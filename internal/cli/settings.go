package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// NewSettingsCommand creates the settings command
func NewSettingsCommand(app *App) *cobra.Command {
	var (
		theme          string
		autoLock       int
		clipboardClear int
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change vault settings",
		Long: `Show or change the settings stored inside the encrypted vault.

Without flags the current settings are printed.

Example:
  cipherkeep settings
  cipherkeep settings --auto-lock 10 --clipboard-clear 20
  cipherkeep settings --theme dark`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			var patch domain.SettingsPatch
			flags := cmd.Flags()
			if flags.Changed("theme") {
				t := domain.Theme(theme)
				patch.Theme = &t
			}
			if flags.Changed("auto-lock") {
				patch.AutoLockMinutes = &autoLock
			}
			if flags.Changed("clipboard-clear") {
				patch.ClipboardClearSeconds = &clipboardClear
			}

			ctx := cmd.Context()
			m, err := app.unlock(ctx)
			if err != nil {
				return err
			}
			defer closeManager(m, &err)

			var settings domain.Settings
			if patch == (domain.SettingsPatch{}) {
				settings, err = m.Settings()
			} else {
				settings, err = m.UpdateSettings(ctx, patch)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, settings)
			}
			return writeOutput(out, "Theme:            %s\nAuto-lock:        %s\nClipboard clear:  %s\n",
				settings.Theme,
				describeLimit(settings.AutoLockMinutes, "minutes"),
				describeLimit(settings.ClipboardClearSeconds, "seconds"),
			)
		},
	}

	cmd.Flags().StringVar(&theme, "theme", "", "UI theme (light|dark|system)")
	cmd.Flags().IntVar(&autoLock, "auto-lock", 0, "Lock after this many idle minutes (0 = never)")
	cmd.Flags().IntVar(&clipboardClear, "clipboard-clear", 0, "Clear copied passwords after this many seconds (0 = never)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}

func describeLimit(n int, unit string) string {
	if n == 0 {
		return "never"
	}
	return fmt.Sprintf("%d %s", n, unit)
}
