package cli

import (
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <id-or-title>",
		Short: "Show when a credential was viewed or shared",
		Long: `Show the audit trail kept with a credential: every time its password was
revealed or copied, and every peer it was sent to.

Example:
  cipherkeep history GitHub`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			m, err := app.unlock(cmd.Context())
			if err != nil {
				return err
			}
			defer closeManager(m, &err)

			cred, err := findCredential(m, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, cred.History)
			}
			if len(cred.History) == 0 {
				return writeOutput(out, "No history for '%s'\n", cred.Title)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			if err := writeOutput(w, "WHEN\tEVENT\tDETAILS\n"); err != nil {
				return err
			}
			for _, h := range cred.History {
				if err := writeOutput(w, "%s\t%s\t%s\n", h.Timestamp.Local().Format(timeLayout), h.Type, h.Context); err != nil {
					return err
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
