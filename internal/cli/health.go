package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// NewHealthCommand creates the health command
func NewHealthCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report reused, weak and stale passwords",
		Long: `Analyze password hygiene across the vault.

Flags credentials sharing a password, credentials whose password scores below 60,
and credentials neither viewed nor changed in 180 days, and computes an overall
score between 20 and 100.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			m, err := app.unlock(cmd.Context())
			if err != nil {
				return err
			}
			defer closeManager(m, &err)

			creds, err := m.Credentials()
			if err != nil {
				return err
			}
			report := vault.Analyze(creds, app.clock().Now())

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, healthJSON(report))
			}
			return writeHealthReport(out, report)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

type healthSummary struct {
	Score      int        `json:"score"`
	Duplicates [][]string `json:"duplicates"`
	Weak       []string   `json:"weak"`
	Stale      []string   `json:"stale"`
}

// healthJSON reduces the report to credential ids so no password is printed
func healthJSON(r vault.HealthReport) healthSummary {
	ids := func(creds []domain.Credential) []string {
		out := make([]string, 0, len(creds))
		for _, c := range creds {
			out = append(out, c.ID)
		}
		return out
	}
	s := healthSummary{
		Score:      r.Score,
		Duplicates: make([][]string, 0, len(r.Duplicates)),
		Weak:       ids(r.Weak),
		Stale:      ids(r.Stale),
	}
	for _, group := range r.Duplicates {
		s.Duplicates = append(s.Duplicates, ids(group))
	}
	return s
}

func writeHealthReport(out io.Writer, r vault.HealthReport) error {
	if err := writeOutput(out, "Security score: %d/100\n", r.Score); err != nil {
		return err
	}

	section := func(title string, creds []domain.Credential) error {
		if len(creds) == 0 {
			return nil
		}
		if err := writeOutput(out, "\n%s (%d):\n", title, len(creds)); err != nil {
			return err
		}
		for _, c := range creds {
			if err := writeOutput(out, "  - %s (%s)\n", c.Title, c.Username); err != nil {
				return err
			}
		}
		return nil
	}

	for i, group := range r.Duplicates {
		if err := section(fmt.Sprintf("Reused password #%d", i+1), group); err != nil {
			return err
		}
	}
	if err := section("Weak passwords", r.Weak); err != nil {
		return err
	}
	if err := section("Not reviewed in 180 days", r.Stale); err != nil {
		return err
	}
	if len(r.Duplicates) == 0 && len(r.Weak) == 0 && len(r.Stale) == 0 {
		return writeOutput(out, "✓ No issues found\n")
	}
	return nil
}
