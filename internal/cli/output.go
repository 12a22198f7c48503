package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// MaxOutputSize is the maximum allowed size for output to prevent memory exhaustion
const MaxOutputSize = 10 * 1024 * 1024 // 10MB

const timeLayout = "2006-01-02 15:04"

// writeOutput writes formatted output with error checking and size limits
func writeOutput(w io.Writer, format string, args ...any) error {
	s := fmt.Sprintf(format, args...)
	if len(s) > MaxOutputSize {
		return fmt.Errorf("output size %d exceeds maximum allowed size %d", len(s), MaxOutputSize)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// writeCredentialTable lists credentials without their passwords
func writeCredentialTable(out io.Writer, creds []domain.Credential) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	if err := writeOutput(w, "ID\tTITLE\tUSERNAME\tTAGS\tUPDATED\n"); err != nil {
		return fmt.Errorf("failed to write table header: %w", err)
	}
	for _, c := range creds {
		if err := writeOutput(w, "%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.Title, 32),
			truncate(c.Username, 24),
			truncate(strings.Join(c.Tags, ","), 40),
			c.UpdatedAt.Local().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("failed to write credential: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}
	return writeOutput(out, "\nFound %d credentials\n", len(creds))
}

// writeCredentialDetails prints one credential. The password is only included when show is set.
func writeCredentialDetails(out io.Writer, c *domain.Credential, show bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", c.ID},
		{"Title", c.Title},
		{"Username", c.Username},
	}
	if show {
		rows = append(rows, [2]string{"Password", c.Password})
	}
	if c.URL != "" {
		rows = append(rows, [2]string{"URL", c.URL})
	}
	if len(c.Tags) > 0 {
		rows = append(rows, [2]string{"Tags", strings.Join(c.Tags, ", ")})
	}
	if c.Notes != "" {
		rows = append(rows, [2]string{"Notes", c.Notes})
	}
	rows = append(rows,
		[2]string{"Created", c.CreatedAt.Local().Format(timeLayout)},
		[2]string{"Updated", c.UpdatedAt.Local().Format(timeLayout)},
	)
	if c.LastSharedAt != nil {
		rows = append(rows, [2]string{"Last shared", c.LastSharedAt.Local().Format(timeLayout)})
	}

	for _, row := range rows {
		if err := writeOutput(w, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return w.Flush()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
