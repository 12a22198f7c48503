package cli

import (
	"github.com/spf13/cobra"
)

type listOptions struct {
	search string
	tags   []string
	json   bool
}

// NewListCommand creates the list command
func NewListCommand(app *App) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		Long: `List the credentials in the vault. Passwords are never printed.

--search matches every whitespace or '+' separated token against title,
username, URL and tags. --tags keeps credentials carrying any of the tags.

Example:
  cipherkeep list
  cipherkeep list --search github
  cipherkeep list --tags work,db --json`,
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.search, "search", "s", "", "Search text")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Filter by tags (comma-separated)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output JSON")

	return cmd
}

// listedCredential is the JSON shape of a listed credential, without its password
type listedCredential struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Username  string   `json:"username"`
	URL       string   `json:"url,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

func runList(cmd *cobra.Command, app *App, opts *listOptions) (err error) {
	m, err := app.unlock(cmd.Context())
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	creds, err := m.Search(opts.search, opts.tags)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.json {
		listed := make([]listedCredential, 0, len(creds))
		for _, c := range creds {
			listed = append(listed, listedCredential{
				ID:        c.ID,
				Title:     c.Title,
				Username:  c.Username,
				URL:       c.URL,
				Tags:      c.Tags,
				CreatedAt: c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return writeJSON(out, listed)
	}

	if len(creds) == 0 {
		return writeOutput(out, "No credentials found\n")
	}
	return writeCredentialTable(out, creds)
}
