package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

type statusInfo struct {
	ConfigPath    string          `json:"config_path,omitempty"`
	VaultPath     string          `json:"vault_path"`
	Backend       string          `json:"backend"`
	VaultExists   bool            `json:"vault_exists"`
	Blob          *vault.BlobInfo `json:"blob,omitempty"`
	NeedsUpgrade  bool            `json:"needs_upgrade"`
	DisplayName   string          `json:"display_name"`
	Port          int             `json:"port"`
	APIAddr       string          `json:"api_addr"`
	DefaultSecret bool            `json:"default_share_secret"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(app *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault and sharing status",
		Long:  "Display where the vault lives, how it is encrypted, and the sharing configuration. No password is needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := loadStatus(cmd, app)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, info)
			}
			return writeStatus(cmd, info)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output status as JSON")
	return cmd
}

func loadStatus(cmd *cobra.Command, app *App) (info *statusInfo, err error) {
	cfg := app.Config
	info = &statusInfo{
		ConfigPath:    app.ConfigPath,
		VaultPath:     cfg.VaultPath,
		Backend:       string(cfg.Backend()),
		DisplayName:   cfg.DisplayName,
		Port:          cfg.Network.Port,
		APIAddr:       cfg.API.Addr,
		DefaultSecret: cfg.UsingDefaultSecret(),
	}

	s, err := app.openStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open vault storage: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := s.Get(cmd.Context(), store.VaultKey)
	if errors.Is(err, store.ErrNotFound) {
		return info, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vault: %w", err)
	}
	info.VaultExists = true

	blob, err := vault.UnmarshalBlob(data)
	if err != nil {
		return nil, err
	}
	if info.Blob, err = vault.DescribeBlob(blob); err != nil {
		return nil, err
	}
	info.NeedsUpgrade = vault.NeedsUpgrade(blob)
	return info, nil
}

func writeStatus(cmd *cobra.Command, info *statusInfo) error {
	out := cmd.OutOrStdout()
	lines := []string{
		fmt.Sprintf("Vault:        %s (%s)", info.VaultPath, info.Backend),
	}
	if info.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("Config:       %s", info.ConfigPath))
	}
	if !info.VaultExists {
		lines = append(lines, "State:        not created (run 'cipherkeep init')")
	} else {
		lines = append(lines,
			"State:        locked",
			fmt.Sprintf("Encryption:   %s, %s with %d iterations", info.Blob.Cipher, info.Blob.KDF, info.Blob.Iterations),
		)
		if info.NeedsUpgrade {
			lines = append(lines, "              legacy format, upgraded on next unlock")
		}
	}
	lines = append(lines,
		fmt.Sprintf("Display name: %s", info.DisplayName),
		fmt.Sprintf("Sharing port: %d", info.Port),
		fmt.Sprintf("Local API:    %s", info.APIAddr),
	)
	if info.DefaultSecret {
		lines = append(lines, "⚠️  Using the built-in share secret; set CIPHERKEEP_SHARE_SECRET on every peer")
	}
	for _, l := range lines {
		if err := writeOutput(out, "%s\n", l); err != nil {
			return err
		}
	}
	return nil
}
