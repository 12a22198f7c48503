package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/config"
	"github.com/cipherkeep/cipherkeep/internal/logging"
	"github.com/cipherkeep/cipherkeep/internal/store"
)

// NewRootCommand builds the command tree around app
func NewRootCommand(app *App) *cobra.Command {
	var (
		cfgFile   string
		vaultPath string
		backend   string
		verbose   bool
	)

	root := &cobra.Command{
		Use:   "cipherkeep",
		Short: "A local password vault with LAN sharing",
		Long: `CipherKeep keeps your credentials in a locally encrypted vault and lets you
hand a password to a colleague on the same network.

Features:
- AES-256-GCM encryption with PBKDF2-SHA256 key derivation
- Master password is never written to disk
- Peer discovery over multicast and subnet probing
- Encrypted one-shot credential sharing between peers
- Timed clipboard clearing`,
		Version:       logging.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				if cfgFile == "" {
					cfgFile = config.DefaultConfigPath()
				}
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				app.Config = cfg
				app.ConfigPath = cfgFile
			}
			if vaultPath != "" {
				app.Config.VaultPath = vaultPath
			}
			if backend != "" {
				if _, err := store.ParseBackend(backend); err != nil {
					return err
				}
				app.Config.StorageBackend = backend
			}
			if app.Out == nil {
				app.Out = cmd.OutOrStdout()
			}
			if app.In == nil {
				app.In = cmd.InOrStdin()
			}
			if app.Logger == nil {
				app.Logger = logging.Setup(logging.Options{
					JSON:    app.Config.Log.JSON,
					Debug:   app.Config.Log.Debug || verbose,
					Service: "cipherkeep",
					Version: logging.Version,
					Output:  cmd.ErrOrStderr(),
				})
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/cipherkeep/config.yaml)")
	root.PersistentFlags().StringVar(&vaultPath, "vault", "", "vault storage path")
	root.PersistentFlags().StringVar(&backend, "backend", "", "storage backend (bolt|file|memory)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		NewInitCommand(app),
		NewAddCommand(app),
		NewGetCommand(app),
		NewListCommand(app),
		NewUpdateCommand(app),
		NewDeleteCommand(app),
		NewSettingsCommand(app),
		NewPasswdCommand(app),
		NewPassgenCommand(app),
		NewRotatePasswordCommand(app),
		NewHealthCommand(app),
		NewHistoryCommand(app),
		NewStatusCommand(app),
		NewDoctorCommand(app),
		NewConfigCommand(app),
		NewExportCommand(app),
		NewImportCommand(app),
		NewPeersCommand(app),
		NewShareCommand(app),
		NewServeCommand(app),
	)
	return root
}

// Execute runs the CLI with the real terminal, clipboard and network
func Execute(ctx context.Context) error {
	return NewRootCommand(&App{}).ExecuteContext(ctx)
}
