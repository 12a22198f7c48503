package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/config"
)

// configKey reads and writes one setting of the config file
type configKey struct {
	get func(c *config.Config) string
	set func(c *config.Config, value string) error
}

func setDuration(dst *time.Duration) func(string) error {
	return func(value string) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*dst = d
		return nil
	}
}

var configKeys = map[string]configKey{
	"vault_path": {
		get: func(c *config.Config) string { return c.VaultPath },
		set: func(c *config.Config, v string) error { c.VaultPath = v; return nil },
	},
	"storage_backend": {
		get: func(c *config.Config) string { return c.StorageBackend },
		set: func(c *config.Config, v string) error { c.StorageBackend = v; return nil },
	},
	"display_name": {
		get: func(c *config.Config) string { return c.DisplayName },
		set: func(c *config.Config, v string) error { c.DisplayName = v; return nil },
	},
	"share_secret": {
		get: func(c *config.Config) string {
			if c.ShareSecret == "" {
				return ""
			}
			return "[set]"
		},
		set: func(c *config.Config, v string) error { c.ShareSecret = v; return nil },
	},
	"network.port": {
		get: func(c *config.Config) string { return strconv.Itoa(c.Network.Port) },
		set: func(c *config.Config, v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid port: %w", err)
			}
			c.Network.Port = port
			return nil
		},
	},
	"network.multicast_group": {
		get: func(c *config.Config) string { return c.Network.MulticastGroup },
		set: func(c *config.Config, v string) error { c.Network.MulticastGroup = v; return nil },
	},
	"network.presence_interval": {
		get: func(c *config.Config) string { return c.Network.PresenceInterval.String() },
		set: func(c *config.Config, v string) error { return setDuration(&c.Network.PresenceInterval)(v) },
	},
	"network.probe_interval": {
		get: func(c *config.Config) string { return c.Network.ProbeInterval.String() },
		set: func(c *config.Config, v string) error { return setDuration(&c.Network.ProbeInterval)(v) },
	},
	"network.peer_ttl": {
		get: func(c *config.Config) string { return c.Network.PeerTTL.String() },
		set: func(c *config.Config, v string) error { return setDuration(&c.Network.PeerTTL)(v) },
	},
	"network.disable_probing": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Network.DisableProbing) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			c.Network.DisableProbing = b
			return nil
		},
	},
	"api.addr": {
		get: func(c *config.Config) string { return c.API.Addr },
		set: func(c *config.Config, v string) error { c.API.Addr = v; return nil },
	},
	"log.json": {
		get: func(c *config.Config) string { return strconv.FormatBool(c.Log.JSON) },
		set: func(c *config.Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean value: %w", err)
			}
			c.Log.JSON = b
			return nil
		},
	},
}

func normalizeConfigKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

// NewConfigCommand creates the config command
func NewConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `View and modify the configuration file.

Values shown include environment overrides (CIPHERKEEP_*); 'set' writes only the file.`,
	}

	getCmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Get configuration value(s)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				names := make([]string, 0, len(configKeys))
				for name := range configKeys {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					if err := writeOutput(out, "%s: %s\n", name, configKeys[name].get(app.Config)); err != nil {
						return err
					}
				}
				return nil
			}
			k, ok := configKeys[normalizeConfigKey(args[0])]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			return writeOutput(out, "%s\n", k.get(app.Config))
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := configKeys[normalizeConfigKey(args[0])]
			if !ok {
				return fmt.Errorf("unknown configuration key: %s", args[0])
			}
			if app.ConfigPath == "" {
				return fmt.Errorf("no configuration file in use")
			}

			// Start from the file alone so environment overrides are not written back
			fileCfg, err := config.LoadConfig(app.ConfigPath)
			if err != nil {
				return err
			}
			if err := k.set(fileCfg, args[1]); err != nil {
				return err
			}
			if err := fileCfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveConfig(fileCfg, app.ConfigPath); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), "✓ Configuration updated: %s = %s\n", args[0], k.get(fileCfg))
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeOutput(cmd.OutOrStdout(), "%s\n", app.ConfigPath)
		},
	}

	cmd.AddCommand(getCmd, setCmd, pathCmd)
	return cmd
}
