// Package config loads the CipherKeep configuration from a YAML file and CIPHERKEEP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/cipherkeep/cipherkeep/internal/network"
	"github.com/cipherkeep/cipherkeep/internal/store"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "cipherkeep"

// Config represents the CipherKeep configuration
type Config struct {
	// VaultPath is the database file for the bolt backend and the directory for the file backend
	VaultPath      string        `yaml:"vault_path"`
	StorageBackend string        `yaml:"storage_backend"`
	DisplayName    string        `yaml:"display_name"`
	ShareSecret    string        `yaml:"share_secret,omitempty"`
	Network        NetworkConfig `yaml:"network"`
	API            APIConfig     `yaml:"api"`
	Log            LogConfig     `yaml:"log"`
}

// NetworkConfig tunes discovery and sharing
type NetworkConfig struct {
	Port             int           `yaml:"port"`
	MulticastGroup   string        `yaml:"multicast_group"`
	PresenceInterval time.Duration `yaml:"presence_interval"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	PeerTTL          time.Duration `yaml:"peer_ttl"`
	MaxShareAge      time.Duration `yaml:"max_share_age"`
	DisableProbing   bool          `yaml:"disable_probing"`
	ResolvConf       string        `yaml:"resolv_conf"`
}

// APIConfig configures the local credential query API
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig selects the log format and level
type LogConfig struct {
	JSON  bool `yaml:"json"`
	Debug bool `yaml:"debug"`
}

// env holds the environment overrides. Unset variables leave the file values alone.
type env struct {
	ShareSecret    string `split_words:"true"`
	VaultPath      string `split_words:"true"`
	DisplayName    string `split_words:"true"`
	StorageBackend string `split_words:"true"`
	APIAddr        string `envconfig:"API_ADDR"`
	LogJSON        *bool  `envconfig:"LOG_JSON"`
	LogDebug       *bool  `envconfig:"LOG_DEBUG"`
}

// DefaultConfigPath returns $HOME/.config/cipherkeep/config.yaml
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cipherkeep", "config.yaml")
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	hostname, _ := os.Hostname()
	return &Config{
		VaultPath:      filepath.Join(home, ".local", "share", "cipherkeep", "vault.db"),
		StorageBackend: string(store.BackendBolt),
		DisplayName:    hostname,
		Network: NetworkConfig{
			Port:             network.DefaultPort,
			MulticastGroup:   network.DefaultMulticastGroup,
			PresenceInterval: network.DefaultPresenceInterval,
			ProbeInterval:    network.DefaultProbeInterval,
			SweepInterval:    network.DefaultSweepInterval,
			PeerTTL:          network.DefaultPeerTTL,
			MaxShareAge:      network.DefaultMaxShareAge,
			ResolvConf:       "/etc/resolv.conf",
		},
		API: APIConfig{
			Addr: "127.0.0.1:45833",
		},
	}
}

// Load reads the config file, applies environment overrides and validates the result
func Load(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadConfig loads configuration from file, creating it with defaults when missing
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	cleanPath := filepath.Clean(configPath)
	data, err := os.ReadFile(cleanPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(cfg, cleanPath); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config, configPath string) error {
	cleanPath := filepath.Clean(configPath)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may hold the share secret
	if err := store.AtomicWriteFile(cleanPath, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays CIPHERKEEP_* environment variables
func (c *Config) ApplyEnv() error {
	var e env
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	if e.ShareSecret != "" {
		c.ShareSecret = e.ShareSecret
	}
	if e.VaultPath != "" {
		c.VaultPath = e.VaultPath
	}
	if e.DisplayName != "" {
		c.DisplayName = e.DisplayName
	}
	if e.StorageBackend != "" {
		c.StorageBackend = e.StorageBackend
	}
	if e.APIAddr != "" {
		c.API.Addr = e.APIAddr
	}
	if e.LogJSON != nil {
		c.Log.JSON = *e.LogJSON
	}
	if e.LogDebug != nil {
		c.Log.Debug = *e.LogDebug
	}
	return nil
}

// Backend returns the parsed storage backend
func (c *Config) Backend() store.Backend {
	b, err := store.ParseBackend(c.StorageBackend)
	if err != nil {
		return store.BackendBolt
	}
	return b
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var problems []string

	if c.VaultPath == "" {
		problems = append(problems, "vault_path must be set")
	}
	if _, err := store.ParseBackend(c.StorageBackend); err != nil {
		problems = append(problems, err.Error())
	}

	n := c.Network
	if n.Port < 1 || n.Port > 65535 {
		problems = append(problems, fmt.Sprintf("network.port %d out of range", n.Port))
	}
	if ip := net.ParseIP(n.MulticastGroup); ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		problems = append(problems, fmt.Sprintf("network.multicast_group %q is not an IPv4 multicast address", n.MulticastGroup))
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"presence_interval", n.PresenceInterval},
		{"probe_interval", n.ProbeInterval},
		{"sweep_interval", n.SweepInterval},
		{"peer_ttl", n.PeerTTL},
		{"max_share_age", n.MaxShareAge},
	} {
		if d.value <= 0 {
			problems = append(problems, fmt.Sprintf("network.%s must be positive", d.name))
		}
	}
	if n.PeerTTL <= n.PresenceInterval {
		problems = append(problems, "network.peer_ttl must exceed network.presence_interval")
	}

	if c.API.Addr != "" {
		host, _, err := net.SplitHostPort(c.API.Addr)
		if err != nil {
			problems = append(problems, fmt.Sprintf("api.addr: %v", err))
		} else if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			problems = append(problems, "api.addr must be a loopback address")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsingDefaultSecret reports whether shares rely on the built-in secret
func (c *Config) UsingDefaultSecret() bool {
	return c.ShareSecret == "" || c.ShareSecret == network.DefaultShareSecret
}
