// Package domain defines the core data structures shared by the vault and the sharing subsystem.
// It contains the main business entities and their relationships.
package domain

import (
	"fmt"
	"time"
)

// HistoryType identifies what happened to a credential
type HistoryType string

const (
	// HistoryView records that the password was revealed or copied
	HistoryView HistoryType = "view"
	// HistoryShare records that the credential was sent to a peer
	HistoryShare HistoryType = "share"
)

// HistoryEntry is an append-only audit record attached to a credential
type HistoryEntry struct {
	ID        string      `json:"id"`
	Type      HistoryType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Context   string      `json:"context,omitempty"`
}

// Credential represents a password entry in the vault
type Credential struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	URL          string         `json:"url,omitempty"`
	Username     string         `json:"username"`
	Password     string         `json:"password"`
	Notes        string         `json:"notes,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastUsedAt   *time.Time     `json:"lastUsedAt,omitempty"`
	LastViewedAt *time.Time     `json:"lastViewedAt,omitempty"`
	LastSharedAt *time.Time     `json:"lastSharedAt,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// Clone returns a deep copy so callers never alias the vault's in-memory state.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	if c.History != nil {
		out.History = append([]HistoryEntry(nil), c.History...)
	}
	out.LastUsedAt = cloneTime(c.LastUsedAt)
	out.LastViewedAt = cloneTime(c.LastViewedAt)
	out.LastSharedAt = cloneTime(c.LastSharedAt)
	return &out
}

// Validate checks the fields required for a credential to be stored
func (c *Credential) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("title is required")
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// NewCredential holds the caller-supplied fields of a credential before the vault assigns
// its identifier and timestamps.
type NewCredential struct {
	Title    string   `json:"title"`
	URL      string   `json:"url,omitempty"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	Notes    string   `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// Theme is the UI theme preference stored with the vault
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Settings are user preferences persisted inside the encrypted vault
type Settings struct {
	Theme                 Theme `json:"theme"`
	AutoLockMinutes       int   `json:"autoLockMinutes"`       // 0 means never
	ClipboardClearSeconds int   `json:"clipboardClearSeconds"` // 0 means never
}

// DefaultSettings returns the settings of a freshly created vault
func DefaultSettings() Settings {
	return Settings{
		Theme:                 ThemeSystem,
		AutoLockMinutes:       5,
		ClipboardClearSeconds: 30,
	}
}

// Validate checks the settings ranges
func (s Settings) Validate() error {
	switch s.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("invalid theme %q", s.Theme)
	}
	if s.AutoLockMinutes < 0 {
		return fmt.Errorf("autoLockMinutes must not be negative")
	}
	if s.ClipboardClearSeconds < 0 {
		return fmt.Errorf("clipboardClearSeconds must not be negative")
	}
	return nil
}

// SettingsPatch is a partial settings update; nil fields are left untouched
type SettingsPatch struct {
	Theme                 *Theme `json:"theme,omitempty"`
	AutoLockMinutes       *int   `json:"autoLockMinutes,omitempty"`
	ClipboardClearSeconds *int   `json:"clipboardClearSeconds,omitempty"`
}

// Apply returns s with the non-nil patch fields applied
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.AutoLockMinutes != nil {
		s.AutoLockMinutes = *p.AutoLockMinutes
	}
	if p.ClipboardClearSeconds != nil {
		s.ClipboardClearSeconds = *p.ClipboardClearSeconds
	}
	return s
}

// Vault is the decrypted credential store
type Vault struct {
	Credentials []Credential `json:"credentials"`
	Settings    Settings     `json:"settings"`
}

// NewVault returns an empty vault with default settings
func NewVault() *Vault {
	return &Vault{
		Credentials: []Credential{},
		Settings:    DefaultSettings(),
	}
}

// Find returns the index of the credential with the given id, or -1
func (v *Vault) Find(id string) int {
	for i := range v.Credentials {
		if v.Credentials[i].ID == id {
			return i
		}
	}
	return -1
}

// PeerRecord is a LAN host known to the sharing subsystem
type PeerRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	IP       string    `json:"ip"`
	LastSeen time.Time `json:"lastSeen"`
	HasApp   bool      `json:"hasApp"`
}

// SharedCredential is the subset of a credential that travels between peers
type SharedCredential struct {
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// IncomingShare is delivered to the application when a peer sends us a credential
type IncomingShare struct {
	ID         string           `json:"id"`
	SenderID   string           `json:"senderId"`
	FromName   string           `json:"fromName"`
	FromIP     string           `json:"fromIp"`
	Credential SharedCredential `json:"credential"`
	Timestamp  time.Time        `json:"timestamp"`
}
