// Package session owns the decrypted vault. Manager is the single place that holds the
// master password and the plaintext vault in memory, and every mutation it accepts is
// re-encrypted and persisted before the call returns.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

// State is the lifecycle state of a Manager
type State string

const (
	StateUninitialized State = "uninitialized"
	StateOnboarding    State = "onboarding"
	StateLocked        State = "locked"
	StateUnlocked      State = "unlocked"
)

// Manager is the vault state machine
type Manager struct {
	mu sync.Mutex

	store  store.BlobStore
	cipher *vault.Cipher
	clock  clock.Clock
	log    *slog.Logger
	newID  func() string

	state        State
	vault        *domain.Vault
	password     []byte
	lastActivity time.Time
	lastErr      string
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, used for timestamps and auto-lock
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithIDGenerator replaces uuid.NewString for credential and history ids
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a manager over the given storage collaborator. Call Initialize before use.
func NewManager(s store.BlobStore, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		cipher: vault.NewCipher(),
		clock:  clock.New(),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:  uuid.NewString,
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the user-facing message of the most recent failed transition
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Initialize inspects storage: an existing blob means locked, none means onboarding.
// A storage read failure leaves the manager locked and is returned.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.store.Get(ctx, store.VaultKey)
	switch {
	case err == nil:
		m.state = StateLocked
		m.lastErr = ""
	case errors.Is(err, store.ErrNotFound):
		m.state = StateOnboarding
		m.lastErr = ""
	default:
		m.state = StateLocked
		m.lastErr = "could not access vault storage"
		m.log.Error("failed to read vault storage", "err", err)
		return fmt.Errorf("failed to read vault storage: %w", err)
	}
	m.log.Debug("vault session initialized", "state", m.state)
	return nil
}

// CreateVault creates, encrypts and persists an empty vault, then unlocks it
func (m *Manager) CreateVault(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOnboarding {
		return fmt.Errorf("%w: cannot create a vault while %s", ErrInvalidState, m.state)
	}

	if violations := vault.ValidateMasterPassword(password); len(violations) > 0 {
		return &VaultCreationError{Violations: violations}
	}

	v := domain.NewVault()
	if err := m.persist(ctx, v, []byte(password)); err != nil {
		m.lastErr = "failed to create vault"
		m.log.Error("vault creation failed", "err", err)
		return &VaultCreationError{Err: &PersistenceError{Err: err}}
	}

	m.vault = v
	m.password = []byte(password)
	m.state = StateUnlocked
	m.lastErr = ""
	m.lastActivity = m.clock.Now()
	m.log.Info("vault created")
	return nil
}

// Unlock decrypts the persisted vault. On failure the manager stays locked.
func (m *Manager) Unlock(ctx context.Context, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateLocked:
	case StateUnlocked:
		return nil
	case StateOnboarding:
		return ErrVaultNotFound
	default:
		return fmt.Errorf("%w: cannot unlock while %s", ErrInvalidState, m.state)
	}

	data, err := m.store.Get(ctx, store.VaultKey)
	if errors.Is(err, store.ErrNotFound) {
		return ErrVaultNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read vault storage: %w", err)
	}

	v, blob, err := m.open(data, password)
	if err != nil {
		m.lastErr = ErrInvalidPassword.Error()
		m.log.Warn("unlock failed")
		return ErrInvalidPassword
	}

	m.vault = v
	m.password = []byte(password)
	m.state = StateUnlocked
	m.lastErr = ""
	m.lastActivity = m.clock.Now()

	if vault.NeedsUpgrade(blob) {
		// Legacy blobs stay readable; rewrite them with current KDF parameters.
		if err := m.persist(ctx, m.vault, m.password); err != nil {
			m.log.Warn("failed to upgrade vault encryption", "err", err)
		} else {
			m.log.Info("vault re-encrypted with current KDF parameters")
		}
	}

	m.log.Info("vault unlocked", "credentials", len(v.Credentials))
	return nil
}

func (m *Manager) open(data []byte, password string) (*domain.Vault, *vault.EncryptedBlob, error) {
	blob, err := vault.UnmarshalBlob(data)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := m.cipher.Decrypt(blob, password)
	if err != nil {
		return nil, nil, err
	}
	defer vault.Zeroize(plaintext)

	var v domain.Vault
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, nil, vault.ErrDecryption
	}
	if v.Credentials == nil {
		v.Credentials = []domain.Credential{}
	}
	if err := v.Settings.Validate(); err != nil {
		v.Settings = domain.DefaultSettings()
	}
	return &v, blob, nil
}

// Lock discards the password and the decrypted vault. It is safe to call in any state;
// onboarding and uninitialized are left as they are.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked()
}

func (m *Manager) lockLocked() {
	vault.Zeroize(m.password)
	m.password = nil
	m.vault = nil
	if m.state == StateUnlocked {
		m.state = StateLocked
		m.log.Info("vault locked")
	}
}

// persist encrypts v under password with a fresh salt and IV and writes it
func (m *Manager) persist(ctx context.Context, v *domain.Vault, password []byte) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	defer vault.Zeroize(plaintext)

	blob, err := m.cipher.Encrypt(plaintext, string(password))
	if err != nil {
		return err
	}
	data, err := vault.MarshalBlob(blob)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, store.VaultKey, data)
}

// mutate runs fn against a copy of the vault, persists the copy and only then makes it
// current. A persistence failure locks the session.
func (m *Manager) mutate(ctx context.Context, fn func(v *domain.Vault, now time.Time) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnlocked || m.vault == nil || m.password == nil {
		return ErrVaultLocked
	}

	next := cloneVault(m.vault)
	now := m.clock.Now().UTC()
	if err := fn(next, now); err != nil {
		return err
	}

	if err := m.persist(ctx, next, m.password); err != nil {
		m.log.Error("failed to persist vault, locking", "err", err)
		m.lockLocked()
		m.lastErr = ErrPersistence.Error()
		return &PersistenceError{Err: err}
	}

	m.vault = next
	m.lastActivity = m.clock.Now()
	return nil
}

func cloneVault(v *domain.Vault) *domain.Vault {
	out := &domain.Vault{
		Credentials: make([]domain.Credential, len(v.Credentials)),
		Settings:    v.Settings,
	}
	for i := range v.Credentials {
		out.Credentials[i] = *v.Credentials[i].Clone()
	}
	return out
}

// AddCredential stores a new credential with a fresh id and timestamps
func (m *Manager) AddCredential(ctx context.Context, in domain.NewCredential) (*domain.Credential, error) {
	var added domain.Credential
	err := m.mutate(ctx, func(v *domain.Vault, now time.Time) error {
		c := domain.Credential{
			ID:        m.newID(),
			Title:     in.Title,
			URL:       in.URL,
			Username:  in.Username,
			Password:  in.Password,
			Notes:     in.Notes,
			Tags:      append([]string(nil), in.Tags...),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := c.Validate(); err != nil {
			return err
		}
		v.Credentials = append(v.Credentials, c)
		added = *c.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Debug("credential added", "id", added.ID)
	return &added, nil
}

// UpdateCredential replaces the editable fields of an existing credential. Id, creation time,
// usage stamps and history are kept from the stored record.
func (m *Manager) UpdateCredential(ctx context.Context, c domain.Credential) (*domain.Credential, error) {
	var updated domain.Credential
	err := m.mutate(ctx, func(v *domain.Vault, now time.Time) error {
		i := v.Find(c.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, c.ID)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		existing := v.Credentials[i]
		next := *c.Clone()
		next.CreatedAt = existing.CreatedAt
		next.History = existing.History
		next.LastUsedAt = existing.LastUsedAt
		next.LastViewedAt = existing.LastViewedAt
		next.LastSharedAt = existing.LastSharedAt
		next.UpdatedAt = now
		v.Credentials[i] = next
		updated = *next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteCredential removes a credential
func (m *Manager) DeleteCredential(ctx context.Context, id string) error {
	return m.mutate(ctx, func(v *domain.Vault, _ time.Time) error {
		i := v.Find(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
		}
		v.Credentials = append(v.Credentials[:i], v.Credentials[i+1:]...)
		return nil
	})
}

// UpdateSettings merges patch into the stored settings
func (m *Manager) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	var settings domain.Settings
	err := m.mutate(ctx, func(v *domain.Vault, _ time.Time) error {
		next := patch.Apply(v.Settings)
		if err := next.Validate(); err != nil {
			return err
		}
		v.Settings = next
		settings = next
		return nil
	})
	return settings, err
}

// ChangePassword re-encrypts the vault under a new master password
func (m *Manager) ChangePassword(ctx context.Context, current, next string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnlocked || m.vault == nil {
		return ErrVaultLocked
	}
	if !vault.SecureCompare(m.password, []byte(current)) {
		return ErrInvalidPassword
	}
	if violations := vault.ValidateMasterPassword(next); len(violations) > 0 {
		return &VaultCreationError{Violations: violations}
	}

	if err := m.persist(ctx, m.vault, []byte(next)); err != nil {
		m.log.Error("failed to persist vault under new password, locking", "err", err)
		m.lockLocked()
		return &PersistenceError{Err: err}
	}

	vault.Zeroize(m.password)
	m.password = []byte(next)
	m.lastActivity = m.clock.Now()
	m.log.Info("master password changed")
	return nil
}

// Credentials returns a copy of every credential
func (m *Manager) Credentials() ([]domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnlocked {
		return nil, ErrVaultLocked
	}
	return cloneVault(m.vault).Credentials, nil
}

// Search returns the credentials matching the search text and any of tags
func (m *Manager) Search(search string, tags []string) ([]domain.Credential, error) {
	creds, err := m.Credentials()
	if err != nil {
		return nil, err
	}
	return vault.Filter(creds, search, tags), nil
}

// Credential returns a copy of one credential
func (m *Manager) Credential(id string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnlocked {
		return nil, ErrVaultLocked
	}
	i := m.vault.Find(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
	}
	return m.vault.Credentials[i].Clone(), nil
}

// Settings returns the vault settings
func (m *Manager) Settings() (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateUnlocked {
		return domain.Settings{}, ErrVaultLocked
	}
	return m.vault.Settings, nil
}

// Close locks the session and closes the storage collaborator
func (m *Manager) Close() error {
	m.Lock()
	return m.store.Close()
}
