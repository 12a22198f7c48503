package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/store"
	"github.com/cipherkeep/cipherkeep/internal/vault"
)

const testPassword = "Str0ng!Passw0rd"

// flakyStore fails writes on demand
type flakyStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	failPut bool
	failGet bool
	puts    int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (f *flakyStore) setFailPut(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = v
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failGet
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk unavailable")
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	fail := f.failPut
	f.puts++
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.MemoryStore.Put(ctx, key, data)
}

func newTestManager(t *testing.T, s store.BlobStore) (*Manager, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	seq := 0
	m := NewManager(s,
		WithClock(mock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}),
	)
	require.NoError(t, m.Initialize(context.Background()))
	return m, mock
}

func unlockedManager(t *testing.T) (*Manager, *flakyStore, *clock.Mock) {
	t.Helper()
	s := newFlakyStore()
	m, mock := newTestManager(t, s)
	require.NoError(t, m.CreateVault(context.Background(), testPassword))
	return m, s, mock
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	empty, _ := newTestManager(t, store.NewMemoryStore())
	assert.Equal(t, StateOnboarding, empty.State())

	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, store.VaultKey, []byte(`{"salt":"x","iv":"y","encryptedData":"z"}`)))
	existing, _ := newTestManager(t, s)
	assert.Equal(t, StateLocked, existing.State())

	broken := newFlakyStore()
	broken.failGet = true
	m := NewManager(broken)
	assert.Error(t, m.Initialize(ctx))
	assert.Equal(t, StateLocked, m.State())
	assert.NotEmpty(t, m.LastError())
}

func TestCreateVault(t *testing.T) {
	ctx := context.Background()
	s := newFlakyStore()
	m, _ := newTestManager(t, s)

	err := m.CreateVault(ctx, "weakpass")
	var creationErr *VaultCreationError
	require.ErrorAs(t, err, &creationErr)
	assert.NotEmpty(t, creationErr.Violations)
	assert.Equal(t, StateOnboarding, m.State())
	assert.Zero(t, s.puts, "nothing may be persisted for a rejected password")

	require.NoError(t, m.CreateVault(ctx, testPassword))
	assert.Equal(t, StateUnlocked, m.State())

	settings, err := m.Settings()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSettings(), settings)

	data, err := s.MemoryStore.Get(ctx, store.VaultKey)
	require.NoError(t, err)
	blob, err := vault.UnmarshalBlob(data)
	require.NoError(t, err)
	assert.Equal(t, vault.PBKDF2Iterations, blob.KDF.Iterations)

	err = m.CreateVault(ctx, testPassword)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCreateVault_PersistenceFailure(t *testing.T) {
	s := newFlakyStore()
	m, _ := newTestManager(t, s)
	s.setFailPut(true)

	err := m.CreateVault(context.Background(), testPassword)
	var creationErr *VaultCreationError
	require.ErrorAs(t, err, &creationErr)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, StateOnboarding, m.State())
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	m, s, _ := unlockedManager(t)
	_, err := m.AddCredential(ctx, domain.NewCredential{Title: "Demo", Username: "u", Password: "p"})
	require.NoError(t, err)
	m.Lock()
	assert.Equal(t, StateLocked, m.State())

	_, err = m.Credentials()
	assert.ErrorIs(t, err, ErrVaultLocked)

	reopened, _ := newTestManager(t, s)
	require.Equal(t, StateLocked, reopened.State())

	err = reopened.Unlock(ctx, "Wr0ng!Password")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.Equal(t, StateLocked, reopened.State())
	assert.Equal(t, "invalid password or corrupted vault", reopened.LastError())

	require.NoError(t, reopened.Unlock(ctx, testPassword))
	creds, err := reopened.Credentials()
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "Demo", creds[0].Title)
}

func TestUnlock_CorruptedBlobLooksLikeWrongPassword(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, store.VaultKey, []byte("not json")))
	m, _ := newTestManager(t, s)

	assert.ErrorIs(t, m.Unlock(ctx, testPassword), ErrInvalidPassword)
	assert.Equal(t, StateLocked, m.State())
}

func TestUnlock_Onboarding(t *testing.T) {
	m, _ := newTestManager(t, store.NewMemoryStore())
	assert.ErrorIs(t, m.Unlock(context.Background(), testPassword), ErrVaultNotFound)
}

func TestAddCredential_PersistsWithFreshIDAndTimestamps(t *testing.T) {
	ctx := context.Background()
	m, s, mock := unlockedManager(t)

	before, err := s.MemoryStore.Get(ctx, store.VaultKey)
	require.NoError(t, err)

	mock.Add(time.Minute)
	added, err := m.AddCredential(ctx, domain.NewCredential{
		Title: "GitHub", Username: "octo", Password: "hunter2", Tags: []string{"work"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, mock.Now().UTC(), added.CreatedAt)
	assert.Equal(t, added.CreatedAt, added.UpdatedAt)

	second, err := m.AddCredential(ctx, domain.NewCredential{Title: "Mail", Username: "me", Password: "pw"})
	require.NoError(t, err)
	assert.NotEqual(t, added.ID, second.ID)

	after, err := s.MemoryStore.Get(ctx, store.VaultKey)
	require.NoError(t, err)
	assert.NotEqual(t, before, after, "every mutation re-encrypts the vault")

	// The persisted blob alone must reproduce the new state.
	fresh, _ := newTestManager(t, s)
	require.NoError(t, fresh.Unlock(ctx, testPassword))
	got, err := fresh.Credential(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "GitHub", got.Title)
	assert.Equal(t, []string{"work"}, got.Tags)
}

func TestAddCredential_Validation(t *testing.T) {
	m, _, _ := unlockedManager(t)
	_, err := m.AddCredential(context.Background(), domain.NewCredential{Title: "no password", Username: "u"})
	assert.Error(t, err)

	creds, err := m.Credentials()
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestUpdateCredential(t *testing.T) {
	ctx := context.Background()
	m, _, mock := unlockedManager(t)

	added, err := m.AddCredential(ctx, domain.NewCredential{Title: "Old", Username: "u", Password: "p"})
	require.NoError(t, err)

	mock.Add(time.Hour)
	edit := *added
	edit.Title = "New"
	edit.CreatedAt = time.Time{}
	updated, err := m.UpdateCredential(ctx, edit)
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Title)
	assert.Equal(t, added.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(added.UpdatedAt))

	edit.ID = "missing"
	_, err = m.UpdateCredential(ctx, edit)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestUpdateCredential_KeepsStoredUsage(t *testing.T) {
	ctx := context.Background()
	m, _, mock := unlockedManager(t)

	added, err := m.AddCredential(ctx, domain.NewCredential{Title: "Mail", Username: "u", Password: "p"})
	require.NoError(t, err)
	stale := *added

	mock.Add(time.Minute)
	require.NoError(t, m.RecordView(ctx, added.ID, "revealed in terminal"))
	require.NoError(t, m.RecordShare(ctx, added.ID, "Laptop"))
	require.NoError(t, m.RecordUse(ctx, added.ID))
	recorded, err := m.Credential(added.ID)
	require.NoError(t, err)

	mock.Add(time.Minute)
	stale.Username = "renamed"
	updated, err := m.UpdateCredential(ctx, stale)
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Username)
	require.NotNil(t, updated.LastViewedAt)
	require.NotNil(t, updated.LastSharedAt)
	require.NotNil(t, updated.LastUsedAt)
	assert.Equal(t, *recorded.LastViewedAt, *updated.LastViewedAt)
	assert.Equal(t, *recorded.LastSharedAt, *updated.LastSharedAt)
	assert.Equal(t, *recorded.LastUsedAt, *updated.LastUsedAt)
	assert.Len(t, updated.History, 2)
}

func TestDeleteCredential(t *testing.T) {
	ctx := context.Background()
	m, _, _ := unlockedManager(t)

	added, err := m.AddCredential(ctx, domain.NewCredential{Title: "Gone", Username: "u", Password: "p"})
	require.NoError(t, err)
	require.NoError(t, m.DeleteCredential(ctx, added.ID))

	_, err = m.Credential(added.ID)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	assert.ErrorIs(t, m.DeleteCredential(ctx, added.ID), ErrCredentialNotFound)
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	m, _, _ := unlockedManager(t)

	dark := domain.ThemeDark
	ten := 10
	settings, err := m.UpdateSettings(ctx, domain.SettingsPatch{Theme: &dark, AutoLockMinutes: &ten})
	require.NoError(t, err)
	assert.Equal(t, domain.ThemeDark, settings.Theme)
	assert.Equal(t, 10, settings.AutoLockMinutes)
	assert.Equal(t, 30, settings.ClipboardClearSeconds)

	negative := -1
	_, err = m.UpdateSettings(ctx, domain.SettingsPatch{ClipboardClearSeconds: &negative})
	assert.Error(t, err)
}

func TestMutation_PersistenceFailureLocks(t *testing.T) {
	ctx := context.Background()
	m, s, _ := unlockedManager(t)

	s.setFailPut(true)
	_, err := m.AddCredential(ctx, domain.NewCredential{Title: "T", Username: "u", Password: "p"})

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, StateLocked, m.State())

	s.setFailPut(false)
	require.NoError(t, m.Unlock(ctx, testPassword))
	creds, err := m.Credentials()
	require.NoError(t, err)
	assert.Empty(t, creds, "a failed write must not surface as committed data")
}

func TestMutations_RequireUnlocked(t *testing.T) {
	ctx := context.Background()
	m, _, _ := unlockedManager(t)
	m.Lock()

	_, err := m.AddCredential(ctx, domain.NewCredential{Title: "T", Username: "u", Password: "p"})
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, m.DeleteCredential(ctx, "x"), ErrVaultLocked)
	_, err = m.UpdateSettings(ctx, domain.SettingsPatch{})
	assert.ErrorIs(t, err, ErrVaultLocked)
	assert.ErrorIs(t, m.RecordView(ctx, "x", ""), ErrVaultLocked)
}

func TestLock_IsSafeInAnyState(t *testing.T) {
	m, _ := newTestManager(t, store.NewMemoryStore())
	m.Lock()
	assert.Equal(t, StateOnboarding, m.State())

	fresh := NewManager(store.NewMemoryStore())
	fresh.Lock()
	assert.Equal(t, StateUninitialized, fresh.State())
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	ctx := context.Background()
	m, _, _ := unlockedManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.AddCredential(ctx, domain.NewCredential{
				Title: fmt.Sprintf("c%d", i), Username: "u", Password: "p",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	creds, err := m.Credentials()
	require.NoError(t, err)
	assert.Len(t, creds, 4)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	m, s, _ := unlockedManager(t)

	assert.ErrorIs(t, m.ChangePassword(ctx, "wrong", "N3w!Password99"), ErrInvalidPassword)

	var creationErr *VaultCreationError
	require.ErrorAs(t, m.ChangePassword(ctx, testPassword, "short"), &creationErr)

	require.NoError(t, m.ChangePassword(ctx, testPassword, "N3w!Password99"))

	fresh, _ := newTestManager(t, s)
	assert.ErrorIs(t, fresh.Unlock(ctx, testPassword), ErrInvalidPassword)
	assert.NoError(t, fresh.Unlock(ctx, "N3w!Password99"))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	m, _, mock := unlockedManager(t)

	added, err := m.AddCredential(ctx, domain.NewCredential{Title: "T", Username: "u", Password: "p"})
	require.NoError(t, err)

	mock.Add(time.Minute)
	require.NoError(t, m.RecordView(ctx, added.ID, "copied"))
	require.NoError(t, m.RecordShare(ctx, added.ID, "laptop"))
	require.NoError(t, m.RecordUse(ctx, added.ID))

	got, err := m.Credential(added.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, domain.HistoryView, got.History[0].Type)
	assert.Equal(t, domain.HistoryShare, got.History[1].Type)
	assert.Contains(t, got.History[1].Context, "laptop")
	require.NotNil(t, got.LastViewedAt)
	require.NotNil(t, got.LastSharedAt)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, added.UpdatedAt, got.UpdatedAt)

	assert.ErrorIs(t, m.RecordView(ctx, "missing", ""), ErrCredentialNotFound)
}

func TestImportShare(t *testing.T) {
	m, _, mock := unlockedManager(t)

	c, err := m.ImportShare(context.Background(), domain.IncomingShare{
		ID:         "share-1",
		FromName:   "laptop",
		FromIP:     "192.168.1.20",
		Credential: domain.SharedCredential{Title: "Demo", Username: "u", Password: "p"},
		Timestamp:  mock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Demo", c.Title)
	assert.Contains(t, c.Notes, "laptop")
	assert.Equal(t, []string{"shared"}, c.Tags)
}

func TestAutoLock(t *testing.T) {
	m, _, mock := unlockedManager(t)

	mock.Add(4 * time.Minute)
	assert.False(t, m.AutoLockDue())
	m.Touch()

	mock.Add(4 * time.Minute)
	assert.False(t, m.AutoLockDue())
	mock.Add(time.Minute)
	assert.True(t, m.AutoLockDue())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunAutoLock(ctx, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return m.State() == StateLocked
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestAutoLock_Disabled(t *testing.T) {
	m, _, mock := unlockedManager(t)
	zero := 0
	_, err := m.UpdateSettings(context.Background(), domain.SettingsPatch{AutoLockMinutes: &zero})
	require.NoError(t, err)

	mock.Add(24 * time.Hour)
	assert.False(t, m.AutoLockDue())
}
