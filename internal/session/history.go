package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// RecordView appends a view entry and stamps lastViewedAt
func (m *Manager) RecordView(ctx context.Context, id, note string) error {
	return m.touchCredential(ctx, id, func(c *domain.Credential, now time.Time) {
		c.LastViewedAt = &now
		c.History = append(c.History, domain.HistoryEntry{
			ID:        m.newID(),
			Type:      domain.HistoryView,
			Timestamp: now,
			Context:   note,
		})
	})
}

// RecordShare appends a share entry naming the receiving peer and stamps lastSharedAt
func (m *Manager) RecordShare(ctx context.Context, id, peerName string) error {
	return m.touchCredential(ctx, id, func(c *domain.Credential, now time.Time) {
		c.LastSharedAt = &now
		c.History = append(c.History, domain.HistoryEntry{
			ID:        m.newID(),
			Type:      domain.HistoryShare,
			Timestamp: now,
			Context:   "shared with " + peerName,
		})
	})
}

// RecordUse stamps lastUsedAt, for example when the password was copied for a login
func (m *Manager) RecordUse(ctx context.Context, id string) error {
	return m.touchCredential(ctx, id, func(c *domain.Credential, now time.Time) {
		c.LastUsedAt = &now
	})
}

// touchCredential updates usage metadata. updatedAt tracks content edits and is left alone.
func (m *Manager) touchCredential(ctx context.Context, id string, fn func(*domain.Credential, time.Time)) error {
	return m.mutate(ctx, func(v *domain.Vault, now time.Time) error {
		i := v.Find(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
		}
		fn(&v.Credentials[i], now)
		return nil
	})
}

// ImportShare saves a credential received from a peer as a new vault entry
func (m *Manager) ImportShare(ctx context.Context, share domain.IncomingShare) (*domain.Credential, error) {
	from := share.FromName
	if from == "" {
		from = share.FromIP
	}
	return m.AddCredential(ctx, domain.NewCredential{
		Title:    share.Credential.Title,
		Username: share.Credential.Username,
		Password: share.Credential.Password,
		Notes:    fmt.Sprintf("Received from %s (%s) on %s", from, share.FromIP, share.Timestamp.UTC().Format(time.RFC3339)),
		Tags:     []string{"shared"},
	})
}
