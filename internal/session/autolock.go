package session

import (
	"context"
	"time"
)

// Touch records user activity and postpones auto-lock
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastActivity = m.clock.Now()
}

// AutoLockDue reports whether the unlocked vault has been idle for at least
// settings.autoLockMinutes. Zero minutes disables auto-lock.
func (m *Manager) AutoLockDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoLockDueLocked()
}

func (m *Manager) autoLockDueLocked() bool {
	if m.state != StateUnlocked || m.vault == nil {
		return false
	}
	minutes := m.vault.Settings.AutoLockMinutes
	if minutes <= 0 {
		return false
	}
	return m.clock.Since(m.lastActivity) >= time.Duration(minutes)*time.Minute
}

// RunAutoLock checks for inactivity every interval and locks the vault when due.
// It returns when ctx is done.
func (m *Manager) RunAutoLock(ctx context.Context, interval time.Duration) {
	ticker := m.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.autoLockDueLocked() {
				m.log.Info("locking vault after inactivity")
				m.lockLocked()
			}
			m.mu.Unlock()
		}
	}
}
