// Package clipboard copies secrets to the system clipboard and clears them again.
package clipboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

// Backend is the system clipboard
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type system struct{}

func (system) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (system) WriteAll(text string) error { return clipboard.WriteAll(text) }

// System returns the real clipboard
func System() Backend {
	return system{}
}

// Clipper copies text and clears it after a delay if it is still on the clipboard
type Clipper struct {
	backend Backend
	wg      sync.WaitGroup
}

func New(backend Backend) *Clipper {
	if backend == nil {
		backend = System()
	}
	return &Clipper{backend: backend}
}

// CopyWithTimeout copies text to clipboard and clears it after timeout. A zero timeout
// leaves the text in place.
func (c *Clipper) CopyWithTimeout(ctx context.Context, text string, timeout time.Duration) error {
	if err := c.backend.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	if timeout <= 0 {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		c.clearIfUnchanged(text)
	}()
	return nil
}

// clearIfUnchanged leaves the clipboard alone if the user copied something else meanwhile
func (c *Clipper) clearIfUnchanged(text string) {
	current, err := c.backend.ReadAll()
	if err == nil && current == text {
		_ = c.backend.WriteAll("")
	}
}

// Wait blocks until every pending clear has run
func (c *Clipper) Wait() {
	c.wg.Wait()
}

// IsAvailable returns true if clipboard functionality is available
func IsAvailable() bool {
	return !clipboard.Unsupported
}
