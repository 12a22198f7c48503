// Package notify shows user-facing messages about sharing activity.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Notifier displays a short message to the user
type Notifier interface {
	Notify(title, body string) error
}

// LogNotifier records notifications in the structured log
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(title, body string) error {
	if n.Logger != nil {
		n.Logger.Info("notification", "title", title, "body", body)
	}
	return nil
}

// WriterNotifier prints notifications as a single line, for the interactive CLI
type WriterNotifier struct {
	mu sync.Mutex
	W  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{W: w}
}

func (n *WriterNotifier) Notify(title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if body == "" {
		_, err := fmt.Fprintf(n.W, "🔔 %s\n", title)
		return err
	}
	_, err := fmt.Fprintf(n.W, "🔔 %s: %s\n", title, body)
	return err
}

// Multi fans a notification out to several notifiers and returns the first error
type Multi []Notifier

func (m Multi) Notify(title, body string) error {
	var first error
	for _, n := range m {
		if err := n.Notify(title, body); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps every notification in memory
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Entry is one recorded notification
type Entry struct {
	Title string
	Body  string
}

func (r *Recorder) Notify(title, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Title: title, Body: body})
	return nil
}

// Entries returns a copy of the recorded notifications
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}
