package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/cipherkeep/cipherkeep/internal/clipboard"
	"github.com/cipherkeep/cipherkeep/internal/config"
	"github.com/cipherkeep/cipherkeep/internal/network"
	"github.com/cipherkeep/cipherkeep/internal/notify"
	"github.com/cipherkeep/cipherkeep/internal/session"
	"github.com/cipherkeep/cipherkeep/internal/store"
)

// Clipboard copies text and clears it after a delay
type Clipboard interface {
	CopyWithTimeout(ctx context.Context, text string, timeout time.Duration) error
	// Wait blocks until pending clears have run. Cancelling the copy context clears early.
	Wait()
}

// App carries everything the commands share. Zero fields are filled with the real
// implementations on first use; tests replace them.
type App struct {
	Config     *config.Config
	ConfigPath string

	In       io.Reader
	Out      io.Writer
	Prompter Prompter

	Clock     clock.Clock
	Logger    *slog.Logger
	Clipboard Clipboard
	Notifier  notify.Notifier

	// OpenStore opens the storage collaborator named by the config
	OpenStore func(cfg *config.Config) (store.BlobStore, error)
	// ServiceOptions lets callers adjust the sharing service before it is created
	ServiceOptions func(*network.Options)
}

func (a *App) clock() clock.Clock {
	if a.Clock == nil {
		a.Clock = clock.New()
	}
	return a.Clock
}

func (a *App) logger() *slog.Logger {
	if a.Logger == nil {
		a.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a.Logger
}

func (a *App) prompter() Prompter {
	if a.Prompter == nil {
		in := a.In
		if in == nil {
			in = os.Stdin
		}
		out := a.Out
		if out == nil {
			out = os.Stderr
		}
		a.Prompter = NewTerminalPrompter(in, out)
	}
	return a.Prompter
}

func (a *App) clipboard() Clipboard {
	if a.Clipboard == nil {
		a.Clipboard = clipboard.New(nil)
	}
	return a.Clipboard
}

func (a *App) openStore() (store.BlobStore, error) {
	if a.OpenStore != nil {
		return a.OpenStore(a.Config)
	}
	return store.Open(a.Config.Backend(), a.Config.VaultPath)
}

// newManager opens storage and inspects it without unlocking
func (a *App) newManager(ctx context.Context) (*session.Manager, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open vault storage: %w", err)
	}
	m := session.NewManager(s, session.WithClock(a.clock()), session.WithLogger(a.logger()))
	if err := m.Initialize(ctx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// unlock opens the vault and prompts for the master password
func (a *App) unlock(ctx context.Context) (*session.Manager, error) {
	m, err := a.newManager(ctx)
	if err != nil {
		return nil, err
	}
	if m.State() == session.StateOnboarding {
		m.Close()
		return nil, session.ErrVaultNotFound
	}

	password, err := a.prompter().Password("Master password: ")
	if err != nil {
		m.Close()
		return nil, err
	}
	if err := m.Unlock(ctx, password); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// closeManager locks the vault and releases storage, keeping the first error
func closeManager(m *session.Manager, err *error) {
	if cerr := m.Close(); cerr != nil && *err == nil && !errors.Is(cerr, store.ErrStoreClosed) {
		*err = fmt.Errorf("failed to close vault storage: %w", cerr)
	}
}

func (a *App) notifier() notify.Notifier {
	if a.Notifier == nil {
		out := a.Out
		if out == nil {
			out = os.Stdout
		}
		a.Notifier = notify.Multi{notify.NewWriterNotifier(out), notify.LogNotifier{Logger: a.logger()}}
	}
	return a.Notifier
}

// newService builds the sharing service from the network config. hooks run after
// ServiceOptions.
func (a *App) newService(peerID string, hooks ...func(*network.Options)) (*network.Service, error) {
	nc := a.Config.Network
	opts := network.Options{
		SelfID:           peerID,
		DisplayName:      a.Config.DisplayName,
		Secret:           a.Config.ShareSecret,
		Port:             nc.Port,
		MulticastGroup:   nc.MulticastGroup,
		PresenceInterval: nc.PresenceInterval,
		ProbeInterval:    nc.ProbeInterval,
		SweepInterval:    nc.SweepInterval,
		PeerTTL:          nc.PeerTTL,
		MaxShareAge:      nc.MaxShareAge,
		DisableProbing:   nc.DisableProbing,
		Clock:            a.clock(),
		Notifier:         a.notifier(),
		Logger:           a.logger(),
	}
	if nc.ResolvConf != "" {
		opts.Resolver = network.NewDNSResolver(nc.ResolvConf)
	}
	if a.ServiceOptions != nil {
		a.ServiceOptions(&opts)
	}
	for _, hook := range hooks {
		hook(&opts)
	}
	return network.NewService(opts)
}
