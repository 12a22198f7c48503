package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cipherkeep/cipherkeep/internal/api"
	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/network"
	"github.com/cipherkeep/cipherkeep/internal/session"
)

// pendingShares bounds how many received shares may wait for a decision
const pendingShares = 16

type serveOptions struct {
	accept   bool
	api      bool
	apiAddr  string
	lockPoll time.Duration
}

// NewServeCommand creates the serve command
func NewServeCommand(app *App) *cobra.Command {
	opts := &serveOptions{lockPoll: 15 * time.Second}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Stay online to receive shares and serve the local API",
		Long: `Unlock the vault and stay visible on the local network until interrupted.

Received credentials are offered for saving one at a time, or saved without
asking with --accept. --api also serves the unlocked vault's credentials on a
loopback-only HTTP endpoint for local integrations. The vault locks itself after
the configured idle time; the API then answers 423 Locked.

Example:
  cipherkeep serve
  cipherkeep serve --accept --api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.accept, "accept", false, "Save received credentials without asking")
	cmd.Flags().BoolVar(&opts.api, "api", false, "Serve the local credential API")
	cmd.Flags().StringVar(&opts.apiAddr, "api-addr", "", "Local API listen address (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, opts *serveOptions) (err error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m, err := app.unlock(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	incoming := make(chan domain.IncomingShare, pendingShares)
	svc, err := app.newService("", func(o *network.Options) {
		o.OnShareReceived = func(share domain.IncomingShare) {
			select {
			case incoming <- share:
			default:
				app.logger().Warn("dropping share, too many waiting", "share_id", share.ID)
			}
		}
		o.OnError = func(err error) {
			app.logger().Warn("sharing error", "err", err)
		}
	})
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if serr := svc.Stop(); serr != nil && err == nil {
			err = serr
		}
	}()

	out := cmd.OutOrStdout()
	if err := writeOutput(out, "✓ Online as %s (%s). Press Ctrl+C to stop.\n", app.Config.DisplayName, svc.ID()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.RunAutoLock(gctx, opts.lockPoll)
		return nil
	})

	if opts.api {
		addr := opts.apiAddr
		if addr == "" {
			addr = app.Config.API.Addr
		}
		srv, err := api.NewServer(&api.ServerConfig{ListenAddr: addr, Log: app.logger()}, api.NewHandler(m, app.clock(), app.logger()))
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
		if err := writeOutput(out, "✓ Local API on http://%s\n", addr); err != nil {
			return err
		}
	}

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case share := <-incoming:
				if err := handleIncoming(gctx, app, m, out, share, opts.accept); err != nil {
					return err
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// handleIncoming saves a received share, asking first unless accept is set
func handleIncoming(ctx context.Context, app *App, m *session.Manager, out io.Writer, share domain.IncomingShare, accept bool) error {
	c := share.Credential
	if !accept {
		ok, err := PromptConfirm(app.prompter(), fmt.Sprintf("Save '%s' (%s) from %s?", c.Title, c.Username, share.FromName), true)
		if err != nil {
			return err
		}
		if !ok {
			return writeOutput(out, "Discarded '%s'\n", c.Title)
		}
	}

	saved, err := m.ImportShare(ctx, share)
	switch {
	case errors.Is(err, session.ErrVaultLocked):
		return writeOutput(out, "✗ Vault is locked, '%s' from %s was not saved\n", c.Title, share.FromName)
	case err != nil:
		return err
	}
	return writeOutput(out, "✓ Saved '%s' from %s (%s)\n", saved.Title, share.FromName, saved.ID)
}
