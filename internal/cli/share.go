package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/domain"
)

// NewShareCommand creates the share command
func NewShareCommand(app *App) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "share <peer> <id-or-title>",
		Short: "Send a credential to a peer on the local network",
		Long: `Encrypt a credential's title, username and password for one peer and send it.

<peer> is a peer id or display name as listed by 'cipherkeep peers'. The peer
must be running CipherKeep. Delivery is not acknowledged.

Example:
  cipherkeep share laptop-anna GitHub
  cipherkeep share 0b6f... 5f0c... --wait 20s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShare(cmd, app, args[0], args[1], wait)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "How long to look for the peer")
	return cmd
}

func runShare(cmd *cobra.Command, app *App, peerRef, credRef string, wait time.Duration) (err error) {
	ctx := cmd.Context()
	m, err := app.unlock(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m, &err)

	cred, err := findCredential(m, credRef)
	if err != nil {
		return err
	}

	svc, err := app.newService("")
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
	if err := writeOutput(out, "Looking for %s...\n", peerRef); err != nil {
		return err
	}
	peer, err := waitForPeer(ctx, app.clock(), svc, peerRef, wait)
	if err != nil {
		return err
	}

	shareID, err := svc.SendShare(ctx, peer.ID, domain.SharedCredential{
		Title:    cred.Title,
		Username: cred.Username,
		Password: cred.Password,
	})
	if err != nil {
		return err
	}
	if err := m.RecordShare(ctx, cred.ID, peer.Name); err != nil {
		return err
	}

	app.logger().Debug("share sent", "share_id", shareID, "peer_id", peer.ID)
	return writeOutput(out, "✓ '%s' sent to %s (%s)\n", cred.Title, peer.Name, peer.IP)
}
