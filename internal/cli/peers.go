package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/network"
)

const peerPollInterval = 250 * time.Millisecond

// NewPeersCommand creates the peers command
func NewPeersCommand(app *App) *cobra.Command {
	var (
		wait   time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Discover devices on the local network",
		Long: `Listen for presence announcements and probe the local subnet, then list the
devices found. Devices marked APP run CipherKeep and can receive shares.

Example:
  cipherkeep peers
  cipherkeep peers --wait 15s --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			svc, err := app.newService("")
			if err != nil {
				return err
			}
			if err := svc.Start(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				if serr := svc.Stop(); serr != nil && err == nil {
					err = serr
				}
			}()

			if err := sleepCtx(cmd.Context(), app.clock(), wait); err != nil {
				return err
			}

			peers := svc.Peers()
			out := cmd.OutOrStdout()
			if asJSON {
				if peers == nil {
					peers = []domain.PeerRecord{}
				}
				return writeJSON(out, peers)
			}
			return writePeerTable(cmd, app.clock().Now(), peers)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 6*time.Second, "How long to listen before listing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func writePeerTable(cmd *cobra.Command, now time.Time, peers []domain.PeerRecord) error {
	out := cmd.OutOrStdout()
	if len(peers) == 0 {
		return writeOutput(out, "No devices found\n")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if err := writeOutput(w, "NAME\tID\tIP\tAPP\tSEEN\n"); err != nil {
		return err
	}
	for _, p := range peers {
		hasApp := "-"
		if p.HasApp {
			hasApp = "yes"
		}
		id := p.ID
		if network.IsAddressID(id) {
			id = "-"
		}
		if err := writeOutput(w, "%s\t%s\t%s\t%s\t%s\n", truncate(p.Name, 32), id, p.IP, hasApp, formatAge(now.Sub(p.LastSeen))); err != nil {
			return err
		}
	}
	return w.Flush()
}

// findPeer matches a peer by id, or by display name when that is unambiguous
func findPeer(peers []domain.PeerRecord, ref string) (domain.PeerRecord, bool) {
	var byName []domain.PeerRecord
	for _, p := range peers {
		if p.ID == ref {
			return p, true
		}
		if strings.EqualFold(p.Name, ref) && p.HasApp && !network.IsAddressID(p.ID) {
			byName = append(byName, p)
		}
	}
	if len(byName) == 1 {
		return byName[0], true
	}
	return domain.PeerRecord{}, false
}

// sleepCtx waits for d on clk unless ctx ends first
func sleepCtx(ctx context.Context, clk clock.Clock, d time.Duration) error {
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForPeer polls the service until ref resolves to a peer that can receive shares
func waitForPeer(ctx context.Context, clk clock.Clock, svc *network.Service, ref string, timeout time.Duration) (domain.PeerRecord, error) {
	deadline := clk.Timer(timeout)
	defer deadline.Stop()
	ticker := clk.Ticker(peerPollInterval)
	defer ticker.Stop()

	for {
		if p, ok := findPeer(svc.Peers(), ref); ok && p.HasApp {
			return p, nil
		}
		select {
		case <-ctx.Done():
			return domain.PeerRecord{}, ctx.Err()
		case <-deadline.C:
			return domain.PeerRecord{}, fmt.Errorf("%w: %s not seen within %s", network.ErrPeerUnavailable, ref, timeout)
		case <-ticker.C:
		}
	}
}
