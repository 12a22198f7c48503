package network

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultProbeConcurrency bounds connection attempts in flight during a scan
	DefaultProbeConcurrency = 50
	// DefaultAppProbeTimeout is the connect timeout for the application port
	DefaultAppProbeTimeout = 500 * time.Millisecond
	// DefaultFallbackProbeTimeout is the connect timeout for the fallback port
	DefaultFallbackProbeTimeout = 300 * time.Millisecond
	// DefaultFallbackPort is a service port commonly open on desktop hosts (SMB)
	DefaultFallbackPort = 445
)

// Dialer opens TCP connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ProbeResult is the outcome for one reachable host
type ProbeResult struct {
	Addr   netip.Addr
	HasApp bool
}

// Prober checks subnet hosts for the application port
type Prober struct {
	Dialer          Dialer
	AppPort         int
	FallbackPort    int
	AppTimeout      time.Duration
	FallbackTimeout time.Duration
	Concurrency     int
}

// NewProber returns a prober with the default timeouts and concurrency
func NewProber(appPort int) *Prober {
	return &Prober{
		Dialer:          &net.Dialer{},
		AppPort:         appPort,
		FallbackPort:    DefaultFallbackPort,
		AppTimeout:      DefaultAppProbeTimeout,
		FallbackTimeout: DefaultFallbackProbeTimeout,
		Concurrency:     DefaultProbeConcurrency,
	}
}

// Probe classifies one host. A host that accepts the application port runs the app. A
// host that actively refuses a port, or accepts the fallback port, is reachable.
func (p *Prober) Probe(ctx context.Context, addr netip.Addr) (reachable, hasApp bool) {
	err := p.dial(ctx, addr, p.AppPort, p.AppTimeout)
	if err == nil {
		return true, true
	}
	if isRefused(err) {
		return true, false
	}
	if ctx.Err() != nil || p.FallbackPort <= 0 {
		return false, false
	}

	err = p.dial(ctx, addr, p.FallbackPort, p.FallbackTimeout)
	return err == nil || isRefused(err), false
}

func (p *Prober) dial(ctx context.Context, addr netip.Addr, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.String(), strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Scan probes every host with bounded concurrency and calls found for each reachable one.
// found is called from several goroutines. Scan returns when all probes finished or ctx is done.
func (p *Prober) Scan(ctx context.Context, hosts []netip.Addr, found func(ProbeResult)) error {
	limit := p.Concurrency
	if limit <= 0 {
		limit = DefaultProbeConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, host := range hosts {
		if gctx.Err() != nil {
			break
		}
		host := host
		g.Go(func() error {
			if reachable, hasApp := p.Probe(gctx, host); reachable {
				found(ProbeResult{Addr: host, HasApp: hasApp})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
