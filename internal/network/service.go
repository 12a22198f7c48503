// Package network discovers CipherKeep instances on the local network and exchanges
// encrypted credentials with them over UDP.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/notify"
)

// Default timings of the discovery loops
const (
	DefaultPresenceInterval = 3 * time.Second
	DefaultProbeInterval    = 2 * time.Second
	DefaultSweepInterval    = 2 * time.Second
	DefaultMaxShareAge      = 5 * time.Minute
)

// Options configures a Service. Zero values select the defaults.
type Options struct {
	SelfID      string
	DisplayName string
	Secret      string

	Port             int
	MulticastGroup   string
	PresenceInterval time.Duration
	ProbeInterval    time.Duration
	SweepInterval    time.Duration
	PeerTTL          time.Duration
	MaxShareAge      time.Duration
	DisableProbing   bool

	// Local is the host's LAN address; detected on Start when nil
	Local *LocalAddr

	Clock    clock.Clock
	Sockets  SocketFactory
	Dialer   Dialer
	Resolver Resolver
	Notifier notify.Notifier
	Logger   *slog.Logger

	OnPeersChanged  func([]domain.PeerRecord)
	OnShareReceived func(domain.IncomingShare)
	OnError         func(error)
}

// Service runs presence, probing, eviction and the share receive loop
type Service struct {
	opts     Options
	selfID   string
	clock    clock.Clock
	log      *slog.Logger
	cipher   *ShareCipher
	registry *Registry
	prober   *Prober
	group    *net.UDPAddr

	running  atomic.Bool
	scanning atomic.Bool

	mu       sync.Mutex
	conn     PacketConn
	beacon   net.Listener
	local    LocalAddr
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	seen     map[string]time.Time // delivered share ids
	resolved map[string]struct{}  // addresses already reverse-resolved
}

// NewService validates opts and builds a stopped service
func NewService(opts Options) (*Service, error) {
	if opts.SelfID == "" {
		opts.SelfID = uuid.NewString()
	}
	if IsAddressID(opts.SelfID) {
		return nil, fmt.Errorf("peer id %q must not be an IP address", opts.SelfID)
	}
	if opts.DisplayName == "" {
		opts.DisplayName = opts.SelfID
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.MulticastGroup == "" {
		opts.MulticastGroup = DefaultMulticastGroup
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = DefaultPresenceInterval
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.PeerTTL <= 0 {
		opts.PeerTTL = DefaultPeerTTL
	}
	if opts.MaxShareAge <= 0 {
		opts.MaxShareAge = DefaultMaxShareAge
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{Logger: opts.Logger}
	}

	groupIP := net.ParseIP(opts.MulticastGroup).To4()
	if groupIP == nil || !groupIP.IsMulticast() {
		return nil, fmt.Errorf("invalid multicast group %q", opts.MulticastGroup)
	}
	if opts.Sockets == nil {
		opts.Sockets = &MulticastSocketFactory{Group: groupIP, Logger: opts.Logger}
	}

	prober := NewProber(opts.Port)
	if opts.Dialer != nil {
		prober.Dialer = opts.Dialer
	}

	s := &Service{
		opts:     opts,
		selfID:   opts.SelfID,
		clock:    opts.Clock,
		log:      opts.Logger.With("component", "network", "peer_id", opts.SelfID),
		cipher:   NewShareCipher(opts.Secret),
		prober:   prober,
		group:    &net.UDPAddr{IP: groupIP, Port: opts.Port},
		seen:     make(map[string]time.Time),
		resolved: make(map[string]struct{}),
	}
	s.registry = NewRegistry(opts.SelfID, opts.PeerTTL, opts.Clock, s.peersChanged)

	if opts.Secret == "" {
		s.log.Warn("no share secret configured, using the built-in default; shares are only obscured from casual observers")
	}
	return s, nil
}

// ID returns this instance's peer identity
func (s *Service) ID() string {
	return s.selfID
}

// Registry exposes the peer registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Peers returns the live peers
func (s *Service) Peers() []domain.PeerRecord {
	return s.registry.Peers()
}

// Start opens the sockets and launches the discovery loops. They run until Stop is called
// or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("sharing service already running")
	}

	local, err := s.localAddr()
	if err != nil {
		s.running.Store(false)
		return err
	}

	conn, err := s.opts.Sockets.ListenPacket(ctx, s.opts.Port)
	if err != nil {
		s.running.Store(false)
		return err
	}

	beacon, err := s.opts.Sockets.Listen(ctx, s.opts.Port)
	if err != nil {
		// Without the beacon probes see us as a plain host; presence still works.
		s.log.Warn("probe beacon unavailable", "err", err)
		beacon = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.beacon = beacon
	s.local = local
	s.cancel = cancel
	s.mu.Unlock()

	s.log.Info("sharing service started", "ip", local.Addr().String(), "port", s.opts.Port, "name", s.opts.DisplayName)

	s.goLoop(func() { s.receiveLoop(conn) })
	if beacon != nil {
		s.goLoop(func() { s.beaconLoop(beacon) })
	}
	s.goLoop(func() { s.every(ctx, s.opts.PresenceInterval, true, s.announce) })
	s.goLoop(func() { s.every(ctx, s.opts.SweepInterval, false, s.sweep) })
	if !s.opts.DisableProbing {
		s.goLoop(func() { s.every(ctx, s.opts.ProbeInterval, true, s.scan) })
	}
	return nil
}

func (s *Service) localAddr() (LocalAddr, error) {
	if s.opts.Local != nil {
		return *s.opts.Local, nil
	}
	local, err := DetectLocalAddr()
	if err != nil {
		return LocalAddr{}, err
	}
	return local, nil
}

func (s *Service) goLoop(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// every runs fn on each tick of the injected clock until ctx is done
func (s *Service) every(ctx context.Context, interval time.Duration, immediately bool, fn func(context.Context)) {
	if immediately {
		fn(ctx)
	}
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop cancels every loop, leaves the multicast group and closes the sockets. It blocks
// until all goroutines have exited.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	cancel, conn, beacon := s.cancel, s.conn, s.beacon
	s.conn, s.beacon, s.cancel = nil, nil, nil
	s.mu.Unlock()

	cancel()
	var errs []error
	if err := conn.Close(); err != nil {
		errs = append(errs, &NetworkError{Op: "close udp", Err: err})
	}
	if beacon != nil {
		if err := beacon.Close(); err != nil {
			errs = append(errs, &NetworkError{Op: "close tcp", Err: err})
		}
	}
	s.wg.Wait()
	s.log.Info("sharing service stopped")
	return errors.Join(errs...)
}

func (s *Service) receiveLoop(conn PacketConn) {
	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.report(&NetworkError{Op: "receive", Err: err})
			continue
		}
		s.handleDatagram(buf[:n], from)
	}
}

func (s *Service) beaconLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Debug("probe beacon accept failed", "err", err)
			continue
		}
		_ = conn.Close()
	}
}

// handleDatagram dispatches one received datagram. Malformed input is dropped.
func (s *Service) handleDatagram(data []byte, from net.Addr) {
	msg, err := Decode(data)
	if err != nil {
		s.log.Debug("dropping datagram", "from", addrString(from), "err", err)
		return
	}

	switch m := msg.(type) {
	case *Presence:
		s.handlePresence(m, from)
	case *Share:
		s.handleShare(m, from)
	}
}

func (s *Service) handlePresence(p *Presence, from net.Addr) {
	if p.ID == s.selfID {
		return
	}
	if !s.cipher.VerifyPresence(p) {
		s.log.Debug("dropping presence", "from", addrString(from), "err", ErrBadSignature)
		return
	}
	if _, err := netip.ParseAddr(p.IP); err != nil {
		s.log.Debug("dropping presence", "from", addrString(from), "err", ErrMalformedMessage)
		return
	}
	s.registry.ObservePresence(p.ID, p.DisplayName, p.IP)
}

func (s *Service) handleShare(m *Share, from net.Addr) {
	// Shares for other peers are expected noise
	if m.TargetID != s.selfID || m.SenderID == s.selfID {
		return
	}

	now := s.clock.Now()
	age := now.Sub(m.Time())
	if age > s.opts.MaxShareAge || -age > s.opts.MaxShareAge {
		// Usually clock skew between the hosts; the sender already believes it was delivered
		s.report(fmt.Errorf("share %s from %s sent at %s: %w", m.ShareID, addrString(from), m.Time().UTC().Format(time.RFC3339), ErrStaleShare))
		return
	}

	s.mu.Lock()
	_, dup := s.seen[m.ShareID]
	s.mu.Unlock()
	if dup {
		s.log.Debug("dropping share", "share_id", m.ShareID, "err", ErrDuplicateShare)
		return
	}

	cred, err := s.cipher.DecryptShare(s.selfID, m.SenderID, m.PayloadVersion, m.EncryptedPayload)
	if err != nil {
		s.report(fmt.Errorf("share %s from %s: %w", m.ShareID, addrString(from), err))
		return
	}

	s.mu.Lock()
	if _, dup := s.seen[m.ShareID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[m.ShareID] = now
	s.mu.Unlock()

	fromIP := m.SenderIP
	if fromIP == "" {
		fromIP = addrString(from)
	}
	fromName := m.SenderDisplayName
	if fromName == "" {
		fromName = fromIP
	}

	share := domain.IncomingShare{
		ID:         m.ShareID,
		SenderID:   m.SenderID,
		FromName:   fromName,
		FromIP:     fromIP,
		Credential: cred,
		Timestamp:  m.Time(),
	}
	s.log.Info("share received", "share_id", share.ID, "from", fromName)

	if s.opts.OnShareReceived != nil {
		s.opts.OnShareReceived(share)
	}
	if err := s.opts.Notifier.Notify("Password received from "+fromName, cred.Title); err != nil {
		s.log.Warn("notification failed", "err", err)
	}
}

// SendShare encrypts cred for peerID and sends it to the peer's last known address.
// Delivery is fire-and-forget. The returned id identifies the share.
func (s *Service) SendShare(ctx context.Context, peerID string, cred domain.SharedCredential) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	conn, local := s.conn, s.local
	s.mu.Unlock()
	if !s.running.Load() || conn == nil {
		return "", ErrNotRunning
	}

	if IsAddressID(peerID) {
		return "", fmt.Errorf("%w: %s is not running CipherKeep", ErrPeerUnavailable, peerID)
	}
	peer, ok := s.registry.Lookup(peerID)
	if !ok || !peer.HasApp {
		return "", fmt.Errorf("%w: %s", ErrPeerUnavailable, peerID)
	}
	ip, err := netip.ParseAddr(peer.IP)
	if err != nil {
		return "", fmt.Errorf("%w: %s has no usable address", ErrPeerUnavailable, peerID)
	}

	blob, err := s.cipher.EncryptShare(s.selfID, peerID, cred)
	if err != nil {
		return "", err
	}

	msg := &Share{
		ShareID:           uuid.NewString(),
		SenderID:          s.selfID,
		TargetID:          peerID,
		SenderDisplayName: s.opts.DisplayName,
		SenderIP:          local.Addr().String(),
		EncryptedPayload:  *blob,
		PayloadVersion:    PayloadVersion,
		Timestamp:         s.clock.Now().UnixMilli(),
	}
	data, err := Encode(msg)
	if err != nil {
		return "", err
	}

	to := net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(s.opts.Port)))
	if _, err := conn.WriteTo(data, to); err != nil {
		return "", &NetworkError{Op: "send share", Addr: to.String(), Err: err}
	}

	s.log.Info("share sent", "share_id", msg.ShareID, "to", peer.Name)
	if err := s.opts.Notifier.Notify("Password sent", fmt.Sprintf("%s sent to %s", cred.Title, peer.Name)); err != nil {
		s.log.Warn("notification failed", "err", err)
	}
	return msg.ShareID, nil
}

// announce sends a signed presence to the multicast group and to every known peer
func (s *Service) announce(_ context.Context) {
	s.mu.Lock()
	conn, local := s.conn, s.local
	s.mu.Unlock()
	if conn == nil {
		return
	}

	p := &Presence{
		ID:          s.selfID,
		DisplayName: s.opts.DisplayName,
		IP:          local.Addr().String(),
		Timestamp:   s.clock.Now().UnixMilli(),
	}
	s.cipher.SignPresence(p)
	data, err := Encode(p)
	if err != nil {
		s.report(err)
		return
	}

	targets := []net.Addr{s.group}
	self := local.Addr().String()
	for _, ip := range s.registry.Addresses() {
		if ip == self {
			continue
		}
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			continue
		}
		targets = append(targets, net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, uint16(s.opts.Port))))
	}

	for _, to := range targets {
		if _, err := conn.WriteTo(data, to); err != nil {
			s.log.Debug("presence send failed", "err", &NetworkError{Op: "send presence", Addr: to.String(), Err: err})
		}
	}
}

// scan probes the subnet once. Overlapping ticks are skipped while a scan is running.
func (s *Service) scan(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		return
	}
	defer s.scanning.Store(false)

	s.mu.Lock()
	local := s.local
	s.mu.Unlock()

	hosts := SubnetHosts(local.Prefix)
	err := s.prober.Scan(ctx, hosts, func(r ProbeResult) {
		ip := r.Addr.String()
		s.registry.ObserveProbe(ip, r.HasApp)
		s.resolveName(ctx, ip)
	})
	if err != nil && ctx.Err() == nil {
		s.log.Debug("subnet scan incomplete", "err", &NetworkError{Op: "probe", Err: err})
	}
}

// resolveName looks up a PTR name for a probe-only record, once per address
func (s *Service) resolveName(ctx context.Context, ip string) {
	if s.opts.Resolver == nil {
		return
	}
	rec, ok := s.registry.Lookup(ip)
	if !ok || rec.Name != ip {
		return
	}

	s.mu.Lock()
	_, done := s.resolved[ip]
	s.resolved[ip] = struct{}{}
	s.mu.Unlock()
	if done {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultFallbackProbeTimeout)
	defer cancel()
	name, err := s.opts.Resolver.LookupName(ctx, ip)
	if err != nil {
		return
	}
	s.registry.ObserveName(ip, name)
}

// sweep evicts expired peers and forgets share ids outside the replay window
func (s *Service) sweep(_ context.Context) {
	if n := s.registry.Sweep(); n > 0 {
		s.log.Debug("evicted peers", "count", n)
	}

	now := s.clock.Now()
	s.mu.Lock()
	for id, at := range s.seen {
		if now.Sub(at) > 2*s.opts.MaxShareAge {
			delete(s.seen, id)
		}
	}
	s.mu.Unlock()
}

func (s *Service) peersChanged(peers []domain.PeerRecord) {
	s.log.Debug("peers changed", "count", len(peers))
	if s.opts.OnPeersChanged != nil {
		s.opts.OnPeersChanged(peers)
	}
}

// report sends an error to the generic error channel
func (s *Service) report(err error) {
	s.log.Warn("sharing error", "err", err)
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	if udp, ok := a.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}
