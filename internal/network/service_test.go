package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherkeep/cipherkeep/internal/domain"
	"github.com/cipherkeep/cipherkeep/internal/notify"
)

type datagram struct {
	data []byte
	from net.Addr
}

// fakeLAN delivers datagrams between fake sockets keyed by IP
type fakeLAN struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeLAN() *fakeLAN {
	return &fakeLAN{conns: make(map[string]*fakeConn)}
}

func (l *fakeLAN) deliver(from *fakeConn, p []byte, to *net.UDPAddr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := datagram{data: append([]byte(nil), p...), from: &net.UDPAddr{IP: net.ParseIP(from.ip), Port: DefaultPort}}
	for ip, c := range l.conns {
		if ip == from.ip {
			continue
		}
		if to.IP.IsMulticast() || to.IP.String() == ip {
			select {
			case c.inbox <- d:
			default:
			}
		}
	}
}

type fakeConn struct {
	lan    *fakeLAN
	ip     string
	inbox  chan datagram
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []string
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbox:
		return copy(p, d.data), d.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	udp := addr.(*net.UDPAddr)
	c.mu.Lock()
	c.writes = append(c.writes, udp.IP.String())
	c.mu.Unlock()
	c.lan.deliver(c, p, udp)
	return len(p), nil
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(c.ip), Port: DefaultPort}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.lan.mu.Lock()
		delete(c.lan.conns, c.ip)
		c.lan.mu.Unlock()
	})
	return nil
}

type fakeSockets struct {
	lan *fakeLAN
	ip  string
}

func (f *fakeSockets) ListenPacket(_ context.Context, _ int) (PacketConn, error) {
	c := &fakeConn{lan: f.lan, ip: f.ip, inbox: make(chan datagram, 64), closed: make(chan struct{})}
	f.lan.mu.Lock()
	f.lan.conns[f.ip] = c
	f.lan.mu.Unlock()
	return c, nil
}

func (f *fakeSockets) Listen(_ context.Context, _ int) (net.Listener, error) {
	return nil, errors.New("tcp disabled in tests")
}

type shareSink struct {
	mu     sync.Mutex
	shares []domain.IncomingShare
	errs   []error
}

func (s *shareSink) onShare(share domain.IncomingShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shares = append(s.shares, share)
}

func (s *shareSink) onError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *shareSink) received() []domain.IncomingShare {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.IncomingShare(nil), s.shares...)
}

func (s *shareSink) errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

type testPeer struct {
	svc      *Service
	sink     *shareSink
	notifier *notify.Recorder
}

func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return mock
}

func newTestPeer(t *testing.T, lan *fakeLAN, mock *clock.Mock, id, name, ip string) *testPeer {
	t.Helper()
	sink := &shareSink{}
	rec := &notify.Recorder{}
	local := LocalAddr{Prefix: netip.PrefixFrom(netip.MustParseAddr(ip), 24)}

	svc, err := NewService(Options{
		SelfID:          id,
		DisplayName:     name,
		Secret:          "test-secret",
		Local:           &local,
		DisableProbing:  true,
		Clock:           mock,
		Sockets:         &fakeSockets{lan: lan, ip: ip},
		Notifier:        rec,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnShareReceived: sink.onShare,
		OnError:         sink.onError,
	})
	require.NoError(t, err)
	return &testPeer{svc: svc, sink: sink, notifier: rec}
}

func TestService_DiscoverAndShare(t *testing.T) {
	ctx := context.Background()
	lan := newFakeLAN()
	mock := newTestClock()

	s1 := newTestPeer(t, lan, mock, "s1", "Desktop", "10.0.0.1")
	s2 := newTestPeer(t, lan, mock, "s2", "Laptop", "10.0.0.2")
	require.NoError(t, s1.svc.Start(ctx))
	require.NoError(t, s2.svc.Start(ctx))
	defer s1.svc.Stop()
	defer s2.svc.Stop()

	require.Eventually(t, func() bool {
		mock.Add(DefaultPresenceInterval)
		_, ok1 := s1.svc.Registry().Lookup("s2")
		_, ok2 := s2.svc.Registry().Lookup("s1")
		return ok1 && ok2
	}, 2*time.Second, 10*time.Millisecond)

	peer, _ := s1.svc.Registry().Lookup("s2")
	assert.Equal(t, "Laptop", peer.Name)
	assert.Equal(t, "10.0.0.2", peer.IP)
	assert.True(t, peer.HasApp)

	shareID, err := s1.svc.SendShare(ctx, "s2", domain.SharedCredential{Title: "Demo", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.NotEmpty(t, shareID)

	require.Eventually(t, func() bool { return len(s2.sink.received()) == 1 }, time.Second, 5*time.Millisecond)
	got := s2.sink.received()[0]
	assert.Equal(t, shareID, got.ID)
	assert.Equal(t, "s1", got.SenderID)
	assert.Equal(t, "Desktop", got.FromName)
	assert.Equal(t, "10.0.0.1", got.FromIP)
	assert.Equal(t, domain.SharedCredential{Title: "Demo", Username: "u", Password: "p"}, got.Credential)

	assert.Equal(t, []notify.Entry{{Title: "Password sent", Body: "Demo sent to Laptop"}}, s1.notifier.Entries())
	require.Eventually(t, func() bool { return len(s2.notifier.Entries()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Password received from Desktop", s2.notifier.Entries()[0].Title)
	assert.Empty(t, s2.sink.errors())
}

func TestService_StopClosesSockets(t *testing.T) {
	lan := newFakeLAN()
	p := newTestPeer(t, lan, newTestClock(), "s1", "Desktop", "10.0.0.1")

	require.NoError(t, p.svc.Start(context.Background()))
	assert.Error(t, p.svc.Start(context.Background()), "second start")

	require.NoError(t, p.svc.Stop())
	require.NoError(t, p.svc.Stop())

	lan.mu.Lock()
	assert.Empty(t, lan.conns)
	lan.mu.Unlock()

	_, err := p.svc.SendShare(context.Background(), "s2", demo)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestService_SendShareUnavailable(t *testing.T) {
	ctx := context.Background()
	p := newTestPeer(t, newFakeLAN(), newTestClock(), "s1", "Desktop", "10.0.0.1")
	require.NoError(t, p.svc.Start(ctx))
	defer p.svc.Stop()

	_, err := p.svc.SendShare(ctx, "nobody", demo)
	assert.ErrorIs(t, err, ErrPeerUnavailable)

	p.svc.Registry().ObserveProbe("10.0.0.9", true)
	_, err = p.svc.SendShare(ctx, "10.0.0.9", demo)
	assert.ErrorIs(t, err, ErrPeerUnavailable, "probe-only peers have no identity to encrypt for")

	assert.Empty(t, p.notifier.Entries())
}

func shareDatagram(t *testing.T, mock *clock.Mock, sender, target string, secret string, at time.Time) []byte {
	t.Helper()
	blob, err := NewShareCipher(secret).EncryptShare(sender, target, demo)
	require.NoError(t, err)
	data, err := Encode(&Share{
		ShareID:           "share-" + sender + "-" + target + "-" + at.Format(time.RFC3339Nano),
		SenderID:          sender,
		TargetID:          target,
		SenderDisplayName: "Sender",
		SenderIP:          "10.0.0.5",
		EncryptedPayload:  *blob,
		PayloadVersion:    PayloadVersion,
		Timestamp:         at.UnixMilli(),
	})
	require.NoError(t, err)
	return data
}

func TestService_TargetedDrop(t *testing.T) {
	mock := newTestClock()
	p := newTestPeer(t, newFakeLAN(), mock, "s2", "Laptop", "10.0.0.2")
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort}

	p.svc.handleDatagram(shareDatagram(t, mock, "s1", "s3", "test-secret", mock.Now()), from)

	assert.Empty(t, p.sink.received())
	assert.Empty(t, p.sink.errors())
	assert.Empty(t, p.notifier.Entries())
	assert.Zero(t, p.svc.Registry().Len())
}

func TestService_UndecryptableShareIsReported(t *testing.T) {
	mock := newTestClock()
	p := newTestPeer(t, newFakeLAN(), mock, "s2", "Laptop", "10.0.0.2")
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort}

	p.svc.handleDatagram(shareDatagram(t, mock, "s1", "s2", "wrong-secret", mock.Now()), from)

	assert.Empty(t, p.sink.received())
	assert.Len(t, p.sink.errors(), 1)
	assert.Empty(t, p.notifier.Entries())
}

func TestService_ReplayAndStaleShares(t *testing.T) {
	mock := newTestClock()
	p := newTestPeer(t, newFakeLAN(), mock, "s2", "Laptop", "10.0.0.2")
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort}

	fresh := shareDatagram(t, mock, "s1", "s2", "test-secret", mock.Now())
	p.svc.handleDatagram(fresh, from)
	p.svc.handleDatagram(fresh, from)
	assert.Len(t, p.sink.received(), 1, "replayed share id is delivered once")

	stale := shareDatagram(t, mock, "s1", "s2", "test-secret", mock.Now().Add(-DefaultMaxShareAge-time.Second))
	p.svc.handleDatagram(stale, from)
	assert.Len(t, p.sink.received(), 1)

	// A sender whose clock runs ahead is reported the same way
	skewed := shareDatagram(t, mock, "s1", "s2", "test-secret", mock.Now().Add(DefaultMaxShareAge+time.Minute))
	p.svc.handleDatagram(skewed, from)
	assert.Len(t, p.sink.received(), 1)

	errs := p.sink.errors()
	require.Len(t, errs, 2, "duplicates stay silent, out-of-window shares are reported")
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrStaleShare)
	}
}

func TestService_PresenceHandling(t *testing.T) {
	mock := newTestClock()
	p := newTestPeer(t, newFakeLAN(), mock, "s2", "Laptop", "10.0.0.2")
	from := &net.UDPAddr{IP: net.ParseIP("10.0.0.7"), Port: DefaultPort}
	signer := NewShareCipher("test-secret")

	presence := func(id, ip string, c *ShareCipher) []byte {
		msg := &Presence{ID: id, DisplayName: "Peer " + id, IP: ip, Timestamp: mock.Now().UnixMilli()}
		c.SignPresence(msg)
		data, err := Encode(msg)
		require.NoError(t, err)
		return data
	}

	p.svc.handleDatagram(presence("s2", "10.0.0.2", signer), from)
	p.svc.handleDatagram(presence("x", "10.0.0.8", NewShareCipher("forger")), from)
	p.svc.handleDatagram(presence("y", "not-an-ip", signer), from)
	p.svc.handleDatagram([]byte(`{"type":"presence","bogus":1}`), from)
	assert.Zero(t, p.svc.Registry().Len())

	p.svc.handleDatagram(presence("s7", "10.0.0.7", signer), from)
	rec, ok := p.svc.Registry().Lookup("s7")
	require.True(t, ok)
	assert.True(t, rec.HasApp)
	assert.Equal(t, "Peer s7", rec.Name)
}

func TestService_ProbeScanNamesHosts(t *testing.T) {
	mock := newTestClock()
	local := LocalAddr{Prefix: netip.MustParsePrefix("10.0.0.1/29")}
	d := &fakeDialer{rules: map[string]behavior{
		hostPort("10.0.0.3", DefaultPort):         accept,
		hostPort("10.0.0.4", DefaultFallbackPort): accept,
	}}

	svc, err := NewService(Options{
		SelfID:   "s1",
		Local:    &local,
		Clock:    mock,
		Sockets:  &fakeSockets{lan: newFakeLAN(), ip: "10.0.0.1"},
		Dialer:   d,
		Resolver: staticResolver{"10.0.0.4": "nas.lan"},
	})
	require.NoError(t, err)
	svc.prober.AppTimeout = 10 * time.Millisecond
	svc.prober.FallbackTimeout = 10 * time.Millisecond
	svc.local = local

	svc.scan(context.Background())

	app, ok := svc.Registry().Lookup("10.0.0.3")
	require.True(t, ok)
	assert.True(t, app.HasApp)

	nas, ok := svc.Registry().Lookup("10.0.0.4")
	require.True(t, ok)
	assert.False(t, nas.HasApp)
	assert.Equal(t, "nas.lan", nas.Name)
	assert.Equal(t, 2, svc.Registry().Len())
}

type staticResolver map[string]string

func (r staticResolver) LookupName(_ context.Context, ip string) (string, error) {
	if name, ok := r[ip]; ok {
		return name, nil
	}
	return "", ErrNoName
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Options{SelfID: "10.0.0.1"})
	assert.Error(t, err)

	_, err = NewService(Options{MulticastGroup: "10.0.0.1"})
	assert.Error(t, err)

	svc, err := NewService(Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, svc.ID())
}
