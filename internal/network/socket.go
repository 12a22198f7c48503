package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"golang.org/x/net/ipv4"
)

const (
	// DefaultPort is the UDP port for presence and shares and the TCP port probes connect to
	DefaultPort = 45832
	// DefaultMulticastGroup is the group presence announcements are sent to
	DefaultMulticastGroup = "239.255.42.99"
)

// PacketConn is the datagram socket the service reads from and writes to
type PacketConn interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
	WriteTo(p []byte, addr net.Addr) (n int, err error)
	LocalAddr() net.Addr
	Close() error
}

// SocketFactory opens the service's sockets
type SocketFactory interface {
	// ListenPacket opens the UDP socket and joins the multicast group where possible
	ListenPacket(ctx context.Context, port int) (PacketConn, error)
	// Listen opens the TCP beacon that answers subnet probes
	Listen(ctx context.Context, port int) (net.Listener, error)
}

// MulticastSocketFactory binds real sockets and joins the multicast group on one interface
type MulticastSocketFactory struct {
	Group     net.IP
	Interface *net.Interface // nil lets the kernel choose
	Logger    *slog.Logger
}

// ListenPacket binds UDP on all addresses. Failing to join the group is logged and the
// socket is still returned, since unicast presence and probing keep working without it.
func (f *MulticastSocketFactory) ListenPacket(ctx context.Context, port int) (PacketConn, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, &NetworkError{Op: "listen udp", Addr: strconv.Itoa(port), Err: err}
	}

	mc := &multicastConn{PacketConn: conn, pc: ipv4.NewPacketConn(conn), group: &net.UDPAddr{IP: f.Group}, ifi: f.Interface}
	if err := mc.join(); err != nil {
		if f.Logger != nil {
			f.Logger.Warn("multicast unavailable, continuing with unicast discovery", "group", f.Group.String(), "err", err)
		}
		mc.group = nil
	}
	return mc, nil
}

// Listen binds the TCP beacon
func (f *MulticastSocketFactory) Listen(ctx context.Context, port int) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return nil, &NetworkError{Op: "listen tcp", Addr: strconv.Itoa(port), Err: err}
	}
	return ln, nil
}

type multicastConn struct {
	net.PacketConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
}

func (c *multicastConn) join() error {
	if c.group == nil || c.group.IP == nil {
		return errors.New("no multicast group configured")
	}
	if err := c.pc.JoinGroup(c.ifi, c.group); err != nil {
		return fmt.Errorf("failed to join %s: %w", c.group.IP, err)
	}
	if c.ifi != nil {
		if err := c.pc.SetMulticastInterface(c.ifi); err != nil {
			_ = c.pc.LeaveGroup(c.ifi, c.group)
			return fmt.Errorf("failed to select multicast interface: %w", err)
		}
	}
	// Presence stays on the local link
	if err := c.pc.SetMulticastTTL(1); err != nil {
		_ = c.pc.LeaveGroup(c.ifi, c.group)
		return fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	_ = c.pc.SetMulticastLoopback(false)
	return nil
}

// Close leaves the multicast group before closing the socket
func (c *multicastConn) Close() error {
	var leaveErr error
	if c.group != nil {
		leaveErr = c.pc.LeaveGroup(c.ifi, c.group)
	}
	return errors.Join(leaveErr, c.PacketConn.Close())
}
