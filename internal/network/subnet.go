package network

import (
	"errors"
	"net"
	"net/netip"
)

// MinScanPrefix bounds probing to at most a /24 around the host
const MinScanPrefix = 24

// ErrNoIPv4 is returned when no usable IPv4 interface address exists
var ErrNoIPv4 = errors.New("no non-loopback IPv4 address")

// LocalAddr is the host's own IPv4 address on the LAN
type LocalAddr struct {
	Interface *net.Interface
	Prefix    netip.Prefix // host address with its mask
}

// Addr returns the host address
func (l LocalAddr) Addr() netip.Addr {
	return l.Prefix.Addr()
}

// DetectLocalAddr picks the first up, non-loopback interface with an IPv4 address
func DetectLocalAddr() (LocalAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return LocalAddr{}, &NetworkError{Op: "list interfaces", Err: err}
	}

	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			prefix, ok := prefixFromIPNet(ipnet)
			if !ok || prefix.Addr().IsLinkLocalUnicast() {
				continue
			}
			return LocalAddr{Interface: ifi, Prefix: prefix}, nil
		}
	}
	return LocalAddr{}, ErrNoIPv4
}

func prefixFromIPNet(ipnet *net.IPNet) (netip.Prefix, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return netip.Prefix{}, false
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return netip.Prefix{}, false
	}
	addr, _ := netip.AddrFromSlice(ip4)
	return netip.PrefixFrom(addr, ones), true
}

// SubnetHosts enumerates the probe candidates around self: every host address of the
// subnet except the network address, the broadcast address and self. Subnets wider than
// a /24 are narrowed to the /24 containing self.
func SubnetHosts(self netip.Prefix) []netip.Addr {
	addr := self.Addr()
	if !addr.Is4() {
		return nil
	}

	bits := self.Bits()
	if bits < MinScanPrefix {
		bits = MinScanPrefix
	}
	// /31 and /32 have no probe candidates besides self
	if bits > 30 {
		return nil
	}

	network := netip.PrefixFrom(addr, bits).Masked()
	size := 1 << (32 - bits)
	hosts := make([]netip.Addr, 0, size-3)

	cur := network.Addr().Next()
	for i := 1; i < size-1; i++ {
		if cur != addr {
			hosts = append(hosts, cur)
		}
		cur = cur.Next()
	}
	return hosts
}
