package network

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver names probe-only hosts
type Resolver interface {
	LookupName(ctx context.Context, ip string) (string, error)
}

// ErrNoName is returned when a reverse lookup has no PTR answer
var ErrNoName = errors.New("no PTR record")

// DNSResolver issues PTR queries to the system nameservers
type DNSResolver struct {
	client  *dns.Client
	servers []string
}

// NewDNSResolver reads nameservers from resolvConf, falling back to the local stub resolver
func NewDNSResolver(resolvConf string) *DNSResolver {
	servers := []string{"127.0.0.53:53"}
	if cfg, err := dns.ClientConfigFromFile(resolvConf); err == nil && len(cfg.Servers) > 0 {
		servers = servers[:0]
		for _, s := range cfg.Servers {
			servers = append(servers, net.JoinHostPort(s, cfg.Port))
		}
	}
	return &DNSResolver{
		client:  &dns.Client{Timeout: 300 * time.Millisecond},
		servers: servers,
	}
}

// LookupName returns the PTR name of ip without the trailing dot
func (r *DNSResolver) LookupName(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	var lastErr error = ErrNoName
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		for _, answer := range in.Answer {
			if ptr, ok := answer.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
	}
	return "", lastErr
}
