package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// ErrNoPTR is returned when an address has no reverse record.
var ErrNoPTR = errors.New("no PTR record")

// Resolver maps an address to a hostname.
type Resolver interface {
	LookupPTR(ctx context.Context, ip string) (string, error)
}

// DNSResolver queries one DNS server directly for PTR records.
type DNSResolver struct {
	Server  string // host or host:port
	Net     string // "udp" (default) or "tcp"
	Timeout time.Duration
}

// NewDNSResolver returns a UDP resolver for server. A server without a port
// is queried on 53.
func NewDNSResolver(server string) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{Server: server, Net: "udp", Timeout: 2 * time.Second}
}

// LookupPTR returns the first PTR target for ip, without the trailing dot.
func (r *DNSResolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", ip, err)
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	c := new(dns.Client)
	c.Net = r.Net
	c.Timeout = r.Timeout

	resp, _, err := c.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return "", fmt.Errorf("ptr %s via %s: %w", ip, r.Server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("%w for %s: %s", ErrNoPTR, ip, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoPTR, ip)
}

// SystemResolver uses the host's resolver configuration.
type SystemResolver struct{}

func (SystemResolver) LookupPTR(ctx context.Context, ip string) (string, error) {
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoPTR, ip)
	}
	return strings.TrimSuffix(names[0], "."), nil
}
