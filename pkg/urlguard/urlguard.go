package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// blockedRanges covers loopback, RFC1918, link-local (including cloud
// metadata at 169.254.169.254), the "this network" block, and their IPv6
// counterparts.
var blockedRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("urlguard: invalid CIDR %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// Resolver abstracts DNS resolution so tests can supply fixed answers.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator rejects URLs that are malformed, non-HTTPS, or resolve to an
// internal address. Zero value is not usable; use New.
type Validator struct {
	resolver Resolver
}

// New creates a validator using the system DNS resolver.
func New() *Validator {
	return &Validator{resolver: net.DefaultResolver}
}

// NewWithResolver creates a validator with a custom resolver for testing.
func NewWithResolver(r Resolver) *Validator {
	if r == nil {
		return New()
	}
	return &Validator{resolver: r}
}

// Validate checks a destination URL for safe outbound delivery.
//
// The URL must parse, use the https scheme, and every address the hostname
// resolves to must be outside the blocked ranges. Validation is cheap enough
// to re-run before each delivery attempt, which matters because DNS answers
// change between endpoint creation and delivery time.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https", ErrInvalidURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}

	// Literal addresses skip DNS entirely.
	if ip := net.ParseIP(host); ip != nil {
		if blocked(ip) {
			return fmt.Errorf("%w: address %s is not allowed", ErrInvalidURL, ip)
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve host %q: %v", ErrInvalidURL, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: host %q has no addresses", ErrInvalidURL, host)
	}

	// A single internal answer rejects the URL even when other answers are
	// public, otherwise an attacker-controlled DNS record could round-robin
	// past the check.
	for _, addr := range addrs {
		if blocked(addr.IP) {
			return fmt.Errorf("%w: host %q resolves to blocked address %s", ErrInvalidURL, host, addr.IP)
		}
	}

	return nil
}

func blocked(ip net.IP) bool {
	for _, n := range blockedRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
