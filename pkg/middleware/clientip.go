package middleware

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync/atomic"
)

// UnknownIP is reported when no usable client address is found.
const UnknownIP = "unknown"

// DefaultTrustedProxies covers loopback and private networks, where load
// balancers and ingress controllers normally sit.
var DefaultTrustedProxies = []string{
	"127.0.0.0/8",
	"::1/128",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"fc00::/7",
}

var trustedProxies atomic.Pointer[[]netip.Prefix]

func init() {
	prefixes, err := ParseTrustedProxies(DefaultTrustedProxies)
	if err != nil {
		panic(err)
	}
	SetTrustedProxies(prefixes)
}

// ParseTrustedProxies parses CIDR blocks. A bare address is taken as a
// single-host prefix.
func ParseTrustedProxies(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("parse trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("parse trusted proxy %q: %w", c, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

// SetTrustedProxies replaces the peers whose forwarding headers are
// honoured. An empty list ignores X-Forwarded-For and X-Real-IP entirely.
func SetTrustedProxies(prefixes []netip.Prefix) {
	cp := append([]netip.Prefix(nil), prefixes...)
	trustedProxies.Store(&cp)
}

func isTrustedProxy(addr netip.Addr) bool {
	p := trustedProxies.Load()
	if p == nil {
		return false
	}
	for _, prefix := range *p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address. Forwarding headers are
// read only when the connection comes from a trusted proxy: the first
// X-Forwarded-For entry wins, then X-Real-IP. Header values that are not
// IP addresses are ignored, and the connection's remote address is used.
func ClientIP(r *http.Request) string {
	remote, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return UnknownIP
	}

	if isTrustedProxy(remote) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, ok := parseIP(first); ok {
				return addr.String()
			}
		}
		if addr, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
	}

	return remote.String()
}

func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap(), true
	}
	return parseIP(remoteAddr)
}

func parseIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
