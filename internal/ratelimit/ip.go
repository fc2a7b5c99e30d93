package ratelimit

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPBucket groups addresses so one client cannot dodge the IP budget by
// rotating through its allocation: IPv4 collapses to the /24, IPv6 to the /64.
func IPBucket(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	addr = addr.Unmap()
	bits := 64
	if addr.Is4() {
		bits = 24
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return ""
	}
	return p.String()
}

// ParseIP parses a bare address, tolerating surrounding quotes, brackets and
// a trailing port.
func ParseIP(s string) (netip.Addr, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return netip.Addr{}, false
	}
	if a, err := netip.ParseAddr(strings.Trim(s, "[]")); err == nil {
		return a, true
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), true
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		if a, err := netip.ParseAddr(host); err == nil {
			return a, true
		}
	}
	return netip.Addr{}, false
}

// ClientIP resolves the client address from the Forwarded header (for=),
// then the first X-Forwarded-For hop, then the peer address. The forwarding
// headers are only trustworthy behind a proxy that overwrites them.
func ClientIP(r *http.Request) (netip.Addr, bool) {
	if h := r.Header.Get("Forwarded"); h != "" {
		for _, elem := range strings.Split(h, ",") {
			for _, pair := range strings.Split(elem, ";") {
				k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
				if !ok || !strings.EqualFold(k, "for") {
					continue
				}
				if a, ok := ParseIP(v); ok {
					return a, true
				}
			}
		}
	}
	if h := r.Header.Get("X-Forwarded-For"); h != "" {
		first, _, _ := strings.Cut(h, ",")
		if a, ok := ParseIP(first); ok {
			return a, true
		}
	}
	return ParseIP(r.RemoteAddr)
}
