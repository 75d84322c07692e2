// Package outbound is the security boundary for every request the platform
// sends: destination URL vetting, request signing, and the guarded HTTP
// client.
package outbound

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrSsrfBlocked wraps every guard rejection so callers can classify without
// string matching.
var ErrSsrfBlocked = errors.New("ssrf_blocked")

// Guard validates destination URLs before any bytes leave the platform.
// LookupIP is injectable so tests can simulate DNS without a resolver.
type Guard struct {
	AllowHTTP bool
	LookupIP  func(host string) ([]net.IP, error)
}

func NewGuard(allowHTTP bool) *Guard {
	return &Guard{
		AllowHTTP: allowHTTP,
		LookupIP:  net.LookupIP,
	}
}

// AssertSafeOutboundURL applies the SSRF rules in order: parse, scheme,
// userinfo, hostname, then address vetting. A DNS name is resolved and every
// A/AAAA record must be public; checking only the literal host string would
// leave DNS rebinding open.
func (g *Guard) AssertSafeOutboundURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable url", ErrSsrfBlocked)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !g.AllowHTTP {
			return nil, fmt.Errorf("%w: scheme must be https", ErrSsrfBlocked)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrSsrfBlocked, u.Scheme)
	}

	if u.User != nil {
		return nil, fmt.Errorf("%w: credentials in url", ErrSsrfBlocked)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing hostname", ErrSsrfBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return nil, fmt.Errorf("%w: address %s is not routable", ErrSsrfBlocked, ip)
		}
		return u, nil
	}

	ips, err := g.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: dns resolution failed for %s", ErrSsrfBlocked, host)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: no addresses for %s", ErrSsrfBlocked, host)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip) {
			return nil, fmt.Errorf("%w: %s resolves to non-routable %s", ErrSsrfBlocked, host, ip)
		}
	}
	return u, nil
}

// cgnat is RFC 6598 shared address space, which net.IP.IsPrivate does not
// cover.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func isDisallowedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		cgnat.Contains(ip)
}
