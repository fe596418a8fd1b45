// Package urlguard keeps page fetches away from internal networks. Check
// rejects URLs up front; Transport re-checks every address actually dialled,
// which also covers redirects and DNS answers that change between the two.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrBlocked is returned for loopback, private, link-local and
	// unspecified addresses.
	ErrBlocked = errors.New("urlguard: address is not publicly routable")

	// ErrScheme is returned for anything but http and https.
	ErrScheme = errors.New("urlguard: only http and https URLs are allowed")
)

// Check validates rawURL: http(s) scheme, a host, and no blocked literal or
// resolved address. A host that does not resolve passes; the dial fails
// later anyway.
func Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlguard: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("urlguard: URL has no host")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return ErrBlocked
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if err := checkAddr(a); err != nil {
			return err
		}
	}
	return nil
}

// Blocked reports whether addr must not be dialled.
func Blocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

// cgnat is the RFC 6598 shared address space.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func checkAddr(a netip.Addr) error {
	if Blocked(a) {
		return fmt.Errorf("%w: %s", ErrBlocked, a)
	}
	return nil
}

// Control is a net.Dialer Control hook refusing blocked addresses.
func Control(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("urlguard: dial %s: %w", address, err)
	}
	return checkAddr(ap.Addr())
}

// Transport returns an http.Transport whose dialer applies Control.
func Transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   Control,
	}
	t.DialContext = d.DialContext
	t.Proxy = nil
	return t
}
