package safehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrPrivateAddress is returned when a dial resolves to a private address.
var ErrPrivateAddress = errors.New("access to private address is denied")

// NewTransport returns a transport for outbound calls to caller-supplied
// URLs, such as a channel's service URL. Unless allowPrivate is set, dials
// that land on loopback, private or link-local addresses are refused.
func NewTransport(allowPrivate bool) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 5 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if allowPrivate {
				return conn, nil
			}

			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			if err := CheckIP(net.ParseIP(host)); err != nil {
				conn.Close()
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}

			return conn, nil
		},
	}
}

// CheckIP reports whether ip is an acceptable public destination.
func CheckIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("failed to parse remote IP")
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}
