// Package diagnostics implements the redirector liveness probe: it
// lists /api/redirect-service as an SSE channel reporting "Liveness of
// sibling redirector" on a 1s interval. The probe is a short TCP dial
// + immediate close against the configured redirect host:port; a
// failed dial reports "down" rather than blocking or erroring, keeping
// the event loop's guarantee that timer-driven work never blocks on a
// peer.
package diagnostics

import (
	"context"
	"net"
	"strconv"
	"time"
)

// RedirectProbe checks liveness of the sibling HTTP/1.1 redirector.
type RedirectProbe struct {
	addr string
	timeout time.Duration
}

// NewRedirectProbe constructs a probe against host:port.
func NewRedirectProbe(host string, port int, timeout time.Duration) *RedirectProbe {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &RedirectProbe{addr: net.JoinHostPort(host, strconv.Itoa(port)), timeout: timeout}
}

// Probe dials the redirector and reports "up" or "down".
func (p *RedirectProbe) Probe(ctx context.Context) string {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return "down"
	}
	conn.Close()
	return "up"
}
