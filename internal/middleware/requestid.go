// Package middleware holds small per-response concerns applied to
// every frame the server writes: a request id for log correlation and
// the fixed set of security response headers. There is no
// http.Handler chain here — internal/server writes raw HTTP/2 frames
// directly, so these are plain functions called from the dispatch
// path rather than handler wrappers.
package middleware

import (
	"github.com/google/uuid"

	"github.com/nutsloop/neonsignal/internal/hpack"
)

// RequestIDHeader is the response header name carrying the per-stream
// request id; an inbound header of the same name is echoed back. The id
// is not passed to the codex runner or the mailer.
const RequestIDHeader = "x-request-id"

// RequestID returns existing unchanged if the peer already supplied
// one, otherwise mints a fresh UUID. Mirrors the original "reuse
// inbound X-Request-ID, else generate" rule, adapted from an
// http.Handler wrapper to a function called once per stream from
// internal/server's dispatch.
func RequestID(existing string) string {
	if existing != "" {
		return existing
	}
	return uuid.New().String()
}

// RequestIDResponseHeader builds the extra response header carrying id.
func RequestIDResponseHeader(id string) hpack.Header {
	return hpack.Header{Name: RequestIDHeader, Value: id}
}
