package middleware

import "github.com/nutsloop/neonsignal/internal/hpack"

// SecurityHeaders returns the fixed set of security response headers
// applied to every response frame, translated from the original
// http.Handler wrapper of the same name into the extra-header list
// internal/server appends to every HEADERS frame it writes.
func SecurityHeaders() []hpack.Header {
	return []hpack.Header{
		{Name: "x-frame-options", Value: "DENY"},
		{Name: "x-content-type-options", Value: "nosniff"},
		{Name: "referrer-policy", Value: "strict-origin-when-cross-origin"},
		{Name: "content-security-policy", Value: contentSecurityPolicy},
		{Name: "permissions-policy", Value: "geolocation=, microphone=, camera="},
	}
}

// contentSecurityPolicy allows same-origin resources plus the inline
// scripts/styles the static NeonJSX bundle and SPA shell rely on.
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data: https:; " +
	"connect-src 'self' wss:; " +
	"frame-ancestors 'none'"
