// Package api implements the JSON route handlers behind both the
// protected and public API surface. Handlers are plain functions over a
// Request/Response pair; internal/server's per-connection dispatch loop
// looks a handler up by method+path and turns its Response into HTTP/2
// HEADERS+DATA frames via internal/http2codec.
//
// Grounded on the reference implementation's api_handler sources for
// behavior and on this codebase's handlers.go convention for the
// Go-side request/response shape (plain struct in, struct out, JSON
// bodies via encoding/json, not hand-rolled string building; the latter
// is reserved for internal/db's on-disk format, see DESIGN.md).
package api

import (
	"encoding/json"
	"time"

	"github.com/nutsloop/neonsignal/internal/apierr"
	"github.com/nutsloop/neonsignal/internal/codexrunner"
	"github.com/nutsloop/neonsignal/internal/config"
	"github.com/nutsloop/neonsignal/internal/db"
	"github.com/nutsloop/neonsignal/internal/diagnostics"
	"github.com/nutsloop/neonsignal/internal/mailer"
	"github.com/nutsloop/neonsignal/internal/webauthn"
)

// Request is everything a handler needs from one HTTP/2 request.
type Request struct {
	Method string
	Path string
	Authority string
	Headers map[string]string
	Cookies map[string]string
	Body []byte

	// SessionUserID and SessionState are populated by the server's
	// protected-path check before a handler on a protected route runs;
	// zero-value on public routes.
	SessionUserID uint64
	SessionState string
}

// Cookie is one Set-Cookie directive a handler wants written.
type Cookie struct {
	Name string
	Value string
	MaxAge int // seconds; 0 clears the cookie
	HTTPOnly bool
}

// Response is a handler's result; the server layer serializes it.
type Response struct {
	Status int
	ContentType string
	Body []byte
	Cookies []Cookie
}

// JSON builds a Response with a JSON-encoded body, matching the
// teacher's json.Marshal-then-write pattern rather than hand-rolled
// string building (used only for internal/db's on-disk rows).
func JSON(status int, v any) Response {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"internal error encoding response"}`)
		status = 500
	}
	return Response{Status: status, ContentType: "application/json", Body: body}
}

// ErrorResponse renders an *apierr.Error as a {"error": ".."} body with
// the status its category maps to.
func ErrorResponse(err *apierr.Error) Response {
	return JSON(err.Status(), map[string]string{"error": err.Message})
}

// Handler answers one API request. It may return a plain Response or an
// *apierr.Error (via the err return) for the server to render uniformly.
type Handler func(deps *Deps, req Request) (Response, *apierr.Error)

// Deps bundles every collaborator a handler might need. One Deps is
// shared across all connections/goroutines; every field is itself
// already safe for concurrent use.
type Deps struct {
	Config *config.Config
	DB *db.Database
	WebAuthn *webauthn.Manager
	CodexRunner *codexrunner.Runner
	Mailer *mailer.Mailer
	Redirect *diagnostics.RedirectProbe
}

// SessionCookie builds the ns_session/ns_debug pair:
// "ns_session=<id>; Path=/; Max-Age=<ttl>; HttpOnly; Secure; SameSite=Lax"
// plus a non-HttpOnly ns_debug twin carrying the same id for client-side
// diagnosis.
func SessionCookie(sessionID string, ttl time.Duration) []Cookie {
	maxAge := int(ttl / time.Second)
	return []Cookie{
		{Name: "ns_session", Value: sessionID, MaxAge: maxAge, HTTPOnly: true},
		{Name: "ns_debug", Value: sessionID, MaxAge: maxAge, HTTPOnly: false},
	}
}

// ClearSessionCookies clears both cookies by setting Max-Age=0.
func ClearSessionCookies() []Cookie {
	return []Cookie{
		{Name: "ns_session", Value: "", MaxAge: 0, HTTPOnly: true},
		{Name: "ns_debug", Value: "", MaxAge: 0, HTTPOnly: false},
	}
}

// Route is one entry in the dispatch table.
type Route struct {
	Method string
	Path string
	Protected bool
	Handler Handler
}

// Router is the method+path -> Handler dispatch table, built once at
// startup and read concurrently by every connection goroutine.
type Router struct {
	routes map[string]Route
}

func routeKey(method, path string) string { return method + " " + path }

// NewRouter builds the full route table.
func NewRouter() *Router {
	r := &Router{routes: map[string]Route{}}
	r.register(Route{Method: "GET", Path: "/api/auth/login/options", Handler: handleLoginOptions})
	r.register(Route{Method: "POST", Path: "/api/auth/login/finish", Handler: handleLoginFinish})
	r.register(Route{Method: "POST", Path: "/api/auth/user/register", Handler: handleUserRegister})
	r.register(Route{Method: "POST", Path: "/api/auth/user/verify", Handler: handleUserVerify})
	r.register(Route{Method: "GET", Path: "/api/auth/user/enroll", Protected: true, Handler: handleEnrollOptions})
	r.register(Route{Method: "POST", Path: "/api/auth/user/enroll", Protected: true, Handler: handleEnrollFinish})
	r.register(Route{Method: "GET", Path: "/api/auth/user/check", Handler: handleUserCheck})

	r.register(Route{Method: "GET", Path: "/api/codex/list", Protected: true, Handler: handleCodexList})
	r.register(Route{Method: "GET", Path: "/api/codex/item", Protected: true, Handler: handleCodexItem})
	r.register(Route{Method: "POST", Path: "/api/codex/brief", Protected: true, Handler: handleCodexBrief})
	r.register(Route{Method: "POST", Path: "/api/codex/run/start", Protected: true, Handler: handleCodexRunStart})
	r.register(Route{Method: "GET", Path: "/api/codex/run/status", Protected: true, Handler: handleCodexRunStatus})
	r.register(Route{Method: "GET", Path: "/api/codex/run/stdout", Protected: true, Handler: handleCodexRunStdout})
	r.register(Route{Method: "GET", Path: "/api/codex/run/stderr", Protected: true, Handler: handleCodexRunStderr})

	r.register(Route{Method: "GET", Path: "/api/stats", Protected: true, Handler: handleStats})

	// /api/upload is intercepted by internal/server at headers-complete,
	// streamed straight to disk, and answered before dispatch ever runs
	// (see upload.go); this route table entry exists only so the route
	// inventory stays complete. Its Handler is never invoked.
	r.register(Route{Method: "POST", Path: UploadPath, Protected: true, Handler: nil})
	return r
}

func (r *Router) register(route Route) {
	r.routes[routeKey(route.Method, route.Path)] = route
}

// Lookup finds the route for a method+path, reporting ok=false for a 404.
func (r *Router) Lookup(method, path string) (Route, bool) {
	route, ok := r.routes[routeKey(method, path)]
	return route, ok
}

// IsProtected reports whether a known route requires a valid session.
func (r *Router) IsProtected(method, path string) bool {
	route, ok := r.Lookup(method, path)
	return ok && route.Protected
}

// sseRoutes is the fixed set of SSE channel paths,
// dispatched directly by internal/server rather than through Router
// since an SSE response never completes with END_STREAM on the first
// write.
var sseRoutes = map[string]bool{
	"/api/events": true,
	"/api/cpu": true,
	"/api/memory": true,
	"/api/redirect-service": true,
}

// IsSSERoute reports whether path is one of the four SSE channels.
func IsSSERoute(path string) bool { return sseRoutes[path] }
