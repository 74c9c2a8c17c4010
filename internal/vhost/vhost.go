// Package vhost implements the virtual-host resolver: it scans the
// public document root for hostname-named subdirectories (plus the
// literal "_default"), resolves a request's authority to one of them,
// and parses each vhost's optional .neonjsx route manifest.
//
// Grounded on spin/vhost/resolve.c++ and neonsignal/vhost.c++.
package vhost

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// NeonJSXConfig is a parsed .neonjsx manifest: explicit known routes and
// "prefix/*" wildcard routes, used to decide SPA shell behavior.
type NeonJSXConfig struct {
	Enabled        bool
	Routes         []string
	WildcardRoutes []string
}

// MatchesRoute reports whether path is a known client-side route per
// this manifest.
func (c NeonJSXConfig) MatchesRoute(path string) bool {
	if !c.Enabled {
		return false
	}
	for _, route := range c.Routes {
		if path == route {
			return true
		}
	}
	for _, prefix := range c.WildcardRoutes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// VirtualHost is one resolved vhost directory.
type VirtualHost struct {
	Domain       string
	DocumentRoot string
	NeonJSX      NeonJSXConfig
}

// Resolver scans publicRoot for vhost directories and answers
// authority->document-root and neonjsx-route queries.
type Resolver struct {
	publicRoot string

	mu         sync.RWMutex
	exactHosts map[string]VirtualHost
	hasDefault bool
}

// New constructs a Resolver and performs an initial scan.
func New(publicRoot string) *Resolver {
	r := &Resolver{publicRoot: publicRoot, exactHosts: map[string]VirtualHost{}}
	r.Refresh()
	return r
}

// parseNeonJSXConfig reads a .neonjsx file: blank lines and "#"-prefixed
// comments are skipped, a line ending in "/*" becomes a wildcard prefix,
// anything else is an explicit route.
func parseNeonJSXConfig(path string) NeonJSXConfig {
	domainName := filepath.Base(filepath.Dir(path))

	f, err := os.Open(path)
	if err != nil {
		if domainName != "" {
			slog.Debug("vhost: neonjsx disabled", "domain", domainName)
		}
		return NeonJSXConfig{}
	}
	defer f.Close()

	cfg := NeonJSXConfig{Enabled: true}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) > 2 && strings.HasSuffix(line, "/*") {
			cfg.WildcardRoutes = append(cfg.WildcardRoutes, line[:len(line)-2])
		} else {
			cfg.Routes = append(cfg.Routes, line)
		}
	}

	if domainName != "" {
		slog.Info("vhost: neonjsx manifest loaded", "domain", domainName,
			"routes", len(cfg.Routes)+len(cfg.WildcardRoutes))
	}
	return cfg
}

// normalizeAuthority strips an optional ":port" suffix and lowercases.
func normalizeAuthority(authority string) string {
	if idx := strings.IndexByte(authority, ':'); idx >= 0 {
		authority = authority[:idx]
	}
	return strings.ToLower(authority)
}

// isDomainDirectory reports whether name is "_default" or looks like a
// dotted hostname: labels of letters/digits/hyphens separated by single
// dots, at least one dot, no leading/trailing dot.
func isDomainDirectory(name string) bool {
	if name == "_default" {
		return true
	}
	if name == "" || name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}

	hasDot := false
	prevWasDot := false
	for _, c := range name {
		switch {
		case c == '.':
			if prevWasDot {
				return false
			}
			hasDot = true
			prevWasDot = true
		case c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			prevWasDot = false
		default:
			return false
		}
	}
	return hasDot
}

// Refresh re-scans the public root for vhost directories.
func (r *Resolver) Refresh() {
	entries, err := os.ReadDir(r.publicRoot)
	if err != nil {
		r.mu.Lock()
		r.exactHosts = map[string]VirtualHost{}
		r.hasDefault = false
		r.mu.Unlock()
		return
	}

	exact := map[string]VirtualHost{}
	hasDefault := false

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isDomainDirectory(name) {
			continue
		}

		dir := filepath.Join(r.publicRoot, name)
		vh := VirtualHost{
			Domain:       name,
			DocumentRoot: dir,
			NeonJSX:      parseNeonJSXConfig(filepath.Join(dir, ".neonjsx")),
		}

		if name == "_default" {
			hasDefault = true
			exact["_default"] = vh
		} else {
			exact[strings.ToLower(name)] = vh
		}
	}

	r.mu.Lock()
	r.exactHosts = exact
	r.hasDefault = hasDefault
	r.mu.Unlock()
}

// Resolve maps an authority to a document root. ok is false when no
// vhosting is configured at all (empty scan) or there is neither an
// exact nor default match.
func (r *Resolver) Resolve(authority string) (documentRoot string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.exactHosts) == 0 {
		return "", false
	}

	domain := normalizeAuthority(authority)
	if vh, found := r.exactHosts[domain]; found {
		return vh.DocumentRoot, true
	}
	if r.hasDefault {
		return r.exactHosts["_default"].DocumentRoot, true
	}
	return "", false
}

// Enabled reports whether at least one non-default vhost is configured.
func (r *Resolver) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.exactHosts {
		if name != "_default" {
			return true
		}
	}
	return false
}

func (r *Resolver) lookupHost(authority string) (VirtualHost, bool) {
	domain := normalizeAuthority(authority)
	if vh, found := r.exactHosts[domain]; found {
		return vh, true
	}
	if r.hasDefault {
		return r.exactHosts["_default"], true
	}
	return VirtualHost{}, false
}

// IsNeonJSX reports whether the vhost resolved for authority has an
// enabled .neonjsx manifest.
func (r *Resolver) IsNeonJSX(authority string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vh, ok := r.lookupHost(authority)
	return ok && vh.NeonJSX.Enabled
}

// IsNeonJSXRoute reports whether path is a known client-side route for
// the vhost resolved for authority.
func (r *Resolver) IsNeonJSXRoute(authority, path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vh, ok := r.lookupHost(authority)
	return ok && vh.NeonJSX.MatchesRoute(path)
}

// ListVHosts returns a sorted "domain -> document-root" inventory.
func (r *Resolver) ListVHosts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exactHosts))
	for name, vh := range r.exactHosts {
		out = append(out, name+" -> "+vh.DocumentRoot)
	}
	sort.Strings(out)
	return out
}
