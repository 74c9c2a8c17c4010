// Package certmgr implements the CertManager component: it scans a
// certificate directory tree, builds one tls.Config per hostname
// directory, and resolves a hostname to a bundle by exact match,
// wildcard, or SAN, in that order.
package certmgr

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Bundle is one loaded certificate directory ("TlsBundle").
type Bundle struct {
	Domain      string
	IsWildcard  bool
	IsDefault   bool
	CertPath    string
	KeyPath     string
	CommonName  string
	SANNames    []string // DNS + dotted-quad IP SANs
	NotBefore   time.Time
	NotAfter    time.Time
	Certificate *tls.Certificate
}

// Manager is the CertManager. Lookup takes a shared (read) lock; Initialize
// and Reload take an exclusive lock.
type Manager struct {
	certsRoot string

	mu       sync.RWMutex
	exact    map[string]*Bundle
	wildcard []*Bundle
	def      *Bundle
}

// New constructs a Manager rooted at certsRoot. Call Initialize before use.
func New(certsRoot string) *Manager {
	return &Manager{certsRoot: certsRoot, exact: map[string]*Bundle{}}
}

// Initialize scans certsRoot: a directory is a cert directory if it
// contains fullchain.pem and privkey.pem; "_default" is the default
// bundle; a "*.domain" prefix is a wildcard bundle.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.certsRoot)
	if err != nil {
		return fmt.Errorf("certmgr: read certs root %s: %w", m.certsRoot, err)
	}

	exact := map[string]*Bundle{}
	var wildcard []*Bundle
	var def *Bundle

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(m.certsRoot, name)
		if !isCertDirectory(dir) {
			continue
		}

		bundle, err := loadBundle(dir, name)
		if err != nil {
			slog.Error("certmgr: failed to load certificate", "domain", name, "err", err)
			continue
		}

		switch {
		case name == "_default":
			bundle.IsDefault = true
			def = bundle
			exact["_default"] = bundle
		case strings.HasPrefix(name, "*."):
			bundle.IsWildcard = true
			bundle.Domain = strings.TrimPrefix(name, "*.")
			wildcard = append(wildcard, bundle)
		default:
			exact[normalizeHostname(name)] = bundle
		}
		slog.Info("certmgr: loaded certificate", "domain", bundle.Domain, "wildcard", bundle.IsWildcard)
	}

	if def == nil {
		for name, bundle := range exact {
			if name != "_default" {
				def = bundle
				slog.Warn("certmgr: no _default certificate, using fallback", "domain", name)
				break
			}
		}
	}
	if def == nil {
		return fmt.Errorf("certmgr: no usable certificate found under %s", m.certsRoot)
	}

	m.exact = exact
	m.wildcard = wildcard
	m.def = def
	return nil
}

// Reload re-scans the certs root.
func (m *Manager) Reload() error {
	return m.Initialize()
}

func isCertDirectory(dir string) bool {
	_, err1 := os.Stat(filepath.Join(dir, "fullchain.pem"))
	_, err2 := os.Stat(filepath.Join(dir, "privkey.pem"))
	return err1 == nil && err2 == nil
}

func loadBundle(dir, domain string) (*Bundle, error) {
	certPath := filepath.Join(dir, "fullchain.pem")
	keyPath := filepath.Join(dir, "privkey.pem")

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}

	bundle := &Bundle{
		Domain:      domain,
		CertPath:    certPath,
		KeyPath:     keyPath,
		Certificate: &cert,
	}

	if len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err == nil {
			bundle.CommonName = leaf.Subject.CommonName
			bundle.NotBefore = leaf.NotBefore
			bundle.NotAfter = leaf.NotAfter
			bundle.SANNames = append(bundle.SANNames, leaf.DNSNames...)
			for _, ip := range leaf.IPAddresses {
				bundle.SANNames = append(bundle.SANNames, ip.String())
			}
		} else {
			slog.Warn("certmgr: could not parse leaf certificate", "domain", domain, "err", err)
		}
	}

	return bundle, nil
}

func normalizeHostname(host string) string {
	host = strings.ToLower(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// Lookup resolves a hostname (with optional :port suffix) to a Bundle,
// in order: exact match, then wildcard suffix, then SAN match, then
// the default bundle.
func (m *Manager) Lookup(hostname string) *Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	host := normalizeHostname(hostname)

	if b, ok := m.exact[host]; ok {
		return b
	}

	if idx := strings.IndexByte(host, '.'); idx >= 0 {
		suffix := host[idx+1:]
		for _, b := range m.wildcard {
			if b.Domain == suffix {
				return b
			}
		}
	}

	for _, b := range m.exact {
		if sanMatches(b.SANNames, host) {
			return b
		}
	}
	for _, b := range m.wildcard {
		if sanMatches(b.SANNames, host) {
			return b
		}
	}

	return m.def
}

func sanMatches(sans []string, host string) bool {
	for _, san := range sans {
		san = strings.ToLower(san)
		if san == host {
			return true
		}
		if strings.HasPrefix(san, "*.") {
			suffix := strings.TrimPrefix(san, "*.")
			if idx := strings.IndexByte(host, '.'); idx >= 0 && host[idx+1:] == suffix {
				return true
			}
		}
	}
	return false
}

// TLSConfig returns a *tls.Config whose GetCertificate callback performs
// SNI-based lookup and whose ALPN negotiation accepts only "h2". Minimum
// TLS version is 1.2; Go's default cipher suite ordering already prefers
// ECDHE/AEAD suites for TLS 1.2 and is the sole negotiated suite set for
// TLS 1.3.
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"h2"},
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			bundle := m.Lookup(hello.ServerName)
			if bundle == nil {
				return nil, fmt.Errorf("certmgr: no certificate available for %q", hello.ServerName)
			}
			return &tls.Config{
				MinVersion:   tls.VersionTLS12,
				NextProtos:   []string{"h2"},
				Certificates: []tls.Certificate{*bundle.Certificate},
			}, nil
		},
	}
}

// ListCertificates returns a human-readable inventory, per the original
// CertManager::list_certificates diagnostic.
func (m *Manager) ListCertificates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name, b := range m.exact {
		entry := fmt.Sprintf("%s -> %s", name, b.CertPath)
		if b.CommonName != "" {
			entry += fmt.Sprintf(" (CN=%s)", b.CommonName)
		}
		if b == m.def {
			entry += " [default]"
		}
		out = append(out, entry)
	}
	for _, b := range m.wildcard {
		entry := fmt.Sprintf("*.%s -> %s", b.Domain, b.CertPath)
		if b.CommonName != "" {
			entry += fmt.Sprintf(" (CN=%s)", b.CommonName)
		}
		out = append(out, entry)
	}
	return out
}

// ExpiringSoon reports bundles whose NotAfter falls within the given window.
func (m *Manager) ExpiringSoon(within time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	threshold := now.Add(within)
	var out []string
	check := func(b *Bundle) {
		if !b.NotAfter.IsZero() && b.NotAfter.Before(threshold) {
			out = append(out, fmt.Sprintf("%s expires in %s", b.Domain, b.NotAfter.Sub(now).Round(time.Hour)))
		}
	}
	for _, b := range m.exact {
		check(b)
	}
	for _, b := range m.wildcard {
		check(b)
	}
	return out
}
