package certmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCert(t *testing.T, dir, name string, dnsNames []string) {
	t.Helper()
	certDir := filepath.Join(dir, name)
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     dnsNames,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	certOut, err := os.Create(filepath.Join(certDir, "fullchain.pem"))
	if err != nil {
		t.Fatalf("create fullchain: %v", err)
	}
	defer certOut.Close()
	pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(filepath.Join(certDir, "privkey.pem"))
	if err != nil {
		t.Fatalf("create privkey: %v", err)
	}
	defer keyOut.Close()
	pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
}

func TestLookupOrder(t *testing.T) {
	root := t.TempDir()
	writeCert(t, root, "_default", []string{"_default"})
	writeCert(t, root, "host.test", []string{"host.test"})
	writeCert(t, root, "*.x.test", []string{"*.x.test"})

	m := New(root)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if b := m.Lookup("host.test"); b == nil || b.Domain != "host.test" {
		t.Errorf("exact lookup failed: %+v", b)
	}
	if b := m.Lookup("a.x.test"); b == nil || !b.IsWildcard || b.Domain != "x.test" {
		t.Errorf("wildcard lookup failed: %+v", b)
	}
	if b := m.Lookup("x.test"); b == nil || b.IsWildcard {
		t.Errorf("bare wildcard domain should not match the wildcard bundle, got %+v", b)
	}
	if b := m.Lookup("unknown.example"); b == nil || !b.IsDefault {
		t.Errorf("fallback to default failed: %+v", b)
	}
}

func TestSANFallback(t *testing.T) {
	root := t.TempDir()
	writeCert(t, root, "_default", []string{"_default"})
	writeCert(t, root, "multi", []string{"multi.test", "alt.test"})

	m := New(root)
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if b := m.Lookup("alt.test"); b == nil || b.Domain != "multi" {
		t.Errorf("SAN lookup failed: %+v", b)
	}
}
