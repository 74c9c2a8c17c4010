package server

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nutsloop/neonsignal/internal/config"
	"github.com/nutsloop/neonsignal/internal/hpack"
	"github.com/nutsloop/neonsignal/internal/http2codec"
	"github.com/nutsloop/neonsignal/internal/staticcache"
	"github.com/nutsloop/neonsignal/internal/vhost"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// readResponse drains one HEADERS+DATA response sequence off conn and
// returns the decoded :status and the concatenated DATA payload.
func readResponse(t *testing.T, conn net.Conn) (status int, body []byte) {
	t.Helper()
	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	data := buf[:n]

	dec := hpack.NewDecoder()
	for len(data) > 0 {
		header, payload, total, ok := http2codec.ReadFrame(data)
		if !ok {
			t.Fatalf("incomplete frame in response")
		}
		switch header.Type {
		case http2codec.TypeHeaders:
			fields, err := dec.DecodeFragment(payload)
			if err != nil {
				t.Fatalf("decode headers: %v", err)
			}
			for _, f := range fields {
				if f.Name == ":status" {
					if code, err := strconv.Atoi(f.Value); err == nil {
						status = code
					}
				}
			}
		case http2codec.TypeData:
			body = append(body, payload...)
		}
		data = data[total:]
	}
	return status, body
}

func newTestApp(root string) *App {
	return &App{
		cfg:    &config.Config{WWWRoot: root},
		vhosts: vhost.New(root),
		cache:  staticcache.New(root),
	}
}

// TestServeStaticVHostIndex covers the end-to-end vhost + static lookup
// scenario: authority resolves to a vhost root, "/" maps to that vhost's
// index.html, and the extensioned default-document path must not be
// rejected by ResolvePath's ".." traversal guard.
func TestServeStaticVHostIndex(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "host.test", "index.html"), "hello")

	a := newTestApp(root)

	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	c := newConnection(serverConn)
	c.authority = "host.test"
	st := newStream(1)

	done := make(chan struct{})
	go func() {
		a.serveStatic(c, st, "/")
		close(done)
	}()

	status, body := readResponse(t, client)
	<-done

	if status != 200 || string(body) != "hello" {
		t.Fatalf("got status=%d body=%q, want 200 %q", status, body, "hello")
	}
}

// TestServeStaticNeonJSXShellFallback covers the SPA shell fallback: an
// unknown HTML-looking route under a neonjsx-enabled vhost gets the
// shell document back with a 404 and an inlined __NEON_STATUS/__NEON_PATH
// script, rather than a bare 404.
func TestServeStaticNeonJSXShellFallback(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "app.test", "index.html"), "<html>shell</html>")
	writeTestFile(t, filepath.Join(root, "app.test", ".neonjsx"), "/dashboard\n")

	a := newTestApp(root)

	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	c := newConnection(serverConn)
	c.authority = "app.test"
	st := newStream(1)

	done := make(chan struct{})
	go func() {
		a.serveStatic(c, st, "/unknown-route")
		close(done)
	}()

	status, body := readResponse(t, client)
	<-done

	if status != 404 {
		t.Fatalf("status = %d, want 404", status)
	}
	if !strings.Contains(string(body), "<html>shell</html>") {
		t.Fatalf("body missing shell document: %q", body)
	}
	if !strings.Contains(string(body), `window.__NEON_STATUS=404`) {
		t.Fatalf("body missing __NEON_STATUS script: %q", body)
	}
	if !strings.Contains(string(body), `window.__NEON_PATH="/unknown-route"`) {
		t.Fatalf("body missing __NEON_PATH script: %q", body)
	}
}

// TestServeStaticNeonJSXKnownRoute covers the 200 side of the same
// fallback: a known client route gets the shell back with status 200.
func TestServeStaticNeonJSXKnownRoute(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "app.test", "index.html"), "<html>shell</html>")
	writeTestFile(t, filepath.Join(root, "app.test", ".neonjsx"), "/dashboard\n")

	a := newTestApp(root)

	client, serverConn := net.Pipe()
	defer client.Close()
	defer serverConn.Close()

	c := newConnection(serverConn)
	c.authority = "app.test"
	st := newStream(1)

	done := make(chan struct{})
	go func() {
		a.serveStatic(c, st, "/dashboard")
		close(done)
	}()

	status, body := readResponse(t, client)
	<-done

	if status != 200 {
		t.Fatalf("status = %d, want 200", status)
	}
	if !strings.Contains(string(body), `window.__NEON_STATUS=200`) {
		t.Fatalf("body missing __NEON_STATUS script: %q", body)
	}
}
