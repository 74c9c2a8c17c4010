// Package redirect implements the plaintext HTTP/1.1 redirector: an
// independent listener that serves ACME HTTP-01 challenge files out of
// a webroot and otherwise answers every request with a 308 to the
// HTTPS equivalent.
//
// Grounded on the reference implementation's redirect_service sources
// (setup_listener_, handle_accept_, handle_io_, process_buffer_,
// send_redirect_, serve_acme_challenge_). The original drives every
// connection through one epoll thread with a hand-rolled Connection
// struct (buffer, write_buffer, responded flag); this translates to
// Go's net package, where each accepted connection already gets
// blocking reads/writes on its own goroutine, with no epoll state
// machine to write by hand. SO_REUSEPORT (needed so multiple
// redirector instances can share one port) has no net package
// equivalent, so it is set explicitly through net.ListenConfig.Control.
package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nutsloop/neonsignal/internal/config"
)

// maxHeaderBytes mirrors process_buffer_.c++'s 32768-byte guard against
// a malformed or oversized request on a redirect-only listener.
const maxHeaderBytes = 32 * 1024

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// readTimeout bounds how long a connection may sit waiting for a
// complete request line + headers before being dropped.
const readTimeout = 10 * time.Second

// Service owns one or more listeners sharing a port via SO_REUSEPORT,
// each answering with an ACME challenge file or a 308 redirect.
type Service struct {
	cfg config.RedirectConfig
	running atomic.Bool
	listenFn func(network, address string) (net.Listener, error)
}

// New constructs a Service bound to cfg. Instances > 1 in cfg starts
// that many listeners on the same host:port via SO_REUSEPORT, matching
// the original's multi-process deployment model collapsed into
// multiple goroutines within one process.
func New(cfg config.RedirectConfig) *Service {
	return &Service{cfg: cfg, listenFn: reusePortListen}
}

// reusePortListen opens a TCP listener with SO_REUSEADDR and
// SO_REUSEPORT set before bind, so multiple Service instances (or
// multiple processes) can share one listen port.
func reusePortListen(network, address string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), network, address)
}

// Serve starts cfg.Instances listeners and blocks until ctx is cancelled
// or any listener fails fatally.
func (s *Service) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("redirect: already running")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	instances := s.cfg.Instances
	if instances <= 0 {
		instances = 1
	}

	errCh := make(chan error, instances)
	for i := 0; i < instances; i++ {
		ln, err := s.listenFn("tcp", addr)
		if err != nil {
			return fmt.Errorf("redirect: listen %s: %w", addr, err)
		}
		slog.Info("redirect: listening", "addr", addr, "instance", i)

		go func(ln net.Listener) {
			<-ctx.Done()
			ln.Close()
		}(ln)

		go func(ln net.Listener) {
			errCh <- s.acceptLoop(ctx, ln)
		}(ln)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redirect: accept: %w", err)
		}
		go s.handleConnection(conn)
	}
}

func (s *Service) handleConnection(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(readTimeout))

	method, path, host, ok := readRequestLine(conn)
	if !ok {
		return
	}

	if strings.HasPrefix(path, acmeChallengePrefix) {
		if s.serveACMEChallenge(conn, path) {
			slog.Debug("redirect: served acme challenge", "path", path)
			return
		}
		writeResponse(conn, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
		return
	}

	s.sendRedirect(conn, host, path)
	slog.Debug("redirect: queued 308", "method", method, "host", host, "path", path)
}

// readRequestLine reads until "\r\n\r\n" or maxHeaderBytes, extracting
// the request-line method/path and the Host header, matching
// process_buffer_.c++'s parsing exactly (path defaults to "/" when
// malformed, host falls back to the configured redirect host).
func readRequestLine(conn net.Conn) (method, path, host string, ok bool) {
	var raw strings.Builder
	buf := make([]byte, 2048)
	for raw.Len() < maxHeaderBytes {
		n, err := conn.Read(buf)
		if n > 0 {
			raw.Write(buf[:n])
		}
		if strings.Contains(raw.String(), "\r\n\r\n") {
			break
		}
		if err != nil {
			return "", "", "", false
		}
	}

	headerBlock := raw.String()
	lineEnd := strings.Index(headerBlock, "\r\n")
	if lineEnd < 0 {
		return "", "", "", false
	}

	method, path = "GET", "/"
	requestLine := headerBlock[:lineEnd]
	parts := strings.Fields(requestLine)
	if len(parts) >= 2 {
		method = parts[0]
		if strings.HasPrefix(parts[1], "/") {
			path = parts[1]
		}
	}

	host = hostFromHeaders(headerBlock)
	return method, path, host, true
}

func hostFromHeaders(headerBlock string) string {
	lower := strings.ToLower(headerBlock)
	idx := strings.Index(lower, "host:")
	if idx < 0 {
		return ""
	}
	lineEnd := strings.Index(headerBlock[idx:], "\r\n")
	if lineEnd < 0 {
		return ""
	}
	value := strings.TrimSpace(headerBlock[idx+5 : idx+lineEnd])
	if colon := strings.IndexByte(value, ':'); colon >= 0 {
		value = value[:colon]
	}
	return value
}

// serveACMEChallenge resolves path under the configured ACME webroot
// and serves the file verbatim, matching serve_acme_challenge_.c++.
func (s *Service) serveACMEChallenge(conn net.Conn, path string) bool {
	full := filepath.Join(s.cfg.ACMEWebroot, strings.TrimPrefix(path, "/"))
	if !strings.HasPrefix(full, filepath.Clean(s.cfg.ACMEWebroot)+string(filepath.Separator)) {
		return false
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return false
	}

	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(data), data)
	writeResponse(conn, response)
	return true
}

// sendRedirect writes the 308 Permanent Redirect response, target port
// omitted from Location only when it equals 443, matching
// send_redirect_.c++.
func (s *Service) sendRedirect(conn net.Conn, host, path string) {
	if host == "" {
		host = s.cfg.Host
	}
	if path == "" {
		path = "/"
	}

	target := "https://" + host
	if s.cfg.TargetPort != 443 {
		target += ":" + strconv.Itoa(s.cfg.TargetPort)
	}
	target += path

	body := "Redirecting to " + target + "\n"
	response := fmt.Sprintf("HTTP/1.1 308 Permanent Redirect\r\nLocation: %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		target, len(body), body)
	writeResponse(conn, response)
}

func writeResponse(conn net.Conn, response string) {
	conn.SetWriteDeadline(time.Now().Add(readTimeout))
	_, _ = conn.Write([]byte(response))
}
