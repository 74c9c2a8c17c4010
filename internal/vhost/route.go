package vhost

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultDocument is served for "/" and for any path resolving to a
// directory.
const DefaultDocument = "/index.html"

// Resolution is the outcome of resolving a request path under a
// document root.
type Resolution struct {
	FilePath string
	Found bool
}

// ResolvePath implements the path resolution rules, grounded
// on spin/vhost and neonsignal/router/resolve.c++'s Router::resolve:
// strip the query string, map "/" to the default document, reject any
// path containing "..", append the default document for directories,
// then test existence and regular-file-ness.
func ResolvePath(requestPath, documentRoot string) Resolution {
	clean := requestPath
	if idx := strings.IndexByte(clean, '?'); idx >= 0 {
		clean = clean[:idx]
	}
	if clean == "" || clean[0] != '/' {
		clean = "/" + clean
	}
	if clean == "/" {
		clean = DefaultDocument
	}
	if strings.Contains(clean, "..") {
		return Resolution{}
	}

	full := filepath.Join(documentRoot, clean[1:])
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		full = filepath.Join(full, strings.TrimPrefix(DefaultDocument, "/"))
	}

	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return Resolution{}
	}
	return Resolution{FilePath: full, Found: true}
}
