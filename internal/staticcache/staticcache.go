// Package staticcache preloads a document tree into memory and serves
// it with a disk-read fallback: the preload step reads the public tree
// into memory at startup, and disk reads cover paths not found in
// cache or vhost-scoped lookups.
package staticcache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nutsloop/neonsignal/internal/vhost"
)

// mimeTable mirrors guess_content_type.c++'s kMimeTable exactly.
var mimeTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm": "text/html; charset=utf-8",
	".css": "text/css; charset=utf-8",
	".js": "application/javascript",
	".mjs": "application/javascript",
	".json": "application/json",
	".txt": "text/plain; charset=utf-8",
	".png": "image/png",
	".jpg": "image/jpeg",
	".jpeg": "image/jpeg",
	".gif": "image/gif",
	".svg": "image/svg+xml",
	".ico": "image/x-icon",
	".webp": "image/webp",
	".avif": "image/avif",
	".mp4": "video/mp4",
	".webm": "video/webm",
	".ogg": "audio/ogg",
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".wasm": "application/wasm",
	".xml": "application/xml",
	".pdf": "application/pdf",
	".zip": "application/zip",
}

// GuessContentType maps a file's extension to a MIME type, falling back
// to application/octet-stream for anything not in the table.
func GuessContentType(path string) string {
	if ct, ok := mimeTable[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// entry is one preloaded file.
type entry struct {
	contentType string
	content []byte
}

// Cache preloads a document root's regular files into memory, keyed by
// the request path ("/" + path relative to the root), and serves disk
// as a fallback for cache misses.
type Cache struct {
	mu sync.RWMutex
	byPath map[string]entry
}

// New preloads every regular file under root. A failed walk leaves the
// cache empty; disk fallback still serves every request correctly, just
// without the in-memory speedup.
func New(root string) *Cache {
	c := &Cache{byPath: map[string]entry{}}
	c.Preload(root)
	return c
}

// Preload walks root and loads every regular file into memory, replacing
// any previously cached contents. Safe to call again to pick up changes.
func (c *Cache) Preload(root string) {
	fresh := map[string]entry{}
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		reqPath := "/" + filepath.ToSlash(rel)
		fresh[reqPath] = entry{contentType: GuessContentType(path), content: data}
		return nil
	})

	c.mu.Lock()
	c.byPath = fresh
	c.mu.Unlock()
}

// Result is the outcome of a Load call.
type Result struct {
	Status int
	ContentType string
	Body []byte
}

var notFoundBody = []byte("Not found")

// Load resolves path against root (this cache's preload root by
// convention, but the caller supplies it explicitly so the same Cache
// can serve multiple vhosts), checking the in-memory cache first and
// falling back to disk via vhost.ResolvePath on a miss.
func (c *Cache) Load(path, root string) Result {
	cleanPath := path
	if idx := strings.IndexByte(cleanPath, '?'); idx >= 0 {
		cleanPath = cleanPath[:idx]
	}
	if cleanPath == "" || cleanPath[0] != '/' {
		cleanPath = "/" + cleanPath
	}
	if cleanPath == "/" {
		cleanPath = vhost.DefaultDocument
	}

	c.mu.RLock()
	e, hit := c.byPath[cleanPath]
	c.mu.RUnlock()
	if hit {
		return Result{Status: 200, ContentType: e.contentType, Body: e.content}
	}

	res := vhost.ResolvePath(path, root)
	if !res.Found {
		return Result{Status: 404, Body: notFoundBody}
	}

	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		return Result{Status: 500, Body: []byte("Error")}
	}
	return Result{Status: 200, ContentType: GuessContentType(res.FilePath), Body: data}
}
