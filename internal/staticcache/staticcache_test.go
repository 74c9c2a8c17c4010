package staticcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGuessContentType(t *testing.T) {
	cases := map[string]string{
		"index.html":    "text/html; charset=utf-8",
		"app.JS":        "application/javascript",
		"data.unknown":  "application/octet-stream",
		"photo.jpeg":    "image/jpeg",
	}
	for name, want := range cases {
		if got := GuessContentType(name); got != want {
			t.Errorf("GuessContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestCacheHitAndFallback(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c := New(root)

	res := c.Load("/", root)
	if res.Status != 200 || string(res.Body) != "hello" || res.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("cache hit: %+v", res)
	}

	// Write a new file after preload: not in cache, served from disk.
	if err := os.WriteFile(filepath.Join(root, "late.txt"), []byte("later"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res = c.Load("/late.txt", root)
	if res.Status != 200 || string(res.Body) != "later" {
		t.Fatalf("disk fallback: %+v", res)
	}

	res = c.Load("/missing.txt", root)
	if res.Status != 404 {
		t.Fatalf("missing: %+v", res)
	}
}
