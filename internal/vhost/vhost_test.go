package vhost

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIsDomainDirectory(t *testing.T) {
	cases := map[string]bool{
		"_default":     true,
		"host.test":    true,
		"a.b.test":     true,
		"noDot":        false,
		".hidden.test": false,
		"trailing.":    false,
		"a..b":         false,
		"under_score":  false,
	}
	for name, want := range cases {
		if got := isDomainDirectory(name); got != want {
			t.Errorf("isDomainDirectory(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestResolverExactAndDefault(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "host.test", "index.html"), "hello")
	writeFile(t, filepath.Join(root, "_default", "index.html"), "default")

	r := New(root)

	if dr, ok := r.Resolve("host.test"); !ok || dr != filepath.Join(root, "host.test") {
		t.Errorf("exact resolve: dr=%q ok=%v", dr, ok)
	}
	if dr, ok := r.Resolve("host.test:443"); !ok || dr != filepath.Join(root, "host.test") {
		t.Errorf("port-stripped resolve: dr=%q ok=%v", dr, ok)
	}
	if dr, ok := r.Resolve("unknown.test"); !ok || dr != filepath.Join(root, "_default") {
		t.Errorf("default fallback: dr=%q ok=%v", dr, ok)
	}
	if !r.Enabled() {
		t.Error("Enabled() should be true with a non-default vhost present")
	}
}

func TestNeonJSXManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.test", "index.html"), "shell")
	writeFile(t, filepath.Join(root, "app.test", ".neonjsx"), "/dashboard\n/api/*\n# comment\n")

	r := New(root)

	if !r.IsNeonJSX("app.test") {
		t.Fatal("expected neonjsx enabled")
	}
	if !r.IsNeonJSXRoute("app.test", "/dashboard") {
		t.Error("explicit route should match")
	}
	if !r.IsNeonJSXRoute("app.test", "/api/widgets") {
		t.Error("wildcard route should match")
	}
	if r.IsNeonJSXRoute("app.test", "/other") {
		t.Error("unrelated path should not match")
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "home")
	writeFile(t, filepath.Join(root, "sub", "index.html"), "sub-home")
	writeFile(t, filepath.Join(root, "file.txt"), "hi")

	cases := []struct {
		path  string
		found bool
		file  string
	}{
		// The default document and any other extensioned path must
		// resolve; only ".." traversal is rejected.
		{"/", true, filepath.Join(root, "index.html")},
		{"/index.html", true, filepath.Join(root, "index.html")},
		{"/file.txt?x=1", true, filepath.Join(root, "file.txt")},
		{"/sub/", true, filepath.Join(root, "sub", "index.html")},
		{"/sub", true, filepath.Join(root, "sub", "index.html")},
		{"/../etc/passwd", false, ""},
		{"/missing.txt", false, ""},
	}
	for _, c := range cases {
		got := ResolvePath(c.path, root)
		if got.Found != c.found {
			t.Errorf("ResolvePath(%q): found=%v, want %v", c.path, got.Found, c.found)
		}
		if c.found && got.FilePath != c.file {
			t.Errorf("ResolvePath(%q): file=%q, want %q", c.path, got.FilePath, c.file)
		}
	}
}
