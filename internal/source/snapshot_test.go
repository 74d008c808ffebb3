package source

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestTreeHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "print('hello')\n")
	writeFile(t, dir, "templates/index.html", "<html></html>\n")

	a, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}
	b, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}
	if a != b {
		t.Errorf("Expected identical hashes for unchanged tree, got %s and %s", a, b)
	}
}

func TestTreeHashChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "v1\n")
	before, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	writeFile(t, dir, "app.py", "v2\n")
	after, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	if before == after {
		t.Error("Expected hash to change when file content changes")
	}
}

func TestTreeHashIgnoresGitAndCacheDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "app\n")
	base, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	writeFile(t, dir, ".git/HEAD", "ref: refs/heads/main\n")
	writeFile(t, dir, ".slipway/cache/deps", "abc\n")
	after, err := TreeHash(dir)
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	if base != after {
		t.Error("Expected .git and .slipway contents to be excluded from the hash")
	}
}

func TestTreeHashExcludesNamedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "app\n")
	writeFile(t, dir, "library.db", "sqlite data v1")

	a, err := TreeHash(dir, "library.db")
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	writeFile(t, dir, "library.db", "sqlite data v2, mutated at runtime")
	b, err := TreeHash(dir, "library.db")
	if err != nil {
		t.Fatalf("TreeHash failed: %v", err)
	}

	if a != b {
		t.Error("Expected excluded state file to not affect the hash")
	}
}

func TestContainsEntrypoint(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "app\n")
	writeFile(t, dir, "pkg/server.py", "server\n")

	cases := []struct {
		ref      string
		wantPath string
		wantOK   bool
	}{
		{"app.py", "app.py", true},
		{"app.py:create_app", "app.py", true},
		{"pkg/server.py", "pkg/server.py", true},
		{"pkg.server", "pkg/server.py", true},
		{"missing.py", "", false},
		{"", "", false},
		{":app", "", false},
	}

	for _, tc := range cases {
		path, ok := ContainsEntrypoint(dir, tc.ref)
		if ok != tc.wantOK || path != tc.wantPath {
			t.Errorf("ContainsEntrypoint(%q) = (%q, %v), want (%q, %v)",
				tc.ref, path, ok, tc.wantPath, tc.wantOK)
		}
	}
}
