package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "alice", "docs"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "alice", "docs", "note.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	r, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, root
}

func TestResolveRejectsTraversal(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, rel := range []string{
		"..",
		"../",
		"alice/..",
		"alice/../bob",
		"alice/../../etc/passwd",
		"alice/./../bob",
		"alice/docs/../../../../tmp",
		"",
		".",
		"./.",
	} {
		if _, err := r.Resolve(rel); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q): %v, want ErrInvalidPath", rel, err)
		}
	}
}

func TestResolveClassifies(t *testing.T) {
	r, root := newTestResolver(t)

	cases := []struct {
		rel     string
		class   Class
		wantRel string
	}{
		{"alice", Directory, "alice"},
		{"alice/docs", Directory, "alice/docs"},
		{"alice/docs/note.txt", File, "alice/docs/note.txt"},
		{"alice/missing", Absent, "alice/missing"},
		{"alice/./docs", Directory, "alice/docs"},
		{"alice//docs", Directory, "alice/docs"},
		{"alice/docs/", Directory, "alice/docs"},
	}
	for _, tc := range cases {
		p, err := r.Resolve(tc.rel)
		if err != nil {
			t.Errorf("Resolve(%q): %v", tc.rel, err)
			continue
		}
		if p.Class != tc.class {
			t.Errorf("Resolve(%q).Class = %s, want %s", tc.rel, p.Class, tc.class)
		}
		if p.Rel != tc.wantRel {
			t.Errorf("Resolve(%q).Rel = %q, want %q", tc.rel, p.Rel, tc.wantRel)
		}
		want := filepath.Join(root, filepath.FromSlash(tc.wantRel))
		if p.Abs != want {
			t.Errorf("Resolve(%q).Abs = %q, want %q", tc.rel, p.Abs, want)
		}
	}
}

func TestResolveAllowsDotPrefixedNames(t *testing.T) {
	r, root := newTestResolver(t)
	if err := os.WriteFile(filepath.Join(root, "alice", ".hidden"), nil, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := r.Resolve("alice/.hidden")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !p.IsFile() {
		t.Errorf("Class = %s, want file", p.Class)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	r, root := newTestResolver(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "loot.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "alice", "escape")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := r.Resolve("alice/escape"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Resolve(alice/escape): %v, want ErrInvalidPath", err)
	}
	if _, err := r.Resolve("alice/escape/loot.txt"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Resolve(alice/escape/loot.txt): %v, want ErrInvalidPath", err)
	}
}

func TestResolveAllowsSymlinkInsideRoot(t *testing.T) {
	r, root := newTestResolver(t)

	if err := os.Symlink(filepath.Join(root, "alice", "docs"), filepath.Join(root, "alice", "shortcut")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	p, err := r.Resolve("alice/shortcut/note.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !p.IsFile() {
		t.Errorf("Class = %s, want file", p.Class)
	}
}
