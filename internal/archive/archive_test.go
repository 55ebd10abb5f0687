package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/fsops"
	"github.com/filecove/filecove/internal/sandbox"
	"github.com/filecove/filecove/internal/sanitize"
)

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not installed", name)
	}
}

func newTestArchiver(t *testing.T) (*Archiver, *Registry, *sandbox.Resolver) {
	t.Helper()
	root := t.TempDir()
	photos := filepath.Join(root, "alice", "photos")
	if err := os.MkdirAll(filepath.Join(photos, "trips"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, filepath.Join(photos, "cat.jpg"), "not really a jpeg")
	writeFile(t, filepath.Join(photos, "trips", "rome.jpg"), "fake")

	resolver, err := sandbox.New(root)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	reg := NewRegistry()
	a, err := New(filepath.Join(root, "tmp"), reg, fsops.NewPathLocks(), sanitize.New(config.DefaultWhitelist, 64))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, reg, resolver
}

func resolve(t *testing.T, r *sandbox.Resolver, rel string) sandbox.ResolvedPath {
	t.Helper()
	p, err := r.Resolve(rel)
	if err != nil {
		t.Fatalf("Resolve(%s): %v", rel, err)
	}
	return p
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func writeSourceArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestArtifactName(t *testing.T) {
	got := ArtifactName("alice/photos")
	want := "photos-300f3eb2120b2c5c64990c75d4a7feb7.zip"
	if got != want {
		t.Fatalf("ArtifactName = %s, want %s", got, want)
	}
	// Same base name under another parent must not collide.
	if other := ArtifactName("bob/photos"); other == got {
		t.Fatalf("same artifact name for different paths: %s", other)
	}
}

func TestRegistryReferences(t *testing.T) {
	reg := NewRegistry()
	if reg.InUse("x.zip") {
		t.Fatal("empty registry reports a reference")
	}

	release := reg.Retain("x.zip")
	if !reg.InUse("x.zip") {
		t.Fatal("retained artifact not in use")
	}
	if _, ok := reg.CreatedAt("x.zip"); !ok {
		t.Fatal("retained artifact has no build time")
	}

	release()
	release() // second call must be a no-op
	if reg.InUse("x.zip") {
		t.Fatal("released artifact still in use")
	}
	if _, ok := reg.CreatedAt("x.zip"); !ok {
		t.Fatal("release must keep the build time for the sweeper")
	}

	reg.Forget("x.zip")
	if _, ok := reg.CreatedAt("x.zip"); ok {
		t.Fatal("forgotten artifact still tracked")
	}
}

func TestRegistryRetainRefreshesBuildTime(t *testing.T) {
	reg := NewRegistry()
	reg.Retain("x.zip")()
	first, _ := reg.CreatedAt("x.zip")

	time.Sleep(10 * time.Millisecond)
	reg.Retain("x.zip")()
	second, _ := reg.CreatedAt("x.zip")
	if !second.After(first) {
		t.Fatalf("build time not refreshed: %v then %v", first, second)
	}
}

func TestBuildZip(t *testing.T) {
	requireTool(t, "zip")
	a, reg, resolver := newTestArchiver(t)
	dir := resolve(t, resolver, "alice/photos")

	art, err := a.BuildZip(context.Background(), dir)
	if err != nil {
		t.Fatalf("BuildZip: %v", err)
	}
	if art.Name != ArtifactName("alice/photos") {
		t.Fatalf("artifact name = %s", art.Name)
	}
	if !reg.InUse(art.Name) {
		t.Fatal("artifact not referenced while open")
	}

	zr, err := zip.OpenReader(art.Path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	zr.Close()
	for _, want := range []string{"photos/cat.jpg", "photos/trips/rome.jpg"} {
		if !names[want] {
			t.Fatalf("archive misses %s, has %v", want, names)
		}
	}

	art.Close()
	if reg.InUse(art.Name) {
		t.Fatal("closed artifact still referenced")
	}
}

func TestBuildZipReplacesStaleArtifact(t *testing.T) {
	requireTool(t, "zip")
	a, _, resolver := newTestArchiver(t)
	dir := resolve(t, resolver, "alice/photos")

	stale := filepath.Join(a.tmpDir, ArtifactName("alice/photos"))
	writeFile(t, stale, "not a zip")

	art, err := a.BuildZip(context.Background(), dir)
	if err != nil {
		t.Fatalf("BuildZip over stale artifact: %v", err)
	}
	defer art.Close()
	if _, err := zip.OpenReader(art.Path); err != nil {
		t.Fatalf("stale artifact not replaced: %v", err)
	}
}

func TestBuildZipRequiresDirectory(t *testing.T) {
	a, _, resolver := newTestArchiver(t)

	missing := resolve(t, resolver, "alice/nope")
	if _, err := a.BuildZip(context.Background(), missing); !errors.Is(err, fsops.ErrNotFound) {
		t.Fatalf("missing dir: err = %v, want ErrNotFound", err)
	}

	file := resolve(t, resolver, "alice/photos/cat.jpg")
	if _, err := a.BuildZip(context.Background(), file); !errors.Is(err, fsops.ErrNotFound) {
		t.Fatalf("regular file: err = %v, want ErrNotFound", err)
	}
}

func TestBuildZipToolFailure(t *testing.T) {
	a, reg, resolver := newTestArchiver(t)
	a.zipBin = filepath.Join(t.TempDir(), "no-such-tool")
	dir := resolve(t, resolver, "alice/photos")

	if _, err := a.BuildZip(context.Background(), dir); !errors.Is(err, ErrZip) {
		t.Fatalf("err = %v, want ErrZip", err)
	}
	if reg.InUse(ArtifactName("alice/photos")) {
		t.Fatal("failed build left a reference")
	}
}

func TestUnpack(t *testing.T) {
	requireTool(t, "unzip")
	a, _, resolver := newTestArchiver(t)
	home := resolve(t, resolver, "alice")
	writeSourceArchive(t, filepath.Join(home.Abs, "backup.zip"), map[string]string{
		"notes/today.txt": "remember the milk",
	})

	name, err := a.Unpack(context.Background(), home, "backup.zip")
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if name != "backup" {
		t.Fatalf("target = %s, want backup", name)
	}
	got, err := os.ReadFile(filepath.Join(home.Abs, "backup", "notes", "today.txt"))
	if err != nil {
		t.Fatalf("extracted file: %v", err)
	}
	if string(got) != "remember the milk" {
		t.Fatalf("content = %q", got)
	}
	// The source archive stays in place.
	if _, err := os.Stat(filepath.Join(home.Abs, "backup.zip")); err != nil {
		t.Fatalf("source archive gone: %v", err)
	}
}

func TestUnpackUppercaseExtension(t *testing.T) {
	requireTool(t, "unzip")
	a, _, resolver := newTestArchiver(t)
	home := resolve(t, resolver, "alice")
	writeSourceArchive(t, filepath.Join(home.Abs, "OLD.ZIP"), map[string]string{"a.txt": "x"})

	name, err := a.Unpack(context.Background(), home, "OLD.ZIP")
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if name != "OLD" {
		t.Fatalf("target = %s, want OLD", name)
	}
}

func TestUnpackRejectsNonZip(t *testing.T) {
	a, _, resolver := newTestArchiver(t)
	home := resolve(t, resolver, "alice")
	writeFile(t, filepath.Join(home.Abs, "notes.txt"), "plain")

	if _, err := a.Unpack(context.Background(), home, "notes.txt"); !errors.Is(err, fsops.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := os.Stat(filepath.Join(home.Abs, "notes")); !os.IsNotExist(err) {
		t.Fatal("rejected unpack touched the filesystem")
	}
}

func TestUnpackMissingSource(t *testing.T) {
	a, _, resolver := newTestArchiver(t)
	home := resolve(t, resolver, "alice")

	if _, err := a.Unpack(context.Background(), home, "gone.zip"); !errors.Is(err, fsops.ErrNotFound) {
		t.Fatalf("missing source: err = %v, want ErrNotFound", err)
	}

	// A directory whose name ends in .zip is not an archive.
	if err := os.Mkdir(filepath.Join(home.Abs, "dir.zip"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := a.Unpack(context.Background(), home, "dir.zip"); !errors.Is(err, fsops.ErrNotFound) {
		t.Fatalf("directory source: err = %v, want ErrNotFound", err)
	}
}

func TestUnpackTargetExists(t *testing.T) {
	a, _, resolver := newTestArchiver(t)
	home := resolve(t, resolver, "alice")
	writeSourceArchive(t, filepath.Join(home.Abs, "backup.zip"), map[string]string{"a.txt": "x"})
	if err := os.Mkdir(filepath.Join(home.Abs, "backup"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if _, err := a.Unpack(context.Background(), home, "backup.zip"); !errors.Is(err, fsops.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestUnpackToolFailure(t *testing.T) {
	a, _, resolver := newTestArchiver(t)
	a.unzipBin = filepath.Join(t.TempDir(), "no-such-tool")
	home := resolve(t, resolver, "alice")
	writeSourceArchive(t, filepath.Join(home.Abs, "backup.zip"), map[string]string{"a.txt": "x"})

	if _, err := a.Unpack(context.Background(), home, "backup.zip"); !errors.Is(err, ErrUnpack) {
		t.Fatalf("err = %v, want ErrUnpack", err)
	}
}
