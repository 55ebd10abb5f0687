// Package archive builds and extracts zip artifacts through the
// external zip and unzip tools.
package archive

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/filecove/filecove/internal/fsops"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/sandbox"
	"github.com/filecove/filecove/internal/sanitize"
)

// External tool invocation failures.
var (
	ErrZip    = errors.New("zip failed")
	ErrUnpack = errors.New("unpack failed")
)

// Artifact is a built zip file in the temp area, reference-held until
// Close so the janitor leaves it alone while it streams.
type Artifact struct {
	Name string
	Path string

	release func()
}

// Close drops the janitor reference on the artifact.
func (a *Artifact) Close() {
	if a.release != nil {
		a.release()
	}
}

// Archiver runs the external archiving tools inside the temp area.
type Archiver struct {
	tmpDir    string
	registry  *Registry
	locks     *fsops.PathLocks
	sanitizer *sanitize.Sanitizer

	zipBin   string
	unzipBin string
}

// New returns an Archiver writing artifacts to tmpDir, creating it if
// needed.
func New(tmpDir string, registry *Registry, locks *fsops.PathLocks, sanitizer *sanitize.Sanitizer) (*Archiver, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp area %s: %w", tmpDir, err)
	}
	return &Archiver{
		tmpDir:    tmpDir,
		registry:  registry,
		locks:     locks,
		sanitizer: sanitizer,
		zipBin:    "zip",
		unzipBin:  "unzip",
	}, nil
}

// ArtifactName derives the deterministic temp file name for a source
// directory: its base name plus the hex digest of the relative path.
// The name identifies the artifact, it is not a cache key. Every build
// starts from scratch.
func ArtifactName(rel string) string {
	sum := md5.Sum([]byte(rel))
	return path.Base(rel) + "-" + hex.EncodeToString(sum[:]) + ".zip"
}

// BuildZip archives dir into the temp area and returns the artifact
// with a reference held. A stale artifact of the same name is removed
// first.
func (a *Archiver) BuildZip(ctx context.Context, dir sandbox.ResolvedPath) (*Artifact, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("zip %s: %w", dir.Rel, fsops.ErrNotFound)
	}

	unlock := a.locks.Lock(dir.Rel)
	defer unlock()

	name := ArtifactName(dir.Rel)
	artifactPath := filepath.Join(a.tmpDir, name)
	if _, err := os.Stat(artifactPath); err == nil {
		if err := os.Remove(artifactPath); err != nil {
			return nil, fmt.Errorf("remove stale artifact %s: %w", name, err)
		}
	}

	// Run from the parent so the archive's internal paths start at the
	// directory name.
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.zipBin, "-q", "-r", artifactPath, filepath.Base(dir.Abs))
	cmd.Dir = filepath.Dir(dir.Abs)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	metrics.RecordArchiveBuild(time.Since(start), err == nil)
	if err != nil {
		// A partial artifact may stay behind, the next build or the
		// janitor takes care of it.
		logging.WithContext(ctx).Error("zip invocation failed",
			zap.String("dir", dir.Rel),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return nil, fmt.Errorf("zip %s: %w", dir.Rel, ErrZip)
	}

	return &Artifact{
		Name:    name,
		Path:    artifactPath,
		release: a.registry.Retain(name),
	}, nil
}

// Unpack extracts an archive lying in dir into a directory named after
// it. Returns the extraction directory name.
func (a *Archiver) Unpack(ctx context.Context, dir sandbox.ResolvedPath, rawArchiveName string) (string, error) {
	if !dir.IsDir() {
		return "", fmt.Errorf("unpack in %s: %w", dir.Rel, fsops.ErrNotFound)
	}

	name := a.sanitizer.DirectoryName(rawArchiveName)
	if len(name) < 4 || !strings.EqualFold(name[len(name)-4:], ".zip") {
		return "", fmt.Errorf("archive name %q: %w", rawArchiveName, fsops.ErrInvalidInput)
	}
	targetName := name[:len(name)-len(filepath.Ext(name))]

	unlock := a.locks.Lock(dir.Rel + "/" + targetName)
	defer unlock()

	source := filepath.Join(dir.Abs, name)
	info, err := os.Stat(source)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return "", fmt.Errorf("archive %s/%s: %w", dir.Rel, name, fsops.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", source, err)
	}

	target := filepath.Join(dir.Abs, targetName)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("unpack target %s/%s: %w", dir.Rel, targetName, fsops.ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", target, err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.unzipBin, "-q", source, "-d", target)
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	metrics.RecordArchiveUnpack(time.Since(start), err == nil)
	if err != nil {
		logging.WithContext(ctx).Error("unzip invocation failed",
			zap.String("archive", dir.Rel+"/"+name),
			zap.String("stderr", strings.TrimSpace(stderr.String())),
			zap.Error(err),
		)
		return "", fmt.Errorf("unpack %s/%s: %w", dir.Rel, name, ErrUnpack)
	}
	return targetName, nil
}
