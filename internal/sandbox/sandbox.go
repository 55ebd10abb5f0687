// Package sandbox resolves tenant-relative paths against the storage
// root and refuses anything that could land outside it.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidPath marks traversal attempts and malformed segments.
var ErrInvalidPath = errors.New("invalid path")

// Class is the existence class of a resolved path.
type Class int

const (
	Absent Class = iota
	File
	Directory
)

func (c Class) String() string {
	switch c {
	case File:
		return "file"
	case Directory:
		return "directory"
	default:
		return "absent"
	}
}

// ResolvedPath is an absolute path proven to live under the storage
// root, tagged with its existence class at resolution time.
type ResolvedPath struct {
	Abs   string
	Rel   string // cleaned, slash-separated
	Class Class
}

// IsFile reports whether the path resolved to a regular file.
func (p ResolvedPath) IsFile() bool { return p.Class == File }

// IsDir reports whether the path resolved to a directory.
func (p ResolvedPath) IsDir() bool { return p.Class == Directory }

// Exists reports whether anything exists at the path.
func (p ResolvedPath) Exists() bool { return p.Class != Absent }

// Resolver joins request paths onto the storage root. Parent-escaping
// segments are rejected, never normalized away, so the first segment of
// an accepted path is trustworthy as a tenant name.
type Resolver struct {
	root      string
	canonRoot string
}

// New returns a Resolver for root, which must exist.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("canonicalize storage root %s: %w", abs, err)
	}
	return &Resolver{root: abs, canonRoot: canon}, nil
}

// Root returns the absolute storage root.
func (r *Resolver) Root() string { return r.root }

// Resolve validates the slash-separated relative path rel and returns
// its absolute location under the storage root. Dot-prefixed names are
// ordinary entries, "." segments are dropped, ".." segments fail with
// ErrInvalidPath.
func (r *Resolver) Resolve(rel string) (ResolvedPath, error) {
	parts := make([]string, 0, 8)
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return ResolvedPath{}, fmt.Errorf("parent escape in %q: %w", rel, ErrInvalidPath)
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return ResolvedPath{}, fmt.Errorf("empty path: %w", ErrInvalidPath)
	}

	cleanRel := path.Join(parts...)
	abs := filepath.Join(r.root, filepath.FromSlash(cleanRel))
	if !r.contains(abs, r.root) {
		return ResolvedPath{}, fmt.Errorf("%q resolves outside the storage root: %w", rel, ErrInvalidPath)
	}
	if err := r.checkCanonical(abs); err != nil {
		return ResolvedPath{}, err
	}

	class, err := classify(abs)
	if err != nil {
		return ResolvedPath{}, err
	}
	return ResolvedPath{Abs: abs, Rel: cleanRel, Class: class}, nil
}

// checkCanonical canonicalizes the deepest existing ancestor of abs and
// verifies it still lies under the storage root. This closes the escape
// where a symlink inside a tenant directory points outside the sandbox.
func (r *Resolver) checkCanonical(abs string) error {
	p := abs
	for {
		canon, err := filepath.EvalSymlinks(p)
		if err == nil {
			if !r.contains(canon, r.canonRoot) {
				return fmt.Errorf("%s leaves the storage root through a link: %w", abs, ErrInvalidPath)
			}
			return nil
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("canonicalize %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return nil
		}
		p = parent
	}
}

func (r *Resolver) contains(abs, root string) bool {
	return abs == root || strings.HasPrefix(abs, root+string(os.PathSeparator))
}

func classify(abs string) (Class, error) {
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return Absent, nil
	}
	if err != nil {
		return Absent, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return Directory, nil
	}
	return File, nil
}
