// Package fsops implements the filesystem operations engine working on
// pre-authorized sandbox paths.
package fsops

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/filecove/filecove/internal/sandbox"
	"github.com/filecove/filecove/internal/sanitize"
)

// DefaultDirName replaces directory names that sanitize to nothing.
const DefaultDirName = "new_directory"

// FileInfo describes one file in a directory listing.
type FileInfo struct {
	Name string
	Size int64
	Kind string
}

// Listing holds one directory level, partitioned by entry type and
// sorted case-insensitively.
type Listing struct {
	Directories []string
	Files       []FileInfo
}

// Engine performs the filesystem operations. Paths are resolved and
// authorized before they reach it. Destructive operations serialize on
// locks so concurrent mutations of one path cannot interleave.
type Engine struct {
	sanitizer *sanitize.Sanitizer
	locks     *PathLocks
}

// New returns an Engine using sanitizer for entry names and locks for
// per-path serialization.
func New(sanitizer *sanitize.Sanitizer, locks *PathLocks) *Engine {
	return &Engine{sanitizer: sanitizer, locks: locks}
}

// List reads one directory level. Entries are classified through
// symlinks, broken links are omitted.
func (e *Engine) List(_ context.Context, dir sandbox.ResolvedPath) (*Listing, error) {
	if !dir.IsDir() {
		return nil, fmt.Errorf("list %s: %w", dir.Rel, ErrNotFound)
	}
	entries, err := os.ReadDir(dir.Abs)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir.Rel, err)
	}

	listing := &Listing{}
	for _, entry := range entries {
		info, err := os.Stat(filepath.Join(dir.Abs, entry.Name()))
		if err != nil {
			continue
		}
		if info.IsDir() {
			listing.Directories = append(listing.Directories, entry.Name())
		} else if info.Mode().IsRegular() {
			listing.Files = append(listing.Files, FileInfo{
				Name: entry.Name(),
				Size: info.Size(),
				Kind: kindOf(entry.Name()),
			})
		}
	}

	sort.Slice(listing.Directories, func(i, j int) bool {
		return lessFold(listing.Directories[i], listing.Directories[j])
	})
	sort.Slice(listing.Files, func(i, j int) bool {
		return lessFold(listing.Files[i].Name, listing.Files[j].Name)
	})
	return listing, nil
}

// CreateDirectory creates a single directory level under parent and
// returns the name it was created with. Names sanitizing to nothing get
// the default name.
func (e *Engine) CreateDirectory(_ context.Context, parent sandbox.ResolvedPath, rawName string) (string, error) {
	if !parent.IsDir() {
		return "", fmt.Errorf("create in %s: %w", parent.Rel, ErrNotFound)
	}
	name := e.sanitizer.DirectoryName(rawName)
	if name == "" {
		name = DefaultDirName
	}
	if !validEntryName(name) {
		return "", fmt.Errorf("directory name %q: %w", rawName, ErrInvalidInput)
	}

	target := filepath.Join(parent.Abs, name)
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("create %s/%s: %w", parent.Rel, name, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", target, err)
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("create %s/%s: %w", parent.Rel, name, ErrAlreadyExists)
		}
		return "", fmt.Errorf("create %s/%s: %w", parent.Rel, name, err)
	}
	return name, nil
}

// Delete removes target, recursively for directories. A tenant's home
// directory itself is never deletable.
func (e *Engine) Delete(_ context.Context, target sandbox.ResolvedPath) error {
	if !target.Exists() {
		return fmt.Errorf("delete %s: %w", target.Rel, ErrNotFound)
	}
	if !strings.Contains(target.Rel, "/") {
		return fmt.Errorf("delete home %s: %w", target.Rel, ErrForbidden)
	}
	unlock := e.locks.Lock(target.Rel)
	defer unlock()
	if target.IsDir() {
		if err := os.RemoveAll(target.Abs); err != nil {
			return fmt.Errorf("delete directory %s: %w", target.Rel, err)
		}
		return nil
	}
	if err := os.Remove(target.Abs); err != nil {
		return fmt.Errorf("delete file %s: %w", target.Rel, err)
	}
	return nil
}

// Upload streams body into dir under the sanitized file name. The bytes
// land in a temp file first, move into place by rename, and fall back to
// a byte copy when the rename cannot cross devices. Returns the stored
// name and size.
func (e *Engine) Upload(_ context.Context, dir sandbox.ResolvedPath, rawFileName string, body io.Reader) (string, int64, error) {
	if !dir.IsDir() {
		return "", 0, fmt.Errorf("upload into %s: %w", dir.Rel, ErrNotFound)
	}
	name := e.sanitizer.FileName(rawFileName)
	if !validEntryName(name) {
		return "", 0, fmt.Errorf("file name %q: %w", rawFileName, ErrInvalidInput)
	}

	// Receive the bytes before taking the path lock, the client stream
	// can be slow.
	tmp, err := os.CreateTemp("", "filecove-upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create upload temp: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("receive %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("close upload temp: %w", err)
	}

	dest := filepath.Join(dir.Abs, name)
	unlock := e.locks.Lock(dir.Rel + "/" + name)
	defer unlock()

	if _, err := os.Stat(dest); err == nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("upload %s/%s: %w", dir.Rel, name, ErrAlreadyExists)
	} else if !os.IsNotExist(err) {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("stat %s: %w", dest, err)
	}

	if err := os.Rename(tmpName, dest); err == nil {
		return name, n, nil
	}
	// The temp area can sit on another device, copy the bytes instead.
	if err := copyInto(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", 0, fmt.Errorf("store %s: %v: %w", name, err, ErrUpload)
	}
	os.Remove(tmpName)
	return name, n, nil
}

// Download opens target for reading. The caller closes the returned
// file.
func (e *Engine) Download(_ context.Context, target sandbox.ResolvedPath) (*os.File, os.FileInfo, error) {
	if !target.IsFile() {
		return nil, nil, fmt.Errorf("download %s: %w", target.Rel, ErrNotFound)
	}
	f, err := os.Open(target.Abs)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", target.Rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", target.Rel, err)
	}
	return f, info, nil
}

// StorageUsage returns the used percentage of the filesystem holding p.
func (e *Engine) StorageUsage(_ context.Context, p sandbox.ResolvedPath) (int, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.Abs, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.Rel, err)
	}
	used := st.Blocks - st.Bfree
	base := used + st.Bavail
	if base == 0 {
		return 0, nil
	}
	return int((used*100 + base - 1) / base), nil
}

// lessFold orders names by their lowercased form, raw names breaking
// ties.
func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// copyInto writes the contents of src to dest atomically through a temp
// file in dest's directory.
func copyInto(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".filecove-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", dest, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("copy to %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", dest, err)
	}
	return nil
}

// validEntryName rejects names that would change the target directory.
func validEntryName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
