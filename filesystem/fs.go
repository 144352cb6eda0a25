// Package filesystem is the storage side of the FTP server: a virtual tree rooted at "/" that the
// protocol engine addresses by path and byte offset.
package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/sftp"
	"github.com/spf13/afero"
)

var (
	// ErrOutsideRoot is returned when a path resolves outside the virtual root.
	ErrOutsideRoot = fmt.Errorf("path is outside the root directory: %w", fs.ErrPermission)
	// ErrNoParent is returned when asking for the parent of the virtual root.
	ErrNoParent = fmt.Errorf("no permission to access the parent of the root directory: %w", fs.ErrPermission)
	// ErrNotDir is returned by CheckDir when the path exists but is not a directory.
	ErrNotDir = errors.New("not a directory")
	// ErrStatFSUnsupported is returned by StatFS when the backend is not an OS directory.
	ErrStatFSUnsupported = errors.New("file system statistics are not available for this backend")
)

// FS is the interface the FTP engine uses to reach storage.
// Every path it takes is a virtual path produced by Resolve: slash separated, absolute and clean.
type FS interface {
	// RootDir returns the virtual root, normally "/"
	RootDir() string
	// Resolve resolves name against the working directory cwd and rejects anything outside the root
	Resolve(cwd, name string) (string, error)
	// Parent returns the parent directory of name, or ErrNoParent for the root
	Parent(name string) (string, error)
	// Stat returns the file info
	Stat(name string) (fs.FileInfo, error)
	// CheckDir returns nil only if name exists and is a directory
	CheckDir(name string) error
	// Dir returns the entries of a directory sorted by name
	Dir(name string) ([]fs.FileInfo, error)
	// Open opens a regular file for reading starting at offset
	Open(name string, offset int64) (io.ReadCloser, error)
	// Create opens a file for writing at offset; offset 0 truncates it
	Create(name string, offset int64) (io.WriteCloser, error)
	// CreateUnique creates a new file and fails with fs.ErrExist if it is already there
	CreateUnique(name string) (io.WriteCloser, error)
	// MakeDir creates the directory and any missing parents
	MakeDir(name string) error
	// Remove removes a file
	Remove(name string) error
	// RemoveDir removes an empty directory
	RemoveDir(name string) error
	// Rename renames the file/folder or moves it to a different directory
	Rename(original, target string) error
	// StatFS reports the capacity of the underlying disk
	StatFS() (*sftp.StatVFS, error)
}

var _ FS = &AferoFS{}

// AferoFS implements FS on top of an afero.Fs.
type AferoFS struct {
	fs          afero.Fs
	localDir    string // OS directory serving as the root, empty for non-OS backends
	virtualRoot string
}

// NewLocalFS serves the OS directory localDir, creating it when missing.
func NewLocalFS(localDir string) (*AferoFS, error) {
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return nil, fmt.Errorf("error resolving root directory: %w", err)
	}
	if err = os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("error creating root directory: %w", err)
	}
	// symlinks are compared against the real location of the root
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("error resolving root directory: %w", err)
	}
	return &AferoFS{
		fs:          afero.NewBasePathFs(afero.NewOsFs(), abs),
		localDir:    abs,
		virtualRoot: "/",
	}, nil
}

// NewAferoFS serves an arbitrary afero.Fs, for example afero.NewMemMapFs().
func NewAferoFS(base afero.Fs) *AferoFS {
	return &AferoFS{fs: base, virtualRoot: "/"}
}

// RootDir returns the Root directory of the file system
func (a *AferoFS) RootDir() string {
	return a.virtualRoot
}

// Resolve resolves name the way an FTP client means it:
// a leading "/" is relative to the root, ".." and "..." are the parent of cwd,
// anything else is relative to cwd.
func (a *AferoFS) Resolve(cwd, name string) (string, error) {
	if name == ".." || name == "..." {
		return a.Parent(cwd)
	}

	var rel string
	if strings.HasPrefix(name, "/") {
		rel = path.Join(".", name[1:])
	} else {
		rel = path.Join(a.relative(cwd), name)
	}
	if rel == "" {
		rel = "."
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrOutsideRoot
	}

	virtual := path.Join(a.virtualRoot, rel)
	if err := a.checkLinks(virtual); err != nil {
		return "", err
	}
	return virtual, nil
}

// relative turns a virtual path into a path relative to the root ("." for the root itself)
func (a *AferoFS) relative(name string) string {
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	if rel == "" {
		return "."
	}
	return rel
}

// checkLinks makes sure the real location of virtual, after following symlinks, stays in the root.
// Paths that do not exist yet are checked through their nearest existing ancestor.
func (a *AferoFS) checkLinks(virtual string) error {
	if a.localDir == "" {
		return nil
	}
	p := filepath.Join(a.localDir, filepath.FromSlash(a.relative(virtual)))
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			if !within(a.localDir, resolved) {
				return ErrOutsideRoot
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) || p == a.localDir {
			return nil
		}
		p = filepath.Dir(p)
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Parent returns the parent of a virtual path
func (a *AferoFS) Parent(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == a.virtualRoot {
		return "", ErrNoParent
	}
	return path.Dir(clean), nil
}

// Stat returns the file info
func (a *AferoFS) Stat(name string) (fs.FileInfo, error) {
	return a.fs.Stat(name)
}

// CheckDir checks if the given directory exists
func (a *AferoFS) CheckDir(name string) error {
	info, err := a.fs.Stat(name)
	if err != nil {
		return fmt.Errorf("error checking directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", name, ErrNotDir)
	}
	return nil
}

// Dir returns a list of files in the given directory
func (a *AferoFS) Dir(name string) ([]fs.FileInfo, error) {
	entries, err := afero.ReadDir(a.fs, name)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}
	return entries, nil
}

// Open opens a regular file for reading starting at offset
func (a *AferoFS) Open(name string, offset int64) (io.ReadCloser, error) {
	f, err := a.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err = f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("error seeking to %d: %w", offset, err)
		}
	}
	return f, nil
}

// Create opens name for writing at offset.
// Offset 0 truncates, an offset equal to the size appends, anything else overwrites from there.
func (a *AferoFS) Create(name string, offset int64) (io.WriteCloser, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if offset <= 0 {
		flags |= os.O_TRUNC
	}
	f, err := a.fs.OpenFile(name, flags, 0o644)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err = f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("error seeking to %d: %w", offset, err)
		}
	}
	return f, nil
}

// CreateUnique creates name only if it does not exist yet
func (a *AferoFS) CreateUnique(name string) (io.WriteCloser, error) {
	return a.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// MakeDir creates a new directory with the given name
func (a *AferoFS) MakeDir(name string) error {
	return a.fs.MkdirAll(name, 0o755)
}

// Remove removes the file
func (a *AferoFS) Remove(name string) error {
	return a.fs.Remove(name)
}

// RemoveDir removes a directory that has no entries
func (a *AferoFS) RemoveDir(name string) error {
	entries, err := afero.ReadDir(a.fs, name)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return &fs.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTEMPTY}
	}
	return a.fs.Remove(name)
}

// Rename renames the file/folder or moves it to a different directory
func (a *AferoFS) Rename(original, target string) error {
	return a.fs.Rename(original, target)
}

// StatFS returns the file system status of the disk holding the root directory
func (a *AferoFS) StatFS() (*sftp.StatVFS, error) {
	if a.localDir == "" {
		return nil, ErrStatFSUnsupported
	}
	return statFS(a.localDir)
}
