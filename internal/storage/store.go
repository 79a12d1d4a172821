package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/uuid"
)

var (
	ErrInvalidName = errors.New("invalid file name")
	ErrNotFound    = errors.New("file not found")
	ErrCommitted   = errors.New("upload already finished")
)

// Store hands out sources for read requests and sinks for write requests.
type Store interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (Upload, error)
}

// Upload is a sink that only becomes visible under its name on Commit.
type Upload interface {
	io.Writer
	Commit() error
	Abort() error
}

// Dir is a Store rooted in one directory. Names are single path elements;
// subdirectories are not reachable.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	return &Dir{root: abs}, nil
}

func (d *Dir) Root() string { return d.root }

// ValidName reports whether name can be stored: non-empty, a single path
// element, not hidden, without NUL.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		// Hidden names are reserved for in-flight uploads.
		return false
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.Base(name) == name
}

func (d *Dir) Open(name string) (io.ReadCloser, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := os.Open(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !st.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidName, name)
	}
	return f, nil
}

// Create starts an upload into a hidden temp file next to its destination.
func (d *Dir) Create(name string) (Upload, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	tmp := filepath.Join(d.root, "."+name+"."+id.String()+".part")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return &upload{f: f, tmp: tmp, dst: filepath.Join(d.root, name)}, nil
}

type upload struct {
	f    *os.File
	tmp  string
	dst  string
	done bool
}

func (u *upload) Write(p []byte) (int, error) {
	if u.done {
		return 0, ErrCommitted
	}
	return u.f.Write(p)
}

// Commit flushes the temp file and renames it over the destination.
func (u *upload) Commit() error {
	if u.done {
		return ErrCommitted
	}
	u.done = true
	if err := u.f.Sync(); err != nil {
		_ = u.f.Close()
		_ = os.Remove(u.tmp)
		return err
	}
	if err := u.f.Close(); err != nil {
		_ = os.Remove(u.tmp)
		return err
	}
	if err := os.Rename(u.tmp, u.dst); err != nil {
		_ = os.Remove(u.tmp)
		return err
	}
	return nil
}

// Abort discards everything written so far. It is a no-op after Commit.
func (u *upload) Abort() error {
	if u.done {
		return nil
	}
	u.done = true
	_ = u.f.Close()
	return os.Remove(u.tmp)
}
