// Package storage owns the shared download directory. Every file access goes
// through an os.Root bound to that directory, and only names produced by
// NewName are accepted from callers.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"videograb/internal/observability"
	"videograb/internal/util"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}_[0-9a-f]{16}\.[a-z0-9]{1,5}$`)
	basePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}_[0-9a-f]{16}$`)
)

// File describes a stored download.
type File struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Dir is a handle on the download directory.
type Dir struct {
	path   string
	root   *os.Root
	logger *slog.Logger
	now    func() time.Time
}

// Open creates path if needed and binds a Dir to it.
func Open(path string, logger *slog.Logger) (*Dir, error) {
	if err := util.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("open storage dir: %w", err)
	}
	return &Dir{
		path:   path,
		root:   root,
		logger: observability.OrDiscard(logger),
		now:    time.Now,
	}, nil
}

// Path is the directory on disk. External tools that write their own output
// (yt-dlp) are pointed here.
func (d *Dir) Path() string { return d.path }

func (d *Dir) Close() error { return d.root.Close() }

// NewBase returns "<sanitized title>_<16 hex>" for use as a file stem.
func NewBase(title string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return util.SanitizeFilename(title) + "_" + token
}

// NewName returns a fresh stored file name for title and ext.
func NewName(title, ext string) string {
	return NewBase(title) + "." + util.SanitizeExt(ext, "mp4")
}

// ValidName reports whether name has the shape NewName produces.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// ValidBase reports whether base has the shape NewBase produces.
func ValidBase(base string) bool {
	return basePattern.MatchString(base)
}

// Create opens a new file for writing. It fails if the name already exists.
func (d *Dir) Create(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return d.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// Open opens a stored regular file for reading.
func (d *Dir) Open(name string) (*os.File, File, error) {
	if !ValidName(name) {
		return nil, File{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := d.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, File{}, ErrNotFound
		}
		return nil, File{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, File{}, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, File{}, ErrNotFound
	}
	return f, d.fileFrom(name, info), nil
}

// Stat describes a stored file.
func (d *Dir) Stat(name string) (File, error) {
	if !ValidName(name) {
		return File{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	info, err := d.root.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, ErrNotFound
		}
		return File{}, err
	}
	if !info.Mode().IsRegular() {
		return File{}, ErrNotFound
	}
	return d.fileFrom(name, info), nil
}

// Remove deletes a stored file. Missing files are not an error.
func (d *Dir) Remove(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := d.root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// List returns all regular files in the directory, including
// ones not produced by NewName (partial tool output, strays).
func (d *Dir) List() ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(d.root.FS(), ".")
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e)
		}
	}
	return out, nil
}

// Discard removes every file whose name starts with base followed by a dot,
// including partial tool output such as "<base>.mp4.part". It returns how
// many files were removed.
func (d *Dir) Discard(base string) (int, error) {
	if !ValidBase(base) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, base)
	}
	entries, err := d.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		if err := d.root.Remove(e.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			d.logger.Warn("discard: remove failed", "name", e.Name(), "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (d *Dir) fileFrom(name string, info fs.FileInfo) File {
	return File{
		Name:    name,
		Path:    filepath.Join(d.path, name),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
