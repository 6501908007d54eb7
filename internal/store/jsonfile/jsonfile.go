// Package jsonfile implements the record store on local JSON files: one
// pretty-printed array of users and one AdminSettings object.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flexquest/flexquest/internal/store"
	"github.com/spf13/afero"
)

// Name identifies this backend in logs and errors.
const Name = "json"

// Options configures the file locations.
type Options struct {
	// Dir is the directory holding both files.
	Dir string
	// UsersFile is the users file name inside Dir.
	UsersFile string
	// AdminFile is the admin settings file name inside Dir.
	AdminFile string
}

// Backend is the JSON file backend. It is safe for concurrent use within one process.
type Backend struct {
	fs    afero.Fs
	dir   string
	users *userCollection
	admin *adminCollection
}

var _ store.Backend = (*Backend)(nil)

// New creates a JSON file backend on fs. Files are created on first write.
func New(fs afero.Fs, opts Options) *Backend {
	if opts.UsersFile == "" {
		opts.UsersFile = "users.json"
	}
	if opts.AdminFile == "" {
		opts.AdminFile = "admin.json"
	}
	return &Backend{
		fs:    fs,
		dir:   opts.Dir,
		users: &userCollection{f: newFile(fs, filepath.Join(opts.Dir, opts.UsersFile))},
		admin: &adminCollection{f: newFile(fs, filepath.Join(opts.Dir, opts.AdminFile))},
	}
}

// NewOS creates a JSON file backend on the host filesystem.
func NewOS(opts Options) *Backend {
	return New(afero.NewOsFs(), opts)
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Users() store.BulkCollection[store.User] { return b.users }

func (b *Backend) Admin() store.BulkCollection[store.AdminSettings] { return b.admin }

// Dir returns the data directory.
func (b *Backend) Dir() string { return b.dir }

// Ping checks that the data directory is usable. A directory that does not
// exist yet is fine, it is created on the first write.
func (b *Backend) Ping(_ context.Context) error {
	info, err := b.fs.Stat(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return store.Wrap(Name, "ping", "", fmt.Errorf("stat %s: %v: %w", b.dir, err, store.ErrUnavailable))
	}
	if !info.IsDir() {
		return store.Wrap(Name, "ping", "", fmt.Errorf("%s is not a directory: %w", b.dir, store.ErrUnavailable))
	}
	return nil
}

// Close is a no-op, the backend holds no open handles between calls.
func (b *Backend) Close(_ context.Context) error { return nil }

// FileStat describes one backing file.
type FileStat struct {
	Kind   store.Kind `json:"kind"`
	Path   string     `json:"path"`
	Exists bool       `json:"exists"`
	Size   int64      `json:"size"`
}

// Files reports the backing files and their sizes.
func (b *Backend) Files() ([]FileStat, error) {
	files := []struct {
		kind store.Kind
		f    *file
	}{
		{store.KindUsers, b.users.f},
		{store.KindAdmin, b.admin.f},
	}

	stats := make([]FileStat, 0, len(files))
	for _, e := range files {
		size, err := e.f.size()
		if err != nil {
			return nil, store.Wrap(Name, "stat", e.kind, err)
		}
		stats = append(stats, FileStat{Kind: e.kind, Path: e.f.path, Exists: size >= 0, Size: max(size, 0)})
	}
	return stats, nil
}
