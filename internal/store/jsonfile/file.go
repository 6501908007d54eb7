package jsonfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/flexquest/flexquest/internal/store"
	"github.com/spf13/afero"
)

// file is one JSON document on disk. mu serializes the whole-file
// read-modify-write cycles of a single file.
type file struct {
	fs   afero.Fs
	path string
	mu   sync.RWMutex
}

func newFile(fs afero.Fs, path string) *file {
	return &file{fs: fs, path: path}
}

// read returns the trimmed file content, or nil when the file does not exist.
func (f *file) read() ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v: %w", f.path, err, store.ErrUnavailable)
	}
	return bytes.TrimSpace(data), nil
}

// decode reads the file into v, rejecting unknown fields and trailing data.
// It reports false when the file is missing, empty or holds a JSON null.
func (f *file) decode(v any) (bool, error) {
	data, err := f.read()
	if err != nil {
		return false, err
	}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %v: %w", f.path, err, store.ErrCorrupt)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("decode %s: trailing data: %w", f.path, store.ErrCorrupt)
	}
	return true, nil
}

// write replaces the file with the pretty-printed encoding of v. The content
// goes to a temp file first and is renamed into place.
func (f *file) write(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", f.path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %v: %w", dir, err, store.ErrUnavailable)
	}

	tmp, err := afero.TempFile(f.fs, dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %v: %w", f.path, err, store.ErrUnavailable)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck,gosec
		f.fs.Remove(tmpName) //nolint:errcheck,gosec
		return fmt.Errorf("write %s: %v: %w", tmpName, err, store.ErrUnavailable)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpName) //nolint:errcheck,gosec
		return fmt.Errorf("close %s: %v: %w", tmpName, err, store.ErrUnavailable)
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		f.fs.Remove(tmpName) //nolint:errcheck,gosec
		return fmt.Errorf("rename %s: %v: %w", tmpName, err, store.ErrUnavailable)
	}
	return nil
}

// remove deletes the file. A missing file is not an error.
func (f *file) remove() error {
	if err := f.fs.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %v: %w", f.path, err, store.ErrUnavailable)
	}
	return nil
}

// size returns the file size, or -1 when the file does not exist.
func (f *file) size() (int64, error) {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return -1, nil
		}
		return 0, fmt.Errorf("stat %s: %v: %w", f.path, err, store.ErrUnavailable)
	}
	return info.Size(), nil
}
