package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sassoftware/rpath-tools-sub000/internal/model"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tempPrefix = ".tmp-"
)

// Compile-time interface satisfaction check.
var _ Backend = (*FileBackend)(nil)

// FileBackend stores every attribute as one file below a root directory:
// <root>/<namespace>/<identifier>/<attr...>. All access goes through an
// os.Root so no key can reach outside the tree.
type FileBackend struct {
	dir  string
	root *os.Root
}

// NewFileBackend creates dir if needed and opens it as the storage root.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open storage root: %w", err)
	}
	return &FileBackend{dir: dir, root: root}, nil
}

// Dir returns the storage root directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Close releases the root directory handle.
func (b *FileBackend) Close() error {
	return b.root.Close()
}

func (b *FileBackend) path(key Key) string {
	return filepath.Join(key.Parts()...)
}

// Exists reports whether a file or directory exists for key.
func (b *FileBackend) Exists(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, wrap("exists", key, err)
	}
	_, err := b.root.Stat(b.path(key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, wrap("exists", key, err)
	}
}

// Get reads the file stored for key.
func (b *FileBackend) Get(_ context.Context, key Key) ([]byte, bool, error) {
	if err := key.requireAttr(); err != nil {
		return nil, false, wrap("get", key, err)
	}
	data, err := b.root.ReadFile(b.path(key))
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	default:
		return nil, false, wrap("get", key, err)
	}
}

// Set writes value to a hidden temporary file next to the target and renames
// it into place, so readers only ever see a complete value.
func (b *FileBackend) Set(_ context.Context, key Key, value []byte) error {
	if err := key.requireAttr(); err != nil {
		return wrap("set", key, err)
	}
	target := b.path(key)
	dir := filepath.Dir(target)
	if err := b.root.MkdirAll(dir, dirPerm); err != nil {
		return wrap("set", key, err)
	}

	tmp := filepath.Join(dir, tempPrefix+model.NewID())
	if err := b.writeTemp(tmp, value); err != nil {
		_ = b.root.Remove(tmp)
		return wrap("set", key, err)
	}
	if err := b.root.Rename(tmp, target); err != nil {
		_ = b.root.Remove(tmp)
		return wrap("set", key, err)
	}
	return nil
}

// Create writes value to a hidden temporary file and links it to the target
// name. The link fails if the target exists, so concurrent creators in any
// process never overwrite each other.
func (b *FileBackend) Create(_ context.Context, key Key, value []byte) (bool, error) {
	if err := key.requireAttr(); err != nil {
		return false, wrap("create", key, err)
	}
	target := b.path(key)
	dir := filepath.Dir(target)
	if err := b.root.MkdirAll(dir, dirPerm); err != nil {
		return false, wrap("create", key, err)
	}

	tmp := filepath.Join(dir, tempPrefix+model.NewID())
	defer b.root.Remove(tmp)
	if err := b.writeTemp(tmp, value); err != nil {
		return false, wrap("create", key, err)
	}
	err := b.root.Link(tmp, target)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	default:
		return false, wrap("create", key, err)
	}
}

func (b *FileBackend) writeTemp(name string, value []byte) error {
	f, err := b.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Delete removes the file or directory tree for key.
func (b *FileBackend) Delete(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return wrap("delete", key, err)
	}
	err := b.root.RemoveAll(b.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("delete", key, err)
	}
	return nil
}

// NewIdentifier creates the identifier directory with an exclusive mkdir,
// retrying with a fresh identifier if it already exists.
func (b *FileBackend) NewIdentifier(_ context.Context, namespace, prefix string) (string, error) {
	key := NamespaceKey(namespace)
	if err := key.Validate(); err != nil {
		return "", wrap("new identifier", key, err)
	}
	if err := validPrefix(prefix); err != nil {
		return "", wrap("new identifier", key, err)
	}
	if err := b.root.MkdirAll(namespace, dirPerm); err != nil {
		return "", wrap("new identifier", key, err)
	}

	for range maxIdentifierAttempts {
		id := identifier(prefix, model.NewID())
		err := b.root.Mkdir(filepath.Join(namespace, id), dirPerm)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", wrap("new identifier", RecordKey(namespace, id), err)
		}
	}
	return "", wrap("new identifier", key, errors.New("identifier space exhausted"))
}

// Enumerate lists the entries of the directory for key, skipping hidden
// temporary files.
func (b *FileBackend) Enumerate(_ context.Context, key Key) ([]string, error) {
	if err := key.Validate(); err != nil {
		return nil, wrap("enumerate", key, err)
	}
	f, err := b.root.Open(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("enumerate", key, err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, wrap("enumerate", key, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
