package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Backend is the key-value blob interface the partition store is built on.
// Keys are slash-separated paths relative to the backend root. Write must be
// atomic: a reader never observes a partially written blob. Object-storage
// implementations live outside this module; LocalBackend covers local disk.
type Backend interface {
	Exists(key string) bool
	MkdirAll(key string) error
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Delete(key string) error
	List(key string) ([]string, error)
}

// Compile-time interface check.
var _ Backend = (*LocalBackend)(nil)

// LocalBackend implements Backend on the local filesystem.
type LocalBackend struct {
	Root string
}

// NewLocalBackend creates a LocalBackend rooted at the given directory.
func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.Root, filepath.FromSlash(key))
}

// Exists reports whether the key refers to an existing file or directory.
func (b *LocalBackend) Exists(key string) bool {
	_, err := os.Stat(b.path(key))
	return err == nil
}

// MkdirAll creates the directory for the key, including parents.
func (b *LocalBackend) MkdirAll(key string) error {
	return os.MkdirAll(b.path(key), 0o755)
}

// Read returns the blob's contents.
func (b *LocalBackend) Read(key string) ([]byte, error) {
	return os.ReadFile(b.path(key))
}

// Write stores the blob atomically: the data is written to a temp file in the
// target directory and renamed into place, so a concurrent reader sees either
// the previous blob or the complete new one.
func (b *LocalBackend) Write(key string, data []byte) error {
	path := b.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s into place: %w", key, err)
	}
	return nil
}

// Delete removes the key; directories are removed with their contents.
func (b *LocalBackend) Delete(key string) error {
	return os.RemoveAll(b.path(key))
}

// List returns the sorted names of the key's immediate children. A missing
// directory lists as empty.
func (b *LocalBackend) List(key string) ([]string, error) {
	entries, err := os.ReadDir(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
