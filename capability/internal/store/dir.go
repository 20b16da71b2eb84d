// Package store gives filesystem backends a directory they cannot escape.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEscape   = errors.New("permission denied: path escape attempt")
	ErrNotExist = errors.New("entry not found")
)

// Dir is a directory on the host holding one store's entries. Entry names
// are relative paths and may not leave the directory.
type Dir struct {
	root string
	mu   sync.RWMutex
}

// Open returns the directory at root, creating it if needed.
func Open(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &Dir{root: abs}, nil
}

// OpenIn opens the store called name under base. The name must be a single
// path element.
func OpenIn(base, name string) (*Dir, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	return Open(filepath.Join(base, name))
}

// ValidName rejects store names that are empty, dot entries or contain a
// path separator.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: store name %q", ErrEscape, name)
	}
	return nil
}

func (d *Dir) Root() string {
	return d.root
}

// resolve maps an entry name to a host path under root.
func (d *Dir) resolve(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty entry name")
	}
	clean := filepath.Clean("/" + strings.TrimPrefix(filepath.ToSlash(name), "/"))
	hostPath := filepath.Join(d.root, clean)

	rel, err := filepath.Rel(d.root, hostPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrEscape
	}
	return hostPath, nil
}

func (d *Dir) Read(name string) ([]byte, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Write stores data under name, creating parent directories.
func (d *Dir) Write(name string, data []byte) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Remove deletes name. Removing a missing entry is not an error.
func (d *Dir) Remove(name string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// List returns every entry name below the directory, sorted.
func (d *Dir) List() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	err := filepath.WalkDir(d.root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	sort.Strings(names)
	return names, nil
}

// Take reads and removes the first entry in name order. It returns
// ErrNotExist when the directory is empty.
func (d *Dir) Take() (string, []byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return "", nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(d.root, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		if err := os.Remove(path); err != nil {
			return "", nil, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		return e.Name(), data, nil
	}
	return "", nil, ErrNotExist
}
