package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Table maps scheme keys to the resources of a run. It is shared by every
// environment built for that run.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Resource
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Resource)}
}

// Insert adds r under key. It fails if key is already present.
func (t *Table) Insert(key string, r Resource) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	t.entries[key] = r
	return nil
}

// Replace swaps the resource stored under key and returns the previous one.
// The caller owns the returned resource.
func (t *Table) Replace(key string, r Resource) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.entries[key]
	if !ok {
		return nil, fmt.Errorf("internal error: %w: %s", ErrNotFound, key)
	}
	t.entries[key] = r
	return old, nil
}

func (t *Table) Lookup(key string) (Resource, bool) {
	t.mu.RLock()
	r, ok := t.entries[key]
	t.mu.RUnlock()
	return r, ok
}

// Keys returns the stored keys in sorted order.
func (t *Table) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Close closes and removes every resource.
func (t *Table) Close(ctx context.Context) error {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]Resource)
	t.mu.Unlock()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := entries[k].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Get returns the resource stored under key as a T.
func Get[T Resource](t *Table, key string) (T, error) {
	var zero T
	r, ok := t.Lookup(key)
	if !ok {
		return zero, fmt.Errorf("internal error: %w: %s", ErrNotFound, key)
	}
	v, ok := r.(T)
	if !ok {
		return zero, fmt.Errorf("internal error: resource table contains key %s but it is not %T: %w", key, zero, ErrTypeMismatch)
	}
	return v, nil
}
