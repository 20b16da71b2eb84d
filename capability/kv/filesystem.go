package kv

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/caffeineduck/capsule/capability/internal/store"
	"github.com/caffeineduck/capsule/resource"
)

// StateDir is where filesystem backends keep their data, relative to the
// configuration file.
const StateDir = ".capsule"

type filesystem struct {
	dir *store.Dir
}

func openFilesystem(ctx context.Context, state resource.BasicState, name string) (Backend, error) {
	dir, err := store.OpenIn(filepath.Join(state.Dir(), StateDir, "kv"), name)
	if err != nil {
		return nil, err
	}
	return &filesystem{dir: dir}, nil
}

func (f *filesystem) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := f.dir.Read(key)
	if errors.Is(err, store.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *filesystem) Set(ctx context.Context, key string, value []byte) error {
	return f.dir.Write(key, value)
}

func (f *filesystem) Delete(ctx context.Context, key string) error {
	return f.dir.Remove(key)
}

func (f *filesystem) Keys(ctx context.Context) ([]string, error) {
	return f.dir.List()
}

func (f *filesystem) Close() error {
	return nil
}
