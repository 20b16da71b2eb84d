package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/capsule/capability/internal/store"
	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFilesystem(t *testing.T) (*Resource, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := New("filesystem", resource.BasicState{ConfigPath: filepath.Join(dir, "capsule.toml")})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r, dir
}

func TestFilesystemRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, dir := newFilesystem(t)

	require.NoError(t, r.Set(ctx, "orders", "a", []byte("1")))
	require.NoError(t, r.Set(ctx, "orders", "b", []byte("2")))

	v, err := r.Get(ctx, "orders", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	keys, err := r.Keys(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	_, err = os.Stat(filepath.Join(dir, StateDir, "kv", "orders", "a"))
	assert.NoError(t, err)

	require.NoError(t, r.Delete(ctx, "orders", "a"))
	_, err = r.Get(ctx, "orders", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHostFunctions(t *testing.T) {
	ctx := context.Background()
	r, _ := newFilesystem(t)
	reg := hostfunc.NewRegistry()
	r.Link(reg)

	assert.Equal(t, []string{"delete", "get", "keys", "open", "set"}, reg.List())

	name, err := reg.Call(ctx, "open", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, DefaultStore, name)

	_, err = reg.Call(ctx, "set", map[string]any{"key": "greeting", "value": "hello"})
	require.NoError(t, err)
	_, err = reg.Call(ctx, "set", map[string]any{"key": "doc", "value": map[string]any{"n": 1.0}})
	require.NoError(t, err)

	got, err := reg.Call(ctx, "get", map[string]any{"key": "greeting"})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = reg.Call(ctx, "get", map[string]any{"key": "doc"})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, got)

	got, err = reg.Call(ctx, "get", map[string]any{"key": "missing"})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = reg.Call(ctx, "keys", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc", "greeting"}, got)

	_, err = reg.Call(ctx, "get", map[string]any{})
	assert.EqualError(t, err, "key required")
}

type memBackend struct {
	data   map[string][]byte
	closed bool
}

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}
func (m *memBackend) Set(ctx context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}
func (m *memBackend) Delete(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}
func (m *memBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}
func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

func TestStoresOpenLazily(t *testing.T) {
	ctx := context.Background()
	opened := map[string]*memBackend{}
	open := func(ctx context.Context, state resource.BasicState, name string) (Backend, error) {
		if name == "broken" {
			return nil, errors.New("unreachable")
		}
		b := &memBackend{data: map[string][]byte{}}
		opened[name] = b
		return b, nil
	}

	r := NewWithOpener("test", resource.BasicState{}, open)
	assert.Empty(t, opened)

	require.NoError(t, r.Set(ctx, "", "k", []byte("v")))
	require.NoError(t, r.Set(ctx, DefaultStore, "k2", []byte("v")))
	assert.Len(t, opened, 1)

	_, err := r.Open(ctx, "broken")
	assert.ErrorContains(t, err, "open kv store broken: unreachable")

	require.NoError(t, r.Close(ctx))
	assert.True(t, opened[DefaultStore].closed)

	_, err = r.Open(ctx, "other")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnknownImplementor(t *testing.T) {
	_, err := New("redis", resource.BasicState{})
	assert.ErrorIs(t, err, ErrUnknownImplementor)
}

func TestCloudBackendsNeedSecrets(t *testing.T) {
	ctx := context.Background()
	for _, impl := range []string{"azblob", "awsdynamodb"} {
		t.Run(impl, func(t *testing.T) {
			r, err := New(impl, resource.BasicState{SecretStore: "configs.envvars"})
			require.NoError(t, err)
			_, err = r.Open(ctx, "store")
			assert.ErrorIs(t, err, resource.ErrNoSecrets)
		})
	}
}

func TestFilesystemRejectsEscapingStoreName(t *testing.T) {
	ctx := context.Background()
	r, dir := newFilesystem(t)

	for _, name := range []string{"../../../outside", "..", "a/b", `..\up`} {
		err := r.Set(ctx, name, "k", []byte("v"))
		assert.ErrorIs(t, err, store.ErrEscape, "name %q", name)
	}

	_, err := os.Stat(filepath.Join(dir, "outside"))
	assert.True(t, os.IsNotExist(err))
}
