package lockd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLocker struct {
	mu     sync.Mutex
	held   map[string]string
	n      int
	closed bool
}

func (m *memLocker) Lock(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, held := range m.held {
		if held == name {
			return "", errors.New("already locked")
		}
	}
	m.n++
	key := fmt.Sprintf("%s/%d", name, m.n)
	m.held[key] = name
	return key, nil
}

func (m *memLocker) Unlock(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; !ok {
		return errors.New("lock not held")
	}
	delete(m.held, key)
	return nil
}

func (m *memLocker) Close() error {
	m.closed = true
	return nil
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()
	locker := &memLocker{held: map[string]string{}}
	opens := 0
	r := NewWithOpener("mem", resource.BasicState{}, func(ctx context.Context, state resource.BasicState) (Locker, error) {
		opens++
		return locker, nil
	})
	assert.Equal(t, 0, opens)

	reg := hostfunc.NewRegistry()
	r.Link(reg)

	key, err := reg.Call(ctx, "lock", map[string]any{"name": "jobs"})
	require.NoError(t, err)
	assert.Equal(t, "jobs/1", key)

	_, err = reg.Call(ctx, "lock", map[string]any{"name": "jobs"})
	assert.ErrorContains(t, err, "lock jobs: already locked")

	_, err = reg.Call(ctx, "unlock", map[string]any{"key": key})
	require.NoError(t, err)

	_, err = reg.Call(ctx, "unlock", map[string]any{"key": key})
	assert.Error(t, err)

	_, err = reg.Call(ctx, "lock", map[string]any{})
	assert.EqualError(t, err, "name required")
	assert.Equal(t, 1, opens)

	require.NoError(t, r.Close(ctx))
	assert.True(t, locker.closed)
	_, err = r.Lock(ctx, "jobs")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEtcdNeedsEndpoint(t *testing.T) {
	r, err := New("etcd", resource.BasicState{})
	require.NoError(t, err)
	_, err = r.Lock(context.Background(), "jobs")
	assert.ErrorIs(t, err, resource.ErrNoSecrets)
	assert.ErrorContains(t, err, "ETCD_ENDPOINT")
}
