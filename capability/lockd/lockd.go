// Package lockd implements the distributed lock capability.
package lockd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

var (
	ErrUnknownImplementor = errors.New("unknown lockd implementor")
	ErrClosed             = errors.New("lockd resource closed")
)

// Locker acquires and releases named locks.
type Locker interface {
	// Lock blocks until name is held and returns the key identifying the
	// acquisition.
	Lock(ctx context.Context, name string) (string, error)
	Unlock(ctx context.Context, key string) error
	Close() error
}

type Opener func(ctx context.Context, state resource.BasicState) (Locker, error)

var openers = map[string]Opener{
	"etcd": openEtcd,
}

type Resource struct {
	implementor string
	state       resource.BasicState
	open        Opener
	log         *zap.Logger

	mu     sync.Mutex
	locker Locker
	closed bool
}

func New(implementor string, state resource.BasicState) (*Resource, error) {
	open, ok := openers[implementor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImplementor, implementor)
	}
	return NewWithOpener(implementor, state, open), nil
}

func NewWithOpener(implementor string, state resource.BasicState, open Opener) *Resource {
	return &Resource{
		implementor: implementor,
		state:       state,
		open:        open,
		log:         state.Log(resource.KindLockd),
	}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindLockd
}

func (r *Resource) client(ctx context.Context) (Locker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.locker != nil {
		return r.locker, nil
	}
	l, err := r.open(ctx, r.state)
	if err != nil {
		return nil, fmt.Errorf("connect lockd: %w", err)
	}
	r.locker = l
	return l, nil
}

func (r *Resource) Lock(ctx context.Context, name string) (string, error) {
	l, err := r.client(ctx)
	if err != nil {
		return "", err
	}
	key, err := l.Lock(ctx, name)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", name, err)
	}
	r.log.Debug("acquired lock", zap.String("name", name), zap.String("key", key))
	return key, nil
}

func (r *Resource) Unlock(ctx context.Context, key string) error {
	l, err := r.client(ctx)
	if err != nil {
		return err
	}
	if err := l.Unlock(ctx, key); err != nil {
		return fmt.Errorf("unlock %s: %w", key, err)
	}
	return nil
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("lock", func(ctx context.Context, args map[string]any) (any, error) {
		name, err := hostfunc.String(args, "name")
		if err != nil {
			return nil, err
		}
		return r.Lock(ctx, name)
	})
	reg.Register("unlock", func(ctx context.Context, args map[string]any) (any, error) {
		key, err := hostfunc.String(args, "key")
		if err != nil {
			return nil, err
		}
		if err := r.Unlock(ctx, key); err != nil {
			return nil, err
		}
		return "ok", nil
	})
}

func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.locker == nil {
		return nil
	}
	return r.locker.Close()
}
