// Package kv implements the key-value capability.
//
// A kv resource serves any number of named stores. Each store is opened on
// first use and kept until the resource is closed. The backend is chosen by
// the capability's implementor: filesystem, azblob or awsdynamodb.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

// DefaultStore is used when a call does not name a store.
const DefaultStore = "default"

var (
	ErrNotFound           = errors.New("key not found")
	ErrUnknownImplementor = errors.New("unknown kv implementor")
	ErrClosed             = errors.New("kv resource closed")
)

// Backend is one named store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Opener connects a named store.
type Opener func(ctx context.Context, state resource.BasicState, name string) (Backend, error)

var openers = map[string]Opener{
	"filesystem":  openFilesystem,
	"azblob":      openAzblob,
	"awsdynamodb": openDynamoDB,
}

type Resource struct {
	implementor string
	state       resource.BasicState
	open        Opener
	log         *zap.Logger

	mu     sync.Mutex
	stores map[string]Backend
	closed bool
}

// New returns a kv resource for implementor. No backend is contacted until a
// store is opened.
func New(implementor string, state resource.BasicState) (*Resource, error) {
	open, ok := openers[implementor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImplementor, implementor)
	}
	return NewWithOpener(implementor, state, open), nil
}

// NewWithOpener returns a kv resource backed by open.
func NewWithOpener(implementor string, state resource.BasicState, open Opener) *Resource {
	return &Resource{
		implementor: implementor,
		state:       state,
		open:        open,
		log:         state.Log(resource.KindKV),
		stores:      make(map[string]Backend),
	}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindKV
}

func (r *Resource) Implementor() string {
	return r.implementor
}

// Open returns the named store, connecting it on first use.
func (r *Resource) Open(ctx context.Context, name string) (Backend, error) {
	if name == "" {
		name = DefaultStore
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if b, ok := r.stores[name]; ok {
		return b, nil
	}

	b, err := r.open(ctx, r.state, name)
	if err != nil {
		return nil, fmt.Errorf("open kv store %s: %w", name, err)
	}
	r.stores[name] = b
	r.log.Debug("opened store", zap.String("implementor", r.implementor), zap.String("name", name))
	return b, nil
}

func (r *Resource) Get(ctx context.Context, name, key string) ([]byte, error) {
	b, err := r.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, key)
}

func (r *Resource) Set(ctx context.Context, name, key string, value []byte) error {
	b, err := r.Open(ctx, name)
	if err != nil {
		return err
	}
	return b.Set(ctx, key, value)
}

func (r *Resource) Delete(ctx context.Context, name, key string) error {
	b, err := r.Open(ctx, name)
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

func (r *Resource) Keys(ctx context.Context, name string) ([]string, error) {
	b, err := r.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Link registers open, get, set, delete and keys.
func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("open", r.hostOpen)
	reg.Register("get", r.hostGet)
	reg.Register("set", r.hostSet)
	reg.Register("delete", r.hostDelete)
	reg.Register("keys", r.hostKeys)
}

func (r *Resource) hostOpen(ctx context.Context, args map[string]any) (any, error) {
	name := hostfunc.StringOr(args, "name", DefaultStore)
	if _, err := r.Open(ctx, name); err != nil {
		return nil, err
	}
	return name, nil
}

func (r *Resource) hostGet(ctx context.Context, args map[string]any) (any, error) {
	key, err := hostfunc.String(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := r.Get(ctx, hostfunc.StringOr(args, "name", DefaultStore), key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return string(value), nil
}

func (r *Resource) hostSet(ctx context.Context, args map[string]any) (any, error) {
	key, err := hostfunc.String(args, "key")
	if err != nil {
		return nil, err
	}
	value, err := hostfunc.Bytes(args, "value")
	if err != nil {
		return nil, err
	}
	if err := r.Set(ctx, hostfunc.StringOr(args, "name", DefaultStore), key, value); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (r *Resource) hostDelete(ctx context.Context, args map[string]any) (any, error) {
	key, err := hostfunc.String(args, "key")
	if err != nil {
		return nil, err
	}
	if err := r.Delete(ctx, hostfunc.StringOr(args, "name", DefaultStore), key); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (r *Resource) hostKeys(ctx context.Context, args map[string]any) (any, error) {
	keys, err := r.Keys(ctx, hostfunc.StringOr(args, "name", DefaultStore))
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes every opened store.
func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for name, b := range r.stores {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kv store %s: %w", name, err))
		}
	}
	r.stores = nil
	return errors.Join(errs...)
}
