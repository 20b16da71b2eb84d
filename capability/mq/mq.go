// Package mq implements the message queue capability.
package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

const (
	DefaultQueue = "default"

	// DefaultReceiveTimeout bounds a receive on backends that block.
	DefaultReceiveTimeout = time.Second
)

var (
	ErrUnknownImplementor = errors.New("unknown mq implementor")
	ErrClosed             = errors.New("mq resource closed")
)

// Queue is one named queue.
type Queue interface {
	Send(ctx context.Context, msg []byte) error
	// Receive returns the next message, or nil when the queue is empty.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close(ctx context.Context) error
}

// Opener connects a named queue.
type Opener func(ctx context.Context, state resource.BasicState, name string) (Queue, error)

var openers = map[string]Opener{
	"filesystem": openFilesystem,
	"azsbus":     openServiceBus,
}

type Resource struct {
	implementor string
	state       resource.BasicState
	open        Opener
	log         *zap.Logger

	mu     sync.Mutex
	queues map[string]Queue
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
		log:         state.Log(resource.KindMQ),
		queues:      make(map[string]Queue),
	}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindMQ
}

// Open returns the named queue, connecting it on first use.
func (r *Resource) Open(ctx context.Context, name string) (Queue, error) {
	if name == "" {
		name = DefaultQueue
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, err := r.open(ctx, r.state, name)
	if err != nil {
		return nil, fmt.Errorf("open queue %s: %w", name, err)
	}
	r.queues[name] = q
	r.log.Debug("opened queue", zap.String("implementor", r.implementor), zap.String("name", name))
	return q, nil
}

func (r *Resource) Send(ctx context.Context, name string, msg []byte) error {
	q, err := r.Open(ctx, name)
	if err != nil {
		return err
	}
	return q.Send(ctx, msg)
}

func (r *Resource) Receive(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	q, err := r.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return q.Receive(ctx, timeout)
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("send", r.hostSend)
	reg.Register("receive", r.hostReceive)
}

func (r *Resource) hostSend(ctx context.Context, args map[string]any) (any, error) {
	msg, err := hostfunc.Bytes(args, "message")
	if err != nil {
		return nil, err
	}
	if err := r.Send(ctx, hostfunc.StringOr(args, "name", DefaultQueue), msg); err != nil {
		return nil, err
	}
	return "ok", nil
}

func (r *Resource) hostReceive(ctx context.Context, args map[string]any) (any, error) {
	timeout := time.Duration(hostfunc.IntOr(args, "timeout_ms", int(DefaultReceiveTimeout/time.Millisecond))) * time.Millisecond
	msg, err := r.Receive(ctx, hostfunc.StringOr(args, "name", DefaultQueue), timeout)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, nil
	}
	return string(msg), nil
}

func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for name, q := range r.queues {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
	}
	r.queues = nil
	return errors.Join(errs...)
}
