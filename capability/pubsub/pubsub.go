// Package pubsub implements the publish/subscribe capability.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultReceiveTimeout = time.Second

var (
	ErrUnknownImplementor  = errors.New("unknown pubsub implementor")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrClosed              = errors.New("pubsub resource closed")
)

// Broker publishes messages and opens subscriptions.
type Broker interface {
	Publish(ctx context.Context, topic string, msg []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription yields the messages of one topic.
type Subscription interface {
	// Receive returns the next message, or nil if none arrives within timeout.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

type Opener func(ctx context.Context, state resource.BasicState) (Broker, error)

var openers = map[string]Opener{
	"confluent_apache_kafka": openKafka,
}

type Resource struct {
	implementor string
	state       resource.BasicState
	open        Opener
	log         *zap.Logger

	mu     sync.Mutex
	broker Broker
	subs   map[string]Subscription
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
		log:         state.Log(resource.KindPubsub),
		subs:        make(map[string]Subscription),
	}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindPubsub
}

func (r *Resource) client(ctx context.Context) (Broker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.broker != nil {
		return r.broker, nil
	}
	b, err := r.open(ctx, r.state)
	if err != nil {
		return nil, fmt.Errorf("connect pubsub: %w", err)
	}
	r.broker = b
	return b, nil
}

func (r *Resource) Publish(ctx context.Context, topic string, msg []byte) error {
	b, err := r.client(ctx)
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription on topic and returns its id.
func (r *Resource) Subscribe(ctx context.Context, topic string) (string, error) {
	b, err := r.client(ctx)
	if err != nil {
		return "", err
	}
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", topic, err)
	}
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		sub.Close()
		return "", ErrClosed
	}
	r.subs[id] = sub
	r.log.Debug("subscribed", zap.String("topic", topic), zap.String("subscription", id))
	return id, nil
}

func (r *Resource) Receive(ctx context.Context, id string, timeout time.Duration) ([]byte, error) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
	}
	return sub.Receive(ctx, timeout)
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("publish", func(ctx context.Context, args map[string]any) (any, error) {
		topic, err := hostfunc.String(args, "topic")
		if err != nil {
			return nil, err
		}
		msg, err := hostfunc.Bytes(args, "message")
		if err != nil {
			return nil, err
		}
		if err := r.Publish(ctx, topic, msg); err != nil {
			return nil, err
		}
		return "ok", nil
	})
	reg.Register("subscribe", func(ctx context.Context, args map[string]any) (any, error) {
		topic, err := hostfunc.String(args, "topic")
		if err != nil {
			return nil, err
		}
		return r.Subscribe(ctx, topic)
	})
	reg.Register("receive", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := hostfunc.String(args, "subscription")
		if err != nil {
			return nil, err
		}
		timeout := time.Duration(hostfunc.IntOr(args, "timeout_ms", int(DefaultReceiveTimeout/time.Millisecond))) * time.Millisecond
		msg, err := r.Receive(ctx, id, timeout)
		if err != nil || msg == nil {
			return nil, err
		}
		return string(msg), nil
	})
}

func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for id, sub := range r.subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", id, err))
		}
	}
	r.subs = nil
	if r.broker != nil {
		errs = append(errs, r.broker.Close())
	}
	return errors.Join(errs...)
}
