// Package events implements the event capability.
//
// Guests register listeners with listen, naming an export of their own module
// as the handler. Events reach listeners in two ways: published explicitly,
// or raised when a watched kv key changes. Delivery happens inside exec,
// which calls handlers on the secondary instance adopted by the runner.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/capability/kv"
	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

// PollInterval is how often exec polls kv observables.
const PollInterval = 50 * time.Millisecond

var ErrNotAdopted = errors.New("events: no guest instance adopted")

// Listener routes events to a guest export.
type Listener struct {
	Type    string `json:"type"`
	Handler string `json:"handler"`
	Source  string `json:"source,omitempty"`

	// Observable: the kv store and key to watch.
	Name string `json:"name,omitempty"`
	Key  string `json:"key,omitempty"`

	last []byte
}

func (l *Listener) observes() bool {
	return l.Key != ""
}

func (l *Listener) matches(ev Event) bool {
	return !l.observes() && l.Type == ev.Type && (l.Source == "" || l.Source == ev.Source)
}

type Resource struct {
	table *resource.Table
	log   *zap.Logger

	mu        sync.Mutex
	handler   *Handler
	listeners []*Listener
	pending   []Event
	// deliveries left over when a handler failed, sent first on the next pass
	retry []delivery
}

func New(state resource.BasicState) *Resource {
	return &Resource{table: state.Table, log: state.Log(resource.KindEvents)}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindEvents
}

// Adopt installs the handler events are delivered through.
func (r *Resource) Adopt(h *Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

func (r *Resource) Adopted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler != nil
}

func (r *Resource) kvResource() (*kv.Resource, error) {
	if r.table == nil {
		return nil, fmt.Errorf("internal error: %w: kv", resource.ErrNotFound)
	}
	return resource.Get[*kv.Resource](r.table, resource.KindKV.Scheme())
}

// Listen registers a listener. Listeners with a key watch that key in the
// named kv store; the current value is the baseline.
func (r *Resource) Listen(ctx context.Context, l Listener) error {
	if l.Handler == "" {
		return errors.New("handler required")
	}
	if l.Type == "" {
		return errors.New("type required")
	}
	if l.observes() {
		if l.Name == "" {
			l.Name = kv.DefaultStore
		}
		store, err := r.kvResource()
		if err != nil {
			return err
		}
		v, err := store.Get(ctx, l.Name, l.Key)
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		l.last = v
	}

	r.mu.Lock()
	r.listeners = append(r.listeners, &l)
	r.mu.Unlock()
	r.log.Debug("listener registered", zap.String("type", l.Type), zap.String("handler", l.Handler), zap.String("key", l.Key))
	return nil
}

// Publish queues ev for delivery on the next exec.
func (r *Resource) Publish(ev Event) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
}

// Exec delivers pending events and polls observables until d elapses. With
// d <= 0 it makes a single pass. It returns the number of handler calls.
func (r *Resource) Exec(ctx context.Context, d time.Duration) (int, error) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return 0, ErrNotAdopted
	}

	deadline := time.Now().Add(d)
	delivered := 0
	for {
		n, err := r.pass(ctx, h)
		delivered += n
		if err != nil {
			return delivered, err
		}
		if !time.Now().Before(deadline) {
			return delivered, nil
		}
		wait := min(PollInterval, time.Until(deadline))
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case <-time.After(wait):
		}
	}
}

type delivery struct {
	handler string
	event   Event
}

func (r *Resource) pass(ctx context.Context, h *Handler) (int, error) {
	var out []delivery

	r.mu.Lock()
	out = append(out, r.retry...)
	r.retry = nil
	pending := r.pending
	r.pending = nil
	listeners := append([]*Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, ev := range pending {
		for _, l := range listeners {
			if l.matches(ev) {
				out = append(out, delivery{l.Handler, ev})
			}
		}
	}

	for _, l := range listeners {
		if !l.observes() {
			continue
		}
		ev, changed, err := r.poll(ctx, l)
		if err != nil {
			r.requeue(out)
			return 0, err
		}
		if changed {
			out = append(out, delivery{l.Handler, ev})
		}
	}

	for i, d := range out {
		if err := h.Handle(ctx, d.handler, d.event); err != nil {
			r.requeue(out[i+1:])
			return i, err
		}
	}
	return len(out), nil
}

// requeue keeps deliveries for the next pass. A delivery whose handler
// failed is reported to the caller and not retried.
func (r *Resource) requeue(ds []delivery) {
	if len(ds) == 0 {
		return
	}
	r.mu.Lock()
	r.retry = append(append([]delivery(nil), ds...), r.retry...)
	r.mu.Unlock()
}

func (r *Resource) poll(ctx context.Context, l *Listener) (Event, bool, error) {
	store, err := r.kvResource()
	if err != nil {
		return Event{}, false, err
	}
	v, err := store.Get(ctx, l.Name, l.Key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Event{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if bytes.Equal(v, l.last) && (v == nil) == (l.last == nil) {
		return Event{}, false, nil
	}
	l.last = v

	var data json.RawMessage
	if v != nil {
		data, _ = json.Marshal(string(v))
	}
	return NewEvent(l.Type, "kv/"+l.Name+"/"+l.Key, data), true, nil
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("listen", func(ctx context.Context, args map[string]any) (any, error) {
		var l Listener
		if err := hostfunc.Decode(args, &l); err != nil {
			return nil, err
		}
		if err := r.Listen(ctx, l); err != nil {
			return nil, err
		}
		return "ok", nil
	})
	reg.Register("publish", func(ctx context.Context, args map[string]any) (any, error) {
		typ, err := hostfunc.String(args, "type")
		if err != nil {
			return nil, err
		}
		var data json.RawMessage
		if v, ok := args["data"]; ok && v != nil {
			if data, err = json.Marshal(v); err != nil {
				return nil, fmt.Errorf("invalid data: %w", err)
			}
		}
		ev := NewEvent(typ, hostfunc.StringOr(args, "source", "guest"), data)
		r.Publish(ev)
		return ev.ID, nil
	})
	reg.Register("exec", func(ctx context.Context, args map[string]any) (any, error) {
		d := time.Duration(hostfunc.IntOr(args, "duration_ms", 0)) * time.Millisecond
		return r.Exec(ctx, d)
	})
}

func (r *Resource) Close(ctx context.Context) error {
	r.mu.Lock()
	r.handler = nil
	r.listeners = nil
	r.pending = nil
	r.retry = nil
	r.mu.Unlock()
	return nil
}
