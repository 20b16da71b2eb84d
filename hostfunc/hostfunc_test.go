package hostfunc

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})

	fn, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	got, err := fn(context.Background(), map[string]any{"v": "x"})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != "x" {
		t.Errorf("expected x, got %v", got)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"set", "delete", "get", "keys"} {
		r.Register(name, func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
	}

	got := r.List()
	want := []string{"delete", "get", "keys", "set"}
	if len(got) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryCallUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Call(context.Background(), "missing", nil)
	if !errors.Is(err, ErrUnknownFunc) {
		t.Errorf("expected ErrUnknownFunc, got %v", err)
	}
}

func TestRegistryCallNilArgs(t *testing.T) {
	r := NewRegistry()
	r.Register("count", func(ctx context.Context, args map[string]any) (any, error) {
		return len(args), nil
	})

	got, err := r.Call(context.Background(), "count", nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("fn", func(ctx context.Context, args map[string]any) (any, error) { return nil, nil })
		}()
		go func() {
			defer wg.Done()
			r.Get("fn")
			r.List()
		}()
	}
	wg.Wait()

	if _, ok := r.Get("fn"); !ok {
		t.Error("expected fn to be registered")
	}
}

func TestDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", func(ctx context.Context, args map[string]any) (any, error) { return "fine", nil })
	r.Register("fail", func(ctx context.Context, args map[string]any) (any, error) { return nil, errors.New("nope") })

	resp := Dispatch(context.Background(), r, CallRequest{Fn: "ok"})
	if resp.Data != "fine" || resp.Error != "" {
		t.Errorf("unexpected response %+v", resp)
	}

	resp = Dispatch(context.Background(), r, CallRequest{Fn: "fail"})
	if resp.Error != "nope" {
		t.Errorf("expected error nope, got %+v", resp)
	}

	resp = Dispatch(context.Background(), r, CallRequest{Fn: "other"})
	if resp.Error != "unknown function: other" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}
