// Package http implements the http server capability.
//
// A guest calls serve from its entry point with the routes it handles. Each
// inbound request is forwarded to the route's handler export on the guest
// instance adopted by the runner.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	DefaultAddress = "0.0.0.0:3000"
	MaxBodySize    = 10 * 1024 * 1024
)

var (
	ErrAlreadyServing = errors.New("http server already running")
	ErrNotServing     = errors.New("http server not running")
)

// Route binds a method and path pattern to a guest export. Paths use
// gorilla/mux syntax, e.g. /users/{id}.
type Route struct {
	Method  string `json:"method"`
	Path    string `json:"path"`
	Handler string `json:"handler"`
}

// Request is the JSON document a handler export receives.
type Request struct {
	Method  string            `json:"method"`
	URI     string            `json:"uri"`
	Path    string            `json:"path"`
	Params  map[string]string `json:"params"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// Response is the JSON document a handler export returns. A zero Status
// means 200.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type Resource struct {
	log *zap.Logger

	mu       sync.Mutex
	guest    resource.Guest
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

func New(state resource.BasicState) *Resource {
	return &Resource{log: state.Log(resource.KindHTTP)}
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindHTTP
}

// Adopt sets the guest instance requests are dispatched to.
func (r *Resource) Adopt(guest resource.Guest) {
	r.mu.Lock()
	r.guest = guest
	r.mu.Unlock()
}

// Addr returns the bound address, or "" when not serving.
func (r *Resource) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Serve starts the server on address and returns the bound address.
func (r *Resource) Serve(address string, routes []Route) (string, error) {
	if address == "" {
		address = DefaultAddress
	}

	router := mux.NewRouter()
	for _, rt := range routes {
		if rt.Path == "" || rt.Handler == "" {
			return "", fmt.Errorf("route %q: path and handler required", rt.Path)
		}
		route := router.HandleFunc(rt.Path, r.dispatch(rt.Handler))
		if rt.Method != "" {
			route.Methods(rt.Method)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return "", ErrAlreadyServing
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", address, err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	r.server, r.listener, r.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("http server stopped", zap.Error(err))
		}
	}()

	r.log.Info("serving", zap.String("address", ln.Addr().String()), zap.Int("routes", len(routes)))
	return ln.Addr().String(), nil
}

func (r *Resource) dispatch(handler string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		guest := r.guest
		r.mu.Unlock()
		if guest == nil {
			http.Error(w, "guest not ready", http.StatusServiceUnavailable)
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, MaxBodySize))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		in := Request{
			Method:  req.Method,
			URI:     req.URL.RequestURI(),
			Path:    req.URL.Path,
			Params:  mux.Vars(req),
			Headers: make(map[string]string, len(req.Header)),
			Body:    string(body),
		}
		for k := range req.Header {
			in.Headers[k] = req.Header.Get(k)
		}

		var out Response
		if err := guest.Call(req.Context(), handler, in, &out); err != nil {
			r.log.Error("handler failed", zap.String("handler", handler), zap.Error(err))
			http.Error(w, "handler failed", http.StatusInternalServerError)
			return
		}

		for k, v := range out.Headers {
			w.Header().Set(k, v)
		}
		status := out.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		io.WriteString(w, out.Body)
	}
}

// Shutdown stops the server gracefully, waiting for in-flight requests
// until ctx is done. It is a no-op when the server is not running.
func (r *Resource) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv, done := r.server, r.done
	r.server, r.listener, r.done = nil, nil, nil
	r.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	r.log.Info("stopped")
	return nil
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("serve", func(ctx context.Context, args map[string]any) (any, error) {
		var req struct {
			Address string  `json:"address"`
			Routes  []Route `json:"routes"`
		}
		if err := hostfunc.Decode(args, &req); err != nil {
			return nil, err
		}
		return r.Serve(req.Address, req.Routes)
	})
	reg.Register("stop", func(ctx context.Context, args map[string]any) (any, error) {
		if r.Addr() == "" {
			return nil, ErrNotServing
		}
		if err := r.Shutdown(ctx); err != nil {
			return nil, err
		}
		return "ok", nil
	})
}

func (r *Resource) Close(ctx context.Context) error {
	return r.Shutdown(ctx)
}
