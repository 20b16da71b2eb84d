package resource

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/metrics"
	"go.uber.org/zap"
)

// Resource is the live state behind one capability.
type Resource interface {
	Kind() Kind
	// Link registers the resource's host functions.
	Link(reg *hostfunc.Registry)
	Close(ctx context.Context) error
}

// Guest is a handle on a secondary instantiation of the guest module.
// Implementations serialize calls; the guest is not reentrant.
type Guest interface {
	// Call JSON-encodes in, invokes export and decodes the result into out.
	// out may be nil.
	Call(ctx context.Context, export string, in, out any) error
}

// SecretSource resolves named credentials.
type SecretSource interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// BasicState is the context every resource is constructed with.
type BasicState struct {
	Table       *Table
	SecretStore string
	ConfigPath  string
	Secrets     SecretSource
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// Secret returns the credential name from the secret store.
func (s BasicState) Secret(ctx context.Context, name string) (string, error) {
	if s.Secrets == nil {
		return "", fmt.Errorf("%w: cannot resolve %s", ErrNoSecrets, name)
	}
	v, ok, err := s.Secrets.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("secret %s: %w", name, err)
	}
	if !ok {
		return "", fmt.Errorf("secret %s not found in %s", name, s.SecretStore)
	}
	return v, nil
}

// SecretOr returns the credential name, or def if it is not available.
func (s BasicState) SecretOr(ctx context.Context, name, def string) string {
	if s.Secrets == nil {
		return def
	}
	v, ok, err := s.Secrets.Get(ctx, name)
	if err != nil || !ok {
		return def
	}
	return v
}

// Dir is the directory holding the configuration file. Filesystem backends
// keep their state below it.
func (s BasicState) Dir() string {
	if s.ConfigPath == "" {
		return "."
	}
	return filepath.Dir(s.ConfigPath)
}

// Log returns a logger named after the resource kind.
func (s BasicState) Log(kind Kind) *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger.Named(kind.Scheme())
}
