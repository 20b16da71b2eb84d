// Package configs implements the configuration capability and the secret
// stores other capabilities read credentials from.
package configs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

var ErrUnknownImplementor = errors.New("unknown configs implementor")

// Store reads and writes named configuration values.
type Store interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, value string) error
}

// Open returns the store for implementor ("envvars" or "usersecrets").
// The "configs." prefix is accepted, so secret_store values can be passed
// unchanged.
func Open(implementor, configPath string) (Store, error) {
	switch strings.TrimPrefix(implementor, "configs.") {
	case "envvars":
		return EnvVars{}, nil
	case "usersecrets":
		return NewUserSecrets(configPath), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownImplementor, implementor)
}

// Secrets returns the secret source named by a configuration's
// secret_store, or nil when none is configured.
func Secrets(secretStore, configPath string) (resource.SecretSource, error) {
	if secretStore == "" {
		return nil, nil
	}
	s, err := Open(secretStore, configPath)
	if err != nil {
		return nil, fmt.Errorf("secret store: %w", err)
	}
	return s, nil
}

type Resource struct {
	implementor string
	store       Store
	log         *zap.Logger
}

func New(implementor string, state resource.BasicState) (*Resource, error) {
	store, err := Open(implementor, state.ConfigPath)
	if err != nil {
		return nil, err
	}
	return &Resource{implementor: implementor, store: store, log: state.Log(resource.KindConfigs)}, nil
}

func (r *Resource) Kind() resource.Kind {
	return resource.KindConfigs
}

func (r *Resource) Store() Store {
	return r.store
}

func (r *Resource) Link(reg *hostfunc.Registry) {
	reg.Register("get", func(ctx context.Context, args map[string]any) (any, error) {
		name, err := hostfunc.String(args, "name")
		if err != nil {
			return nil, err
		}
		v, ok, err := r.store.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return v, nil
	})
	reg.Register("set", func(ctx context.Context, args map[string]any) (any, error) {
		name, err := hostfunc.String(args, "name")
		if err != nil {
			return nil, err
		}
		value, err := hostfunc.Bytes(args, "value")
		if err != nil {
			return nil, err
		}
		if err := r.store.Set(ctx, name, string(value)); err != nil {
			return nil, err
		}
		r.log.Debug("config set", zap.String("implementor", r.implementor), zap.String("name", name))
		return "ok", nil
	})
}

func (r *Resource) Close(ctx context.Context) error {
	return nil
}
