package capability

import (
	"context"
	"fmt"

	"github.com/caffeineduck/capsule/capability/configs"
	"github.com/caffeineduck/capsule/capability/events"
	"github.com/caffeineduck/capsule/capability/http"
	"github.com/caffeineduck/capsule/capability/kv"
	"github.com/caffeineduck/capsule/capability/lockd"
	"github.com/caffeineduck/capsule/capability/mq"
	"github.com/caffeineduck/capsule/capability/pubsub"
	"github.com/caffeineduck/capsule/resource"
)

// New constructs the resource for c. Backends are not contacted here.
func New(ctx context.Context, c Capability, state resource.BasicState) (resource.Resource, error) {
	var (
		r   resource.Resource
		err error
	)
	switch c.Kind {
	case resource.KindEvents:
		r = events.New(state)
	case resource.KindHTTP:
		r = http.New(state)
	case resource.KindKV:
		r, err = kv.New(c.Implementor, state)
	case resource.KindMQ:
		r, err = mq.New(c.Implementor, state)
	case resource.KindLockd:
		r, err = lockd.New(c.Implementor, state)
	case resource.KindPubsub:
		r, err = pubsub.New(c.Implementor, state)
	case resource.KindConfigs:
		r, err = configs.New(c.Implementor, state)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, c.Name)
	}
	if err != nil {
		return nil, &ConfigError{Name: c.Name, Kind: c.Kind, Err: err}
	}
	return r, nil
}

// Secrets opens the secret store a configuration names.
func Secrets(secretStore, configPath string) (resource.SecretSource, error) {
	return configs.Secrets(secretStore, configPath)
}
