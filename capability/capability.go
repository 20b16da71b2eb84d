// Package capability resolves declared capability names and constructs the
// resources behind them.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/resource"
)

// SupportedSpecVersion is the only configuration version understood.
const SupportedSpecVersion = "0.1"

var (
	ErrUnknownCapability      = errors.New("unknown capability")
	ErrMissingSecretStore     = errors.New("capability requires a secret store")
	ErrUnsupportedSpecVersion = errors.New("unsupported spec version")
)

// Capability is a resolved capability declaration.
type Capability struct {
	// Name is the declared name, e.g. "kv.azblob".
	Name string
	Kind resource.Kind
	// Implementor is the backend part of Name, e.g. "azblob". It is empty
	// for capabilities with a single implementation.
	Implementor string
}

// Key is the scheme key the capability is stored and linked under.
func (c Capability) Key() string {
	return c.Kind.Scheme()
}

var implementors = map[resource.Kind][]string{
	resource.KindKV:      {"kv.filesystem", "kv.azblob", "kv.awsdynamodb"},
	resource.KindMQ:      {"mq.filesystem", "mq.azsbus"},
	resource.KindLockd:   {"lockd.etcd"},
	resource.KindPubsub:  {"pubsub.confluent_apache_kafka"},
	resource.KindConfigs: {"configs.usersecrets", "configs.envvars"},
}

// Credentials a secret store must provide, per kind.
var credentials = map[resource.Kind][]string{
	resource.KindKV:     {"AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_KEY", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION"},
	resource.KindMQ:     {"AZURE_SERVICE_BUS_NAMESPACE", "AZURE_POLICY_NAME", "AZURE_POLICY_KEY"},
	resource.KindLockd:  {"ETCD_ENDPOINT"},
	resource.KindPubsub: {"CK_BOOTSTRAP_SERVERS", "CK_SECURITY_PROTOCOL", "CK_SASL_MECHANISMS", "CK_SASL_USERNAME", "CK_SASL_PASSWORD", "CK_GROUP_ID"},
}

// ConfigError reports a capability declaration that cannot be satisfied.
type ConfigError struct {
	Name        string
	Kind        resource.Kind
	Credentials []string
	Err         error
}

func (e *ConfigError) Error() string {
	if errors.Is(e.Err, ErrMissingSecretStore) {
		return fmt.Sprintf("the %s capability requires a secret store of some type (i.e., envvars, or usersecrets) specified in your config file so it knows where to grab %s from",
			e.Kind.Scheme(), joinNames(e.Credentials))
	}
	return fmt.Sprintf("capability %s: %v", e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Resolve maps a declared name to its capability. Kinds backed by external
// services fail without a secret store.
func Resolve(name, secretStore string) (Capability, error) {
	switch name {
	case "events":
		return Capability{Name: name, Kind: resource.KindEvents}, nil
	case "http":
		return Capability{Name: name, Kind: resource.KindHTTP}, nil
	}

	for _, kind := range resource.Kinds() {
		for _, impl := range implementors[kind] {
			if impl != name {
				continue
			}
			if kind.RequiresSecretStore() && secretStore == "" {
				return Capability{}, &ConfigError{
					Name:        name,
					Kind:        kind,
					Credentials: credentials[kind],
					Err:         ErrMissingSecretStore,
				}
			}
			_, backend, _ := strings.Cut(name, ".")
			return Capability{Name: name, Kind: kind, Implementor: backend}, nil
		}
	}

	return Capability{}, fmt.Errorf("%w %q: currently only %s are supported",
		ErrUnknownCapability, name, joinNames(quoted(Supported())))
}

// ResolveAll checks the spec version and resolves every declaration in
// order. It stops at the first failure.
func ResolveAll(cfg *config.File) ([]Capability, error) {
	if cfg.SpecVersion != SupportedSpecVersion {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSpecVersion, cfg.SpecVersion)
	}
	caps := make([]Capability, 0, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		resolved, err := Resolve(c.Name, cfg.SecretStore)
		if err != nil {
			return nil, err
		}
		caps = append(caps, resolved)
	}
	return caps, nil
}

// Supported returns every supported capability name, sorted.
func Supported() []string {
	names := []string{"events", "http"}
	for _, impls := range implementors {
		names = append(names, impls...)
	}
	sort.Strings(names)
	return names
}

func quoted(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = "'" + n + "'"
	}
	return out
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	case 2:
		return names[0] + " and " + names[1]
	}
	return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
}
