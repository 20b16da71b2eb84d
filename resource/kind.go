package resource

// Kind identifies a capability kind. The set is closed.
type Kind int

const (
	KindEvents Kind = iota
	KindKV
	KindMQ
	KindLockd
	KindPubsub
	KindConfigs
	KindHTTP
)

var kindSchemes = [...]string{
	KindEvents:  "events",
	KindKV:      "kv",
	KindMQ:      "mq",
	KindLockd:   "lockd",
	KindPubsub:  "pubsub",
	KindConfigs: "configs",
	KindHTTP:    "http",
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindEvents, KindKV, KindMQ, KindLockd, KindPubsub, KindConfigs, KindHTTP}
}

// Scheme returns the canonical key under which resources of this kind are
// stored in a Table and linked into a sandbox.
func (k Kind) Scheme() string {
	if k < 0 || int(k) >= len(kindSchemes) {
		return "unknown"
	}
	return kindSchemes[k]
}

func (k Kind) String() string {
	return k.Scheme()
}

// Async reports whether the kind serves guest callbacks after the entry
// point returns and therefore needs a secondary instantiation.
func (k Kind) Async() bool {
	return k == KindEvents || k == KindHTTP
}

// RequiresSecretStore reports whether capabilities of this kind need a
// secret store to obtain backend credentials.
func (k Kind) RequiresSecretStore() bool {
	switch k {
	case KindKV, KindMQ, KindLockd, KindPubsub:
		return true
	}
	return false
}

// KindFromScheme is the inverse of Kind.Scheme.
func KindFromScheme(scheme string) (Kind, bool) {
	for i, s := range kindSchemes {
		if s == scheme {
			return Kind(i), true
		}
	}
	return 0, false
}
