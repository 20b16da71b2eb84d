package lockd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/resource"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const (
	lockPrefix  = "/capsule/lockd/"
	dialTimeout = 5 * time.Second
)

// etcdLocker holds locks as concurrency mutexes bound to one session lease.
type etcdLocker struct {
	client  *clientv3.Client
	session *concurrency.Session

	mu   sync.Mutex
	held map[string]*concurrency.Mutex
}

func openEtcd(ctx context.Context, state resource.BasicState) (Locker, error) {
	endpoint, err := state.Secret(ctx, "ETCD_ENDPOINT")
	if err != nil {
		return nil, err
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoint, ","),
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("etcd client: %w", err)
	}
	session, err := concurrency.NewSession(client, concurrency.WithContext(ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd session: %w", err)
	}
	return &etcdLocker{client: client, session: session, held: make(map[string]*concurrency.Mutex)}, nil
}

func (l *etcdLocker) Lock(ctx context.Context, name string) (string, error) {
	m := concurrency.NewMutex(l.session, lockPrefix+name)
	if err := m.Lock(ctx); err != nil {
		return "", err
	}
	key := m.Key()
	l.mu.Lock()
	l.held[key] = m
	l.mu.Unlock()
	return key, nil
}

// Unlock releases key. Keys not acquired through this locker are deleted
// directly, which releases locks held by other processes.
func (l *etcdLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	m, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()

	if ok {
		return m.Unlock(ctx)
	}
	resp, err := l.client.Delete(ctx, key)
	if err != nil {
		return err
	}
	if resp.Deleted == 0 {
		return errors.New("lock not held")
	}
	return nil
}

func (l *etcdLocker) Close() error {
	return errors.Join(l.session.Close(), l.client.Close())
}
