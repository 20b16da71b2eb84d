package mq

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/capsule/capability/internal/store"
	"github.com/caffeineduck/capsule/resource"
	"github.com/google/uuid"
)

// fileQueue keeps one file per message. Names start with a zero padded
// timestamp and sequence number so lexical order is send order.
type fileQueue struct {
	dir *store.Dir
	seq atomic.Uint64
}

func openFilesystem(ctx context.Context, state resource.BasicState, name string) (Queue, error) {
	dir, err := store.OpenIn(filepath.Join(state.Dir(), ".capsule", "mq"), name)
	if err != nil {
		return nil, err
	}
	return &fileQueue{dir: dir}, nil
}

func (q *fileQueue) Send(ctx context.Context, msg []byte) error {
	name := fmt.Sprintf("%020d-%010d-%s", time.Now().UnixNano(), q.seq.Add(1), uuid.NewString())
	return q.dir.Write(name, msg)
}

func (q *fileQueue) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	_, data, err := q.dir.Take()
	if errors.Is(err, store.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (q *fileQueue) Close(ctx context.Context) error {
	return nil
}
