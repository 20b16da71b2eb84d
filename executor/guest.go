package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/metrics"
	"github.com/tetratelabs/wazero/api"
)

// guest serializes calls into one instantiation. Calls run detached from
// the caller's cancellation so a dropped request cannot close the module.
type guest struct {
	mod     api.Module
	metrics *metrics.Collector
	mu      sync.Mutex
}

func (g *guest) Call(ctx context.Context, export string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s input: %w", export, err)
	}

	g.mu.Lock()
	start := time.Now()
	data, err := hostfunc.Invoke(context.WithoutCancel(ctx), g.mod, export, payload)
	g.mu.Unlock()

	if err != nil {
		err = exitError(export, err)
	}
	g.metrics.ObserveGuestCall(export, time.Since(start), err)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s output: %w", export, err)
	}
	return nil
}
