// Package runner drives one execution of a guest module.
//
// A run builds a primary environment, then one secondary environment for
// each declared async capability (events, then http). Secondary instances
// are adopted by their capability so it can call back into the module once
// the entry point has returned. Runs that declare http keep serving until a
// shutdown signal arrives.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/caffeineduck/capsule/capability/events"
	"github.com/caffeineduck/capsule/capability/http"
	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/resource"
	"go.uber.org/zap"
)

// Builder builds environments sharing a resource table.
type Builder interface {
	Build(ctx context.Context, module []byte, cfg *config.File, table *resource.Table) (*executor.Environment, error)
}

var ErrAlreadyRun = errors.New("runner already started")

type Runner struct {
	exec   Builder
	module []byte
	cfg    *config.File
	opts   runConfig

	mu      sync.Mutex
	state   State
	started bool
}

func New(exec Builder, module []byte, cfg *config.File, opts ...Option) *Runner {
	rc := defaultRunConfig()
	for _, opt := range opts {
		opt(&rc)
	}
	return &Runner{exec: exec, module: module, cfg: cfg, opts: rc}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) transition(to State) {
	r.mu.Lock()
	from := r.state
	if from.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = to
	r.mu.Unlock()

	Logger().Debug("state", zap.Stringer("from", from), zap.Stringer("to", to))
	if r.opts.observer != nil {
		r.opts.observer(from, to)
	}
}

// Run executes the module once. It returns when the entry point has
// returned and, for http runs, the server has shut down.
func (r *Runner) Run(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRun
	}
	r.started = true
	r.mu.Unlock()

	table := r.opts.table
	if table == nil {
		table = resource.NewTable()
	}

	var (
		envs   []*executor.Environment
		server *http.Resource
	)
	defer func() {
		var errs []error
		// Stop taking requests before the instances serving them go away.
		if server != nil {
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.shutdownTimeout)
			errs = append(errs, server.Shutdown(sctx))
			cancel()
		}
		for i := len(envs) - 1; i >= 0; i-- {
			errs = append(errs, envs[i].Close(ctx))
		}
		errs = append(errs, table.Close(context.WithoutCancel(ctx)))
		if cerr := errors.Join(errs...); cerr != nil {
			Logger().Warn("close run", zap.Error(cerr))
		}

		if err != nil {
			r.transition(StateFailed)
			return
		}
		r.transition(StateClosed)
	}()

	primary, err := r.exec.Build(ctx, r.module, r.cfg, table)
	if err != nil {
		return fmt.Errorf("build primary environment: %w", err)
	}
	envs = append(envs, primary)
	r.transition(StatePrimaryBuilt)

	for _, kind := range []resource.Kind{resource.KindEvents, resource.KindHTTP} {
		if _, ok := table.Lookup(kind.Scheme()); !ok {
			continue
		}
		secondary, err := r.exec.Build(ctx, r.module, r.cfg, table)
		if err != nil {
			return fmt.Errorf("build %s environment: %w", kind, err)
		}
		envs = append(envs, secondary)

		switch kind {
		case resource.KindEvents:
			ev, err := resource.Get[*events.Resource](table, kind.Scheme())
			if err != nil {
				return err
			}
			ev.Adopt(events.NewHandler(secondary.Guest()))
		case resource.KindHTTP:
			server, err = resource.Get[*http.Resource](table, kind.Scheme())
			if err != nil {
				return err
			}
			server.Adopt(secondary.Guest())
		}
		r.transition(StateSecondaryBuilt)
	}

	r.transition(StateEntryPointRunning)
	if err := primary.Call(ctx, r.opts.entryPoint); err != nil {
		return fmt.Errorf("entry point: %w", err)
	}

	if server == nil {
		return nil
	}
	return r.serve(ctx, server)
}

func (r *Runner) serve(ctx context.Context, server *http.Resource) error {
	signals := r.opts.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	r.transition(StateServingAsync)
	Logger().Info("serving", zap.String("address", server.Addr()))

	select {
	case sig := <-signals:
		Logger().Info("shutdown requested", zap.Any("signal", sig))
	case <-ctx.Done():
		Logger().Info("shutdown requested", zap.Error(ctx.Err()))
	}
	r.transition(StateShutdownRequested)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.shutdownTimeout)
	defer cancel()
	return server.Shutdown(sctx)
}
