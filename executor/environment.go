package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/metrics"
	"github.com/caffeineduck/capsule/resource"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// Environment is one instantiation of a guest module with its capabilities
// linked.
type Environment struct {
	runtime    wazero.Runtime
	module     api.Module
	resources  []string
	registries map[string]*hostfunc.Registry
	guest      *guest
	protocol   *protocolHandler
	metrics    *metrics.Collector
}

func (env *Environment) Module() api.Module {
	return env.module
}

// Resources returns the scheme keys linked into this environment, in
// declaration order.
func (env *Environment) Resources() []string {
	return append([]string(nil), env.resources...)
}

func (env *Environment) HasExport(name string) bool {
	return env.module.ExportedFunction(name) != nil
}

// Call runs a nullary export such as _start to completion. A WASI exit with
// code 0 is success.
func (env *Environment) Call(ctx context.Context, export string) error {
	fn := env.module.ExportedFunction(export)
	if fn == nil {
		return &ExecError{Export: export, Err: hostfunc.ErrMissingExport}
	}

	env.guest.mu.Lock()
	defer env.guest.mu.Unlock()

	start := time.Now()
	_, err := fn.Call(ctx)
	err = exitError(export, err)
	env.metrics.ObserveGuestCall(export, time.Since(start), err)
	return err
}

func exitError(export string, err error) error {
	if err == nil {
		return nil
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		if exit.ExitCode() == 0 {
			return nil
		}
		return &ExecError{Export: export, ExitCode: exit.ExitCode(), Err: err}
	}
	return &ExecError{Export: export, Err: err}
}

// Guest returns a handle on this instantiation that serializes calls.
func (env *Environment) Guest() resource.Guest {
	return env.guest
}

// Close closes the runtime and every module in it. Resources in the table
// are left open.
func (env *Environment) Close(ctx context.Context) error {
	var errs []error
	if err := env.runtime.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close runtime: %w", err))
	}
	if env.protocol != nil {
		env.protocol.Close()
	}
	return errors.Join(errs...)
}
