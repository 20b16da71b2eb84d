package executor

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caffeineduck/capsule/capability"
	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/resource"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// InitializeExport is run on every instantiation when the module exports
// it. The entry point never runs during a build.
const InitializeExport = "_initialize"

// Executor builds sandbox environments. Every environment it builds gets a
// fresh wazero runtime; compiled code is shared through one compilation
// cache.
type Executor struct {
	cfg    executorConfig
	cache  wazero.CompilationCache
	mu     sync.RWMutex
	closed bool
}

// New creates an Executor.
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var cache wazero.CompilationCache
	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	} else {
		cache = wazero.NewCompilationCache()
	}

	return &Executor{cfg: cfg, cache: cache}, nil
}

func (e *Executor) runtimeConfig() wazero.RuntimeConfig {
	rtConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(e.cache)
	if e.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(e.cfg.memoryLimitPages)
	}
	return rtConfig
}

// Build resolves cfg's capabilities, links them into a new runtime and
// instantiates module.
//
// Resources are shared through table: a key already present from an earlier
// build is reused for every declaration of it, a key declared twice in cfg and
// first inserted by this build is rebuilt and overwritten.
// Resolution failures return before table or the runtime is touched.
func (e *Executor) Build(ctx context.Context, module []byte, cfg *config.File, table *resource.Table) (*Environment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	caps, err := capability.ResolveAll(cfg)
	if err != nil {
		return nil, err
	}
	secrets, err := capability.Secrets(cfg.SecretStore, cfg.Path)
	if err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	fail := func(err error) (*Environment, error) {
		rt.Close(ctx)
		return nil, err
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return fail(fmt.Errorf("instantiate WASI: %w", err))
	}

	state := resource.BasicState{
		Table:       table,
		SecretStore: cfg.SecretStore,
		ConfigPath:  cfg.Path,
		Secrets:     secrets,
		Logger:      Logger(),
		Metrics:     e.cfg.metrics,
	}

	var keys []string
	registries := make(map[string]*hostfunc.Registry)
	// Keys this build inserted. Only those may be overwritten by a repeated
	// declaration; a key taken over from an earlier build stays as it is.
	inserted := make(map[string]bool)
	for _, c := range caps {
		key := c.Key()
		if registries[key] != nil && !inserted[key] {
			continue
		}
		res, created, err := e.provide(ctx, c, state, table, inserted[key])
		if err != nil {
			return fail(err)
		}
		if registries[key] == nil {
			keys = append(keys, key)
		}
		if created {
			inserted[key] = true
		}
		reg := hostfunc.NewRegistry()
		res.Link(reg)
		registries[key] = reg
	}

	for _, key := range keys {
		if _, err := hostfunc.Link(ctx, rt, key, registries[key], e.hostObserver(key)); err != nil {
			return fail(err)
		}
		e.cfg.metrics.CapabilityLinked(key)
	}

	compiled, err := rt.CompileModule(ctx, module)
	if err != nil {
		return fail(fmt.Errorf("compile module: %w", err))
	}

	env := &Environment{
		runtime:    rt,
		resources:  keys,
		registries: registries,
		metrics:    e.cfg.metrics,
	}

	modCfg := wazero.NewModuleConfig().
		WithStartFunctions(InitializeExport).
		WithStdout(e.cfg.stdout).
		WithStderr(e.cfg.stderr).
		WithArgs(e.cfg.args...).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	if e.cfg.stdioProtocol {
		env.protocol = newProtocolHandler(ctx, registries, e.cfg.stderr)
		modCfg = modCfg.WithStderr(env.protocol).WithStdin(env.protocol.stdin())
	}

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if env.protocol != nil {
			env.protocol.Close()
		}
		return fail(fmt.Errorf("instantiate module: %w", err))
	}
	env.module = mod
	env.guest = &guest{mod: mod, metrics: e.cfg.metrics}

	e.cfg.metrics.EnvironmentBuilt()
	Logger().Debug("environment built", zap.Strings("capabilities", keys))
	return env, nil
}

// provide returns the resource for c and whether it was constructed by this
// call. With overwrite set the key was inserted earlier in the same build and
// is replaced; otherwise a resource already in table is reused.
func (e *Executor) provide(ctx context.Context, c capability.Capability, state resource.BasicState, table *resource.Table, overwrite bool) (resource.Resource, bool, error) {
	key := c.Key()

	if !overwrite {
		if existing, ok := table.Lookup(key); ok {
			return existing, false, nil
		}
	}

	res, err := capability.New(ctx, c, state)
	if err != nil {
		return nil, false, err
	}

	if !overwrite {
		if err := table.Insert(key, res); err != nil {
			res.Close(ctx)
			return nil, false, err
		}
		return res, true, nil
	}

	Logger().Warn("capability declared more than once, overwriting",
		zap.String("key", key), zap.String("name", c.Name))
	old, err := table.Replace(key, res)
	if err != nil {
		res.Close(ctx)
		return nil, false, err
	}
	if err := old.Close(ctx); err != nil {
		Logger().Warn("close replaced resource", zap.String("key", key), zap.Error(err))
	}
	return res, true, nil
}

func (e *Executor) hostObserver(key string) hostfunc.Observer {
	m := e.cfg.metrics
	log := Logger()
	return func(fn string, d time.Duration, err error) {
		m.ObserveHostCall(key, fn, d, err)
		if err != nil {
			log.Debug("host call failed", zap.String("scheme", key), zap.String("fn", fn), zap.Error(err))
		}
	}
}

// Close releases the compilation cache. Environments must be closed
// separately.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	return e.cache.Close(context.Background())
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "capsule")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "capsule")
	}
	return filepath.Join(os.TempDir(), "capsule-cache")
}
