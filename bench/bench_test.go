// Package bench measures environment builds and guest round trips.
//
// Benchmarks: go test -bench=. -benchtime=3x ./bench/
package bench

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/caffeineduck/capsule/capability/kv"
	"github.com/caffeineduck/capsule/config"
	"github.com/caffeineduck/capsule/executor"
	"github.com/caffeineduck/capsule/hostfunc"
	"github.com/caffeineduck/capsule/internal/wasmtest"
	"github.com/caffeineduck/capsule/resource"
)

func benchConfig(b *testing.B, names ...string) *config.File {
	b.Helper()
	cfg := &config.File{
		SpecVersion: "0.1",
		SecretStore: "envvars",
		Path:        filepath.Join(b.TempDir(), "capsule.toml"),
	}
	for _, n := range names {
		cfg.Capabilities = append(cfg.Capabilities, config.Capability{Name: n})
	}
	return cfg
}

// --- Cold start (new executor each time) ---

func BenchmarkBuild_ColdStart(b *testing.B) {
	ctx := context.Background()
	module := wasmtest.Noop()
	cfg := benchConfig(b)

	for i := 0; i < b.N; i++ {
		exec, err := executor.New()
		if err != nil {
			b.Fatal(err)
		}
		env, err := exec.Build(ctx, module, cfg, resource.NewTable())
		if err != nil {
			b.Fatal(err)
		}
		env.Close(ctx)
		exec.Close()
	}
}

// --- Warm start (compilation cache reused) ---

func BenchmarkBuild_WarmStart(b *testing.B) {
	ctx := context.Background()
	exec, err := executor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()
	module := wasmtest.Noop()
	cfg := benchConfig(b)

	env, err := exec.Build(ctx, module, cfg, resource.NewTable()) // warmup
	if err != nil {
		b.Fatal(err)
	}
	env.Close(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env, err := exec.Build(ctx, module, cfg, resource.NewTable())
		if err != nil {
			b.Fatal(err)
		}
		env.Close(ctx)
	}
}

func BenchmarkBuild_WithCapabilities(b *testing.B) {
	ctx := context.Background()
	exec, err := executor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()
	module := wasmtest.Noop()
	cfg := benchConfig(b, "kv.filesystem", "mq.filesystem", "configs.envvars", "events", "http")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table := resource.NewTable()
		env, err := exec.Build(ctx, module, cfg, table)
		if err != nil {
			b.Fatal(err)
		}
		env.Close(ctx)
		table.Close(ctx)
	}
}

// --- Guest round trips ---

func BenchmarkEntryPoint_HostCall(b *testing.B) {
	ctx := context.Background()
	exec, err := executor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()

	table := resource.NewTable()
	defer table.Close(ctx)
	env, err := exec.Build(ctx, wasmtest.Caller("kv", "set", `{"key":"k","value":"v"}`), benchConfig(b, "kv.filesystem"), table)
	if err != nil {
		b.Fatal(err)
	}
	defer env.Close(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := env.Call(ctx, "_start"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGuestCall_Echo(b *testing.B) {
	ctx := context.Background()
	exec, err := executor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()

	env, err := exec.Build(ctx, wasmtest.Echo(), benchConfig(b), resource.NewTable())
	if err != nil {
		b.Fatal(err)
	}
	defer env.Close(ctx)
	in := map[string]any{"body": "ping"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out map[string]any
		if err := env.Guest().Call(ctx, "handle", in, &out); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Host side only ---

func BenchmarkDispatch(b *testing.B) {
	ctx := context.Background()
	reg := hostfunc.NewRegistry()
	reg.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})
	req := hostfunc.CallRequest{Fn: "echo", Args: map[string]any{"v": "x"}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hostfunc.Dispatch(ctx, reg, req)
	}
}

func BenchmarkTableGet(b *testing.B) {
	ctx := context.Background()
	table := resource.NewTable()
	defer table.Close(ctx)

	exec, err := executor.New()
	if err != nil {
		b.Fatal(err)
	}
	defer exec.Close()
	env, err := exec.Build(ctx, wasmtest.Noop(), benchConfig(b, "kv.filesystem"), table)
	if err != nil {
		b.Fatal(err)
	}
	defer env.Close(ctx)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := resource.Get[*kv.Resource](table, "kv"); err != nil {
			b.Fatal(err)
		}
	}
}
