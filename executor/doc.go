// Package executor builds sandbox environments for WebAssembly guests.
//
// # Overview
//
// An [Executor] owns the compilation cache for a run. [Executor.Build]
// resolves the capabilities a configuration declares, links each one into a
// fresh wazero runtime under its scheme key and instantiates the module.
// Resources live in a shared [resource.Table], so several environments
// built for one run see the same kv stores, queues and servers.
//
// # Basic Usage
//
//	exec, err := executor.New(executor.WithStdout(os.Stdout))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	table := resource.NewTable()
//	env, err := exec.Build(ctx, wasm, cfg, table)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close(ctx)
//
//	if err := env.Call(ctx, "_start"); err != nil {
//	    log.Fatal(err)
//	}
//
// Building never runs the entry point. Reactor modules exporting
// _initialize have it run on every instantiation.
//
// # Guest Handles
//
// [Environment.Guest] returns a [resource.Guest] that serializes calls into
// the instantiation. The runner hands these to the events and http
// capabilities so they can call back into the module after the entry point
// returns.
//
// # Memory Limits
//
// Use [WithMemoryLimit] to bound guest memory:
//
//	executor.New(executor.WithMemoryLimit(executor.MemoryLimit64MB))
//
// # Stdio Protocol
//
// Guests without an alloc export can reach their capabilities over stdio
// when [WithStdioProtocol] is set. A call is written to stderr as
// \x00CAPSULE:{"fn":"kv.get","args":{...}}\x00 and answered with one JSON
// line on stdin.
package executor
