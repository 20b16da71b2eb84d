// Package capsule hosts WebAssembly modules against a declared set of
// capabilities.
//
// # Overview
//
// A config file names the capabilities a module may use (kv, mq, lockd,
// pubsub, configs, events, http) and the implementor behind each one. The
// executor resolves those names, builds one resource per capability into a
// shared resource table and links each as a host module the guest calls
// through a single JSON entry point.
//
// # Basic Usage
//
//	cfg, _ := config.Load("capsule.toml")
//	exec, _ := executor.New(executor.WithDiskCache())
//	defer exec.Close()
//
//	err := runner.New(exec, module, cfg).Run(ctx)
//
// The runner builds the primary environment, builds secondary environments
// for the events and http capabilities so inbound work runs on its own
// instance, calls the entry point and, when a server was started, serves
// until interrupted.
//
// # Lower-level Use
//
//	table := resource.NewTable()
//	env, _ := exec.Build(ctx, module, cfg, table)
//	defer env.Close(ctx)
//
//	store, _ := resource.Get[*kv.Resource](table, "kv")
//	_ = store.Set(ctx, kv.DefaultStore, "greeting", []byte("hello"))
//	_ = env.Call(ctx, "_start")
//
// See the [executor], [runner], [resource], [capability] and [hostfunc]
// packages for detailed API documentation.
package capsule
