// Package hostfunc provides host function implementations callable from
// sandboxed guest modules.
//
// Guest code has no implicit access to host resources. Each capability is a
// named function in a [Registry]; the sandbox layer dispatches guest calls
// to it over the wasmod call protocol (a JSON {fn, args} request answered
// with {data, error}).
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("time_now", hostfunc.TimeNow)
//	registry.Register("my_func", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "result", nil
//	})
//
// # Built-in Capabilities
//
// Logging: guest log lines routed through the host logger via [NewLog].
//
// Key-Value Store: module-scoped scratch storage via [KVStore]. State
// survives hot reloads of the owning module but is never shared across
// modules:
//
//	kv := hostfunc.NewKVStore()
//	kv.Bind(registry)
//
// The engine additionally installs a setup-scoped register_system function
// while a module's setup entrypoint runs; see the engine package.
package hostfunc
