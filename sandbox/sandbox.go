// Package sandbox runs guest module bytecode inside isolated wazero
// instances and exposes the call ABI the engine drives.
//
// # Guest contract
//
// A guest module must export:
//
//	memory                                        linear memory
//	wasmod_alloc(size: i32) -> i32                allocate guest memory
//	wasmod_free(ptr: i32, size: i32)              release guest memory
//	setup()                                       one-time setup entrypoint
//	run_system(name_ptr, name_len, in_ptr, in_len: i32) -> i64
//
// run_system receives a JSON query snapshot and returns a packed
// (ptr<<32 | len) pointing at a JSON result envelope; the host reads the
// envelope and hands the region back via wasmod_free. The guest owns the
// regions the host allocates for its inputs.
//
// Host functions live in the "wasmod" host module as
// call(ptr, len: i32) -> i64: a JSON {"fn","args"} request answered with a
// packed {"data"} or {"error"} response, dispatched through a per-instance
// hostfunc.Registry. Host calls are valid from setup() onward, never during
// module initialization.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/caffeineduck/wasmod/hostfunc"
)

// Guest export and host module names, fixed by the ABI.
const (
	GuestAlloc     = "wasmod_alloc"
	GuestFree      = "wasmod_free"
	GuestSetup     = "setup"
	GuestRunSystem = "run_system"

	HostModule = "wasmod"
	HostCall   = "call"
)

var (
	ErrClosed = errors.New("sandbox closed")

	// ErrMissingExport marks bytecode that compiled but does not satisfy
	// the guest contract.
	ErrMissingExport = errors.New("guest does not satisfy the wasmod ABI")
)

// Runtime owns a wazero runtime plus the wasmod host module. One Runtime
// serves any number of compiled modules and live instances.
type Runtime struct {
	runtime wazero.Runtime
	cache   wazero.CompilationCache
	log     *zap.Logger

	mu       sync.Mutex
	bindings map[api.Module]*Instance
	closed   bool
}

// New creates a sandbox runtime. Guests are compiled and run with zero
// default capabilities beyond WASI's deterministic subset and whatever the
// per-instance hostfunc registry grants.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var cache wazero.CompilationCache
	if cfg.cacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	r := &Runtime{
		runtime:  rt,
		cache:    cache,
		log:      cfg.log,
		bindings: make(map[api.Module]*Instance),
	}

	if err := r.instantiateHostModule(ctx); err != nil {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
		return nil, err
	}

	return r, nil
}

func (r *Runtime) instantiateHostModule(ctx context.Context) error {
	_, err := r.runtime.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.hostCall),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI64}).
		Export(HostCall).
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate host module: %w", err)
	}
	return nil
}

// Compile validates and compiles guest bytecode. The compiled artifact can
// be instantiated any number of times and must be closed when done.
func (r *Runtime) Compile(ctx context.Context, bytecode []byte) (*Compiled, error) {
	compiled, err := r.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	return &Compiled{runtime: r, compiled: compiled}, nil
}

func (r *Runtime) bind(mod api.Module, inst *Instance) {
	r.mu.Lock()
	r.bindings[mod] = inst
	r.mu.Unlock()
}

func (r *Runtime) unbind(mod api.Module) {
	r.mu.Lock()
	delete(r.bindings, mod)
	r.mu.Unlock()
}

func (r *Runtime) binding(mod api.Module) (*Instance, bool) {
	r.mu.Lock()
	inst, ok := r.bindings[mod]
	r.mu.Unlock()
	return inst, ok
}

// Close releases the runtime and every instance still open under it.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.bindings = make(map[api.Module]*Instance)
	r.mu.Unlock()

	var errs []error
	if err := r.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if r.cache != nil {
		if err := r.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Compiled is a validated guest artifact owned by whoever compiled it.
type Compiled struct {
	runtime  *Runtime
	compiled wazero.CompiledModule
}

// Instantiate creates a live guest instance with its own hostfunc registry.
// The instance is not entered until Setup is called.
func (c *Compiled) Instantiate(ctx context.Context, calls *hostfunc.Registry) (*Instance, error) {
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize")

	mod, err := c.runtime.runtime.InstantiateModule(ctx, c.compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	inst := &Instance{
		runtime: c.runtime,
		module:  mod,
		calls:   calls,
		log:     c.runtime.log,
		alloc:   mod.ExportedFunction(GuestAlloc),
		free:    mod.ExportedFunction(GuestFree),
		setup:   mod.ExportedFunction(GuestSetup),
		run:     mod.ExportedFunction(GuestRunSystem),
	}

	for name, fn := range map[string]api.Function{
		GuestAlloc:     inst.alloc,
		GuestFree:      inst.free,
		GuestSetup:     inst.setup,
		GuestRunSystem: inst.run,
	} {
		if fn == nil {
			mod.Close(ctx)
			return nil, fmt.Errorf("missing export %q: %w", name, ErrMissingExport)
		}
	}

	c.runtime.bind(mod, inst)
	return inst, nil
}

// Close releases the compiled artifact.
func (c *Compiled) Close(ctx context.Context) error {
	return c.compiled.Close(ctx)
}

// Instance is one live guest instantiation. The sandboxed execution state is
// not safe for concurrent entry; an internal mutex serializes all calls into
// the guest.
type Instance struct {
	runtime *Runtime
	module  api.Module
	calls   *hostfunc.Registry
	log     *zap.Logger

	alloc api.Function
	free  api.Function
	setup api.Function
	run   api.Function

	execMu sync.Mutex
	closed bool
}

// Setup runs the guest's one-time setup entrypoint. An error is a guest
// fault; the instance should be closed by the caller.
func (i *Instance) Setup(ctx context.Context) error {
	i.execMu.Lock()
	defer i.execMu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if _, err := i.setup.Call(ctx); err != nil {
		return fmt.Errorf("setup trapped: %w", err)
	}
	return nil
}

// Invoke calls one guest system with a serialized query snapshot and returns
// the serialized result envelope. An error return is a sandbox trap, not a
// guest-reported failure; guest failures travel inside the envelope.
func (i *Instance) Invoke(ctx context.Context, systemName string, input []byte) ([]byte, error) {
	i.execMu.Lock()
	defer i.execMu.Unlock()

	if i.closed {
		return nil, ErrClosed
	}

	namePtr, err := i.writeGuest(ctx, []byte(systemName))
	if err != nil {
		return nil, err
	}
	inPtr, err := i.writeGuest(ctx, input)
	if err != nil {
		return nil, err
	}

	results, err := i.run.Call(ctx,
		uint64(namePtr), uint64(len(systemName)),
		uint64(inPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("system %q trapped: %w", systemName, err)
	}

	outPtr := uint32(results[0] >> 32)
	outLen := uint32(results[0])
	out, err := i.readGuest(outPtr, outLen)
	if err != nil {
		return nil, fmt.Errorf("system %q: %w", systemName, err)
	}

	// Hand the result region back to the guest allocator.
	if outLen > 0 {
		if _, err := i.free.Call(ctx, uint64(outPtr), uint64(outLen)); err != nil {
			return nil, fmt.Errorf("system %q: free result: %w", systemName, err)
		}
	}
	return out, nil
}

// Close tears the instance down; idempotent.
func (i *Instance) Close(ctx context.Context) error {
	i.execMu.Lock()
	defer i.execMu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.runtime.unbind(i.module)
	return i.module.Close(ctx)
}

// writeGuest allocates guest memory via wasmod_alloc and copies data in.
// Ownership of the region passes to the guest.
func (i *Instance) writeGuest(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := i.alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest alloc %d bytes: %w", len(data), err)
	}
	ptr := uint32(results[0])
	if !i.module.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at %d: out of range", len(data), ptr)
	}
	return ptr, nil
}

// readGuest copies a region out of guest memory.
func (i *Instance) readGuest(ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	view, ok := i.module.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %d: out of range", size, ptr)
	}
	out := make([]byte, size)
	copy(out, view)
	return out, nil
}
