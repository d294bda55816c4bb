package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caffeineduck/wasmod/command"
	"github.com/caffeineduck/wasmod/component"
	"github.com/caffeineduck/wasmod/hostfunc"
	"github.com/caffeineduck/wasmod/sandbox"
	"github.com/caffeineduck/wasmod/system"
	"github.com/caffeineduck/wasmod/world"
)

// Engine owns the lifecycle of guest modules and drives their systems
// against the world store.
//
// Control operations (Load, Unload, Reload) and RunPhase serialize on one
// mutex: a reload requested while a phase runs waits for the phase boundary
// and takes effect before the next one, so System Registry entries never
// change while the invocation engine iterates them.
type Engine struct {
	log     *zap.Logger
	world   world.World
	types   *component.Registry
	systems *system.Registry
	rec     *command.Reconciler
	guests  GuestRuntime

	hostFuncs   *hostfunc.Registry
	workers     int
	callTimeout time.Duration
	moduleKV    bool
	ownsRuntime bool

	mu      sync.Mutex
	modules map[string]*module
	closed  bool
}

// New creates an engine over a world store and a component type registry.
// Unless WithGuestRuntime overrides it, a wazero sandbox runtime is created
// and owned by the engine.
func New(ctx context.Context, w world.World, types *component.Registry, opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	guests := cfg.guests
	ownsRuntime := false
	if guests == nil {
		sandboxOpts := append([]sandbox.Option{sandbox.WithLogger(cfg.log)}, cfg.sandboxOpts...)
		rt, err := sandbox.New(ctx, sandboxOpts...)
		if err != nil {
			return nil, fmt.Errorf("create sandbox runtime: %w", err)
		}
		guests = WASMRuntime(rt)
		ownsRuntime = true
	}

	hostFuncs := cfg.hostFuncs
	if hostFuncs == nil {
		hostFuncs = hostfunc.NewRegistry()
	}
	if _, ok := hostFuncs.Get("time_now"); !ok {
		hostFuncs.Register("time_now", hostfunc.TimeNow)
	}

	return &Engine{
		log:         cfg.log,
		world:       w,
		types:       types,
		systems:     system.NewRegistry(),
		rec:         command.NewReconciler(types),
		guests:      guests,
		hostFuncs:   hostFuncs,
		workers:     cfg.workers,
		callTimeout: cfg.callTimeout,
		moduleKV:    cfg.moduleKV,
		ownsRuntime: ownsRuntime,
		modules:     make(map[string]*module),
	}, nil
}

// Systems exposes the system registry for inspection.
func (e *Engine) Systems() *system.Registry { return e.systems }

// Types exposes the component type registry.
func (e *Engine) Types() *component.Registry { return e.types }

// Load compiles, instantiates, and sets up a guest module. The module's
// systems become schedulable only after the whole sequence succeeds; a
// failed setup leaves no trace in the system registry.
func (e *Engine) Load(ctx context.Context, name string, bytecode []byte) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Handle{}, ErrClosed
	}
	if name == "" {
		return Handle{}, errors.New("module name required")
	}
	if _, ok := e.modules[name]; ok {
		return Handle{}, fmt.Errorf("%q: %w", name, ErrModuleExists)
	}

	mod := &module{
		name:  name,
		token: uuid.New(),
		state: StateLoading,
	}
	if e.moduleKV {
		mod.kv = hostfunc.NewKVStore()
	}

	compiled, instance, regs, err := e.buildInstance(ctx, mod, bytecode)
	if err != nil {
		return Handle{}, err
	}

	mod.compiled = compiled
	mod.instance = instance
	mod.state = StateReady
	e.modules[name] = mod
	e.systems.Replace(name, regs)

	e.log.Info("module loaded",
		zap.String("module", name),
		zap.Int("systems", len(regs)))
	return mod.handle(), nil
}

// Unload deregisters the module's systems and tears the instance down.
// Idempotent: unloading an already-unloaded module is a no-op. The world
// store is not touched.
func (e *Engine) Unload(ctx context.Context, h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	mod, ok := e.modules[h.name]
	if !ok {
		return nil
	}
	if mod.token != h.token {
		return fmt.Errorf("%q: %w", h.name, ErrStaleHandle)
	}

	e.removeLocked(ctx, mod)
	e.log.Info("module unloaded", zap.String("module", h.name))
	return nil
}

// Reload performs a load into a shadow instance and, only on success,
// atomically swaps the module's system registrations and drops the old
// instantiation. On failure the old instance remains authoritative and
// keeps running.
func (e *Engine) Reload(ctx context.Context, h Handle, bytecode []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	mod, ok := e.modules[h.name]
	if !ok || mod.token != h.token {
		return fmt.Errorf("%q: %w", h.name, ErrStaleHandle)
	}

	mod.state = StateReloading

	shadow := &module{
		name:  mod.name,
		token: mod.token,
		state: StateLoading,
		kv:    mod.kv, // scratch state survives the swap
	}

	compiled, instance, regs, err := e.buildInstance(ctx, shadow, bytecode)
	if err != nil {
		mod.state = StateReady
		e.log.Warn("reload failed, keeping old instance",
			zap.String("module", mod.name), zap.Error(err))
		return &ReloadError{Module: mod.name, Err: err}
	}

	oldInstance, oldCompiled := mod.instance, mod.compiled
	mod.instance = instance
	mod.compiled = compiled
	mod.failures = 0
	mod.state = StateReady
	e.systems.Replace(mod.name, regs)

	if oldInstance != nil {
		oldInstance.Close(ctx)
	}
	if oldCompiled != nil {
		oldCompiled.Close(ctx)
	}

	e.log.Info("module reloaded",
		zap.String("module", mod.name),
		zap.Int("systems", len(regs)))
	return nil
}

// State reports a module's lifecycle state. Unknown handles report
// StateUnloaded.
func (e *Engine) State(h Handle) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	mod, ok := e.modules[h.name]
	if !ok || mod.token != h.token {
		return StateUnloaded
	}
	return mod.state
}

// Modules returns the loaded module names.
func (e *Engine) Modules() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.modules))
	for name := range e.modules {
		names = append(names, name)
	}
	return names
}

// Close unloads every module and releases the sandbox runtime if the engine
// owns it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	for _, mod := range e.modules {
		e.removeLocked(ctx, mod)
	}

	if e.ownsRuntime {
		return e.guests.Close(ctx)
	}
	return nil
}

func (e *Engine) removeLocked(ctx context.Context, mod *module) {
	e.systems.Drop(mod.name)
	if mod.instance != nil {
		mod.instance.Close(ctx)
		mod.instance = nil
	}
	if mod.compiled != nil {
		mod.compiled.Close(ctx)
		mod.compiled = nil
	}
	mod.state = StateUnloaded
	delete(e.modules, mod.name)
}

// buildInstance runs the full load sequence: compile, instantiate with a
// setup-scoped host registry, call setup, and collect the registrations the
// guest declared. Nothing is published on failure.
func (e *Engine) buildInstance(ctx context.Context, mod *module, bytecode []byte) (GuestModule, GuestInstance, []system.Registration, error) {
	compiled, err := e.guests.Compile(ctx, bytecode)
	if err != nil {
		return nil, nil, nil, &CompileError{Module: mod.name, Err: err}
	}

	collector := &setupCollector{module: mod.name, open: true}
	instance, err := compiled.Instantiate(ctx, e.instanceRegistry(mod, collector))
	if err != nil {
		compiled.Close(ctx)
		return nil, nil, nil, &CompileError{Module: mod.name, Err: err}
	}

	setupCtx, cancel := e.callContext(ctx)
	err = instance.Setup(setupCtx)
	cancel()
	if err != nil {
		instance.Close(ctx)
		compiled.Close(ctx)
		return nil, nil, nil, &SetupTrapError{Module: mod.name, Err: err}
	}
	collector.open = false

	return compiled, instance, collector.regs, nil
}

// setupCollector receives register_system calls while a module's setup
// entrypoint runs.
type setupCollector struct {
	module string
	open   bool
	regs   []system.Registration
}

func (c *setupCollector) register(args map[string]any) error {
	if !c.open {
		return errors.New("register_system is only valid during setup")
	}

	// Re-marshal the generic args into the registration wire shape.
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}
	var reg system.Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("invalid registration: %w", err)
	}

	if reg.Name == "" {
		return errors.New("registration requires a system name")
	}
	if reg.Phase == "" {
		return errors.New("registration requires a schedule")
	}
	for _, prior := range c.regs {
		if prior.Phase == reg.Phase && prior.Name == reg.Name {
			return fmt.Errorf("system %q already registered in schedule %q", reg.Name, reg.Phase)
		}
	}

	c.regs = append(c.regs, reg)
	return nil
}

// instanceRegistry assembles the host capability surface for one instance:
// the engine's base registry, module-scoped logging (and KV when enabled),
// and the setup-scoped register_system entry.
func (e *Engine) instanceRegistry(mod *module, collector *setupCollector) *hostfunc.Registry {
	registry := e.hostFuncs.Clone()
	registry.Register("log", hostfunc.NewLog(e.log, mod.name))
	if mod.kv != nil {
		mod.kv.Bind(registry)
	}
	registry.Register("register_system", func(ctx context.Context, args map[string]any) (any, error) {
		if err := collector.register(args); err != nil {
			return nil, err
		}
		return "ok", nil
	})
	return registry
}

// callContext derives the context for one guest call, applying the
// configured call timeout. Expiry mid-call makes the sandbox close the
// instance, which is the only way to stop a running guest.
func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.callTimeout)
}
