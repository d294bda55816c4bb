package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/wasmod/hostfunc"
	"github.com/caffeineduck/wasmod/sandbox"
)

// Option configures the Engine at creation time.
type Option func(*config)

type config struct {
	log         *zap.Logger
	workers     int
	callTimeout time.Duration
	hostFuncs   *hostfunc.Registry
	guests      GuestRuntime
	sandboxOpts []sandbox.Option
	moduleKV    bool
}

func defaultEngineConfig() config {
	return config{
		log:     zap.NewNop(),
		workers: 4,
	}
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithWorkers bounds how many guest systems run in parallel within one
// phase. Systems of the same module instance never overlap regardless.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithCallTimeout bounds each guest call. Expiry closes the instance (the
// sandbox cannot interrupt a running guest any other way), after which the
// module reports failed until reloaded. Default is no limit: a hung guest
// then blocks only the worker evaluating it.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) {
		c.callTimeout = d
	}
}

// WithHostFuncs sets the base capability registry cloned into every guest
// instance.
func WithHostFuncs(r *hostfunc.Registry) Option {
	return func(c *config) {
		c.hostFuncs = r
	}
}

// WithGuestRuntime substitutes the sandbox layer. Used by hosts embedding
// their own runtime and by tests.
func WithGuestRuntime(rt GuestRuntime) Option {
	return func(c *config) {
		c.guests = rt
	}
}

// WithSandboxOptions forwards options to the sandbox runtime the engine
// creates. Ignored when WithGuestRuntime is used.
func WithSandboxOptions(opts ...sandbox.Option) Option {
	return func(c *config) {
		c.sandboxOpts = append(c.sandboxOpts, opts...)
	}
}

// WithModuleKV gives each module a private key-value scratch store
// (kv_get/kv_set/kv_delete) that survives hot reloads.
func WithModuleKV() Option {
	return func(c *config) {
		c.moduleKV = true
	}
}
