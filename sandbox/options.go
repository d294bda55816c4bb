package sandbox

import "go.uber.org/zap"

// Option configures the sandbox runtime at creation time.
type Option func(*config)

type config struct {
	cacheDir         string
	memoryLimitPages uint32
	log              *zap.Logger
}

func defaultConfig() config {
	return config{log: zap.NewNop()}
}

// WithDiskCache enables a persistent compilation cache in dir, avoiding
// recompilation of unchanged guest bytecode across host restarts.
func WithDiskCache(dir string) Option {
	return func(c *config) {
		c.cacheDir = dir
	}
}

// WithMemoryLimit caps guest memory. Each page is 64KB.
// Default is 0 (wazero default, up to 4GB).
func WithMemoryLimit(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithLogger sets the logger used for sandbox-level diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
)
