package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/wasmod/component"
	"github.com/caffeineduck/wasmod/engine"
	"github.com/caffeineduck/wasmod/sandbox"
)

var rootCmd = &cobra.Command{
	Use:   "wasmod",
	Short: "Host for sandboxed WASM world modules",
	Long: `wasmod - Load untrusted WASM modules that read and mutate an
entity-component world through a narrow capability interface.

Modules register systems during setup; each frame the host snapshots the
world per system, invokes the guest, and applies the command buffers it
returns. Guests never touch host memory directly.`,
}

// envConfig holds defaults sourced from the environment; flags override.
type envConfig struct {
	Workers  int           `env:"WASMOD_WORKERS" envDefault:"4"`
	Timeout  time.Duration `env:"WASMOD_TIMEOUT"`
	History  string        `env:"WASMOD_HISTORY"`
	CacheDir string        `env:"WASMOD_CACHE" envDefault:".wasmod/cache"`
}

var cfg envConfig

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().Int("workers", cfg.Workers, "Parallel guest invocations per phase")
	rootCmd.PersistentFlags().Duration("timeout", cfg.Timeout, "Per-call timeout (0 = unlimited; expiry kills the instance)")
	rootCmd.PersistentFlags().String("memory", "256mb", "Guest memory limit: 1mb, 16mb, 64mb, 256mb")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable compilation cache")
	rootCmd.PersistentFlags().Bool("kv", false, "Give each module a key-value scratch store")
	rootCmd.PersistentFlags().StringSlice("component", nil, "Pre-register a JSON component type (repeatable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log engine activity to stderr")
}

func newLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	logCfg := zap.NewDevelopmentConfig()
	log, err := logCfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return sandbox.MemoryLimit1MB
	case "16mb":
		return sandbox.MemoryLimit16MB
	case "64mb":
		return sandbox.MemoryLimit64MB
	case "256mb":
		return sandbox.MemoryLimit256MB
	default:
		return 0 // wazero default
	}
}

func engineOptions(cmd *cobra.Command, log *zap.Logger) []engine.Option {
	workers, _ := cmd.Flags().GetInt("workers")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	memory, _ := cmd.Flags().GetString("memory")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	enableKV, _ := cmd.Flags().GetBool("kv")

	var sandboxOpts []sandbox.Option
	if !noCache {
		sandboxOpts = append(sandboxOpts, sandbox.WithDiskCache(cfg.CacheDir))
	}
	if pages := parseMemoryLimit(memory); pages > 0 {
		sandboxOpts = append(sandboxOpts, sandbox.WithMemoryLimit(pages))
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithWorkers(workers),
		engine.WithSandboxOptions(sandboxOpts...),
	}
	if timeout > 0 {
		opts = append(opts, engine.WithCallTimeout(timeout))
	}
	if enableKV {
		opts = append(opts, engine.WithModuleKV())
	}
	return opts
}

// newTypeRegistry pre-registers schema-free JSON codecs for the ids named
// on the command line. Ids a module queries get registered automatically at
// load time; this flag covers ids that are only ever spawned.
func newTypeRegistry(cmd *cobra.Command) (*component.Registry, error) {
	types := component.NewRegistry()
	ids, _ := cmd.Flags().GetStringSlice("component")
	for _, id := range ids {
		if err := types.Register(id, component.JSON(id)); err != nil {
			return nil, fmt.Errorf("component %q: %w", id, err)
		}
	}
	return types, nil
}

// registerQueriedTypes gives every component id the module's systems query
// a JSON codec, so snapshots and inserts for those ids validate.
func registerQueriedTypes(eng *engine.Engine, moduleName string) error {
	for _, reg := range eng.Systems().ForModule(moduleName) {
		for _, term := range reg.Query {
			if err := eng.Types().Register(term.ComponentID, component.JSON(term.ComponentID)); err != nil {
				return fmt.Errorf("component %q: %w", term.ComponentID, err)
			}
		}
	}
	return nil
}

// moduleName derives a stable module identifier from a bytecode path.
func moduleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
