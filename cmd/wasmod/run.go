package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/wasmod/engine"
	"github.com/caffeineduck/wasmod/system"
	"github.com/caffeineduck/wasmod/world"
)

var runCmd = &cobra.Command{
	Use:   "run [module.wasm...]",
	Short: "Load modules and drive their systems for a number of frames",
	Long: `Load one or more WASM modules into a fresh in-memory world and run
their registered systems.

Each frame runs the pre-update, update, and post-update phases in order;
the startup phase runs once before the first frame. The resulting world
state is printed as JSON.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRun,
}

func init() {
	runCmd.Flags().Int("frames", 1, "Number of frames to run")
	runCmd.Flags().StringSlice("phase", nil, "Run only these phases each frame (default: pre-update,update,post-update)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	log := newLogger(cmd)

	types, err := newTypeRegistry(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := world.NewMemWorld()
	eng, err := engine.New(ctx, w, types, engineOptions(cmd, log)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer eng.Close(ctx)

	for _, path := range args {
		bytecode, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		name := moduleName(path)
		if _, err := eng.Load(ctx, name, bytecode); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
			os.Exit(1)
		}
		if err := registerQueriedTypes(eng, name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	frames, _ := cmd.Flags().GetInt("frames")
	phases, _ := cmd.Flags().GetStringSlice("phase")
	if len(phases) == 0 {
		phases = []string{system.PhasePreUpdate, system.PhaseUpdate, system.PhasePostUpdate}
	}

	failed := false
	runPhase := func(phase string) {
		report, err := eng.RunPhase(ctx, phase)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, res := range report.Failed() {
			failed = true
			fmt.Fprintf(os.Stderr, "Error: %s/%s: %v\n", res.Module, res.System, res.Err)
		}
	}

	runPhase(system.PhaseStartup)
	for frame := 0; frame < frames; frame++ {
		for _, phase := range phases {
			runPhase(phase)
		}
	}

	if err := dumpWorld(os.Stdout, w); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

// dumpWorld writes the world as JSON, entities in spawn order.
func dumpWorld(out *os.File, w *world.MemWorld) error {
	type entityDump struct {
		Entity     uint64                     `json:"entity"`
		Components map[string]json.RawMessage `json:"components"`
	}

	dump := make([]entityDump, 0, w.Len())
	for _, id := range w.Entities() {
		components := make(map[string]json.RawMessage)
		for _, cid := range w.ComponentIDs(id) {
			data, _ := w.Get(id, cid)
			components[cid] = json.RawMessage(data)
		}
		dump = append(dump, entityDump{Entity: uint64(id), Components: components})
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
