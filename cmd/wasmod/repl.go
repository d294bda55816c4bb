package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/wasmod/engine"
	"github.com/caffeineduck/wasmod/world"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive session against a persistent world",
	Long: `Start an interactive session. Modules stay loaded and the world
persists between commands, so systems can be driven phase by phase while
modules are hot-reloaded.

Commands:
  load <name> <file.wasm>     load a module
  reload <name> <file.wasm>   hot-reload a module (old instance kept on failure)
  unload <name>               unload a module
  phase <id>                  run one schedule phase
  modules                     list loaded modules
  systems                     list registered systems
  world                       dump world state
  exit                        quit

Type 'exit' or press Ctrl+D to end the session.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.wasmod_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	log := newLogger(cmd)

	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		historyFile = cfg.History
	}
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".wasmod_history")
	}

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

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "wasmod> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stderr, "wasmod REPL (type 'help' for commands, Ctrl+D to exit)")

	handles := make(map[string]engine.Handle)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			break
		}

		if err := replDispatch(ctx, eng, w, handles, fields); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

func replDispatch(ctx context.Context, eng *engine.Engine, w *world.MemWorld, handles map[string]engine.Handle, fields []string) error {
	switch fields[0] {
	case "help":
		fmt.Println("load <name> <file>  reload <name> <file>  unload <name>")
		fmt.Println("phase <id>  modules  systems  world  exit")
		return nil

	case "load":
		if len(fields) != 3 {
			return fmt.Errorf("usage: load <name> <file.wasm>")
		}
		bytecode, err := os.ReadFile(fields[2])
		if err != nil {
			return err
		}
		h, err := eng.Load(ctx, fields[1], bytecode)
		if err != nil {
			return err
		}
		handles[fields[1]] = h
		if err := registerQueriedTypes(eng, fields[1]); err != nil {
			return err
		}
		fmt.Printf("loaded %s (%d systems)\n", fields[1], len(eng.Systems().ForModule(fields[1])))
		return nil

	case "reload":
		if len(fields) != 3 {
			return fmt.Errorf("usage: reload <name> <file.wasm>")
		}
		h, ok := handles[fields[1]]
		if !ok {
			return fmt.Errorf("module %q not loaded", fields[1])
		}
		bytecode, err := os.ReadFile(fields[2])
		if err != nil {
			return err
		}
		if err := eng.Reload(ctx, h, bytecode); err != nil {
			return err
		}
		if err := registerQueriedTypes(eng, fields[1]); err != nil {
			return err
		}
		fmt.Printf("reloaded %s\n", fields[1])
		return nil

	case "unload":
		if len(fields) != 2 {
			return fmt.Errorf("usage: unload <name>")
		}
		h, ok := handles[fields[1]]
		if !ok {
			return fmt.Errorf("module %q not loaded", fields[1])
		}
		if err := eng.Unload(ctx, h); err != nil {
			return err
		}
		delete(handles, fields[1])
		fmt.Printf("unloaded %s\n", fields[1])
		return nil

	case "phase":
		if len(fields) != 2 {
			return fmt.Errorf("usage: phase <id>")
		}
		report, err := eng.RunPhase(ctx, fields[1])
		if err != nil {
			return err
		}
		for _, res := range report.Results {
			status := "ok"
			if res.Err != nil {
				status = res.Err.Error()
			}
			fmt.Printf("%s/%s: %s (applied %d, skipped %d, %s)\n",
				res.Module, res.System, status, res.Applied, res.Skipped, res.Duration)
		}
		return nil

	case "modules":
		for name := range handles {
			h := handles[name]
			fmt.Printf("%s: %s\n", name, eng.State(h))
		}
		return nil

	case "systems":
		for name := range handles {
			for _, reg := range eng.Systems().ForModule(name) {
				ids := make([]string, len(reg.Query))
				for i, term := range reg.Query {
					ids[i] = term.ComponentID
				}
				fmt.Printf("%s/%s @ %s [%s]\n", reg.Module, reg.Name, reg.Phase, strings.Join(ids, ", "))
			}
		}
		return nil

	case "world":
		return dumpWorld(os.Stdout, w)

	default:
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}
}
