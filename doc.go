// Package wasmod embeds untrusted WebAssembly guest modules into a host
// application's entity-component world.
//
// # Overview
//
// Guest modules run inside isolated WASM instances with zero default
// capabilities. A module registers systems during its one-time setup call;
// each frame the host snapshots the world state a system asked for, invokes
// the guest, and merges the command buffer it returns back into the world
// under exclusive access. Guests never hold live references to host data.
//
// # Basic Usage
//
//	types := component.NewRegistry()
//	types.Register("game.position", component.JSON("game.position"))
//
//	eng, _ := engine.New(ctx, world.NewMemWorld(), types)
//	defer eng.Close(ctx)
//
//	handle, err := eng.Load(ctx, "physics", wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Once per frame, at each schedule point:
//	report, _ := eng.RunPhase(ctx, system.PhaseUpdate)
//
//	// Hot reload: the old instance keeps running if the new one fails.
//	if err := eng.Reload(ctx, handle, newBytes); err != nil {
//	    log.Printf("reload failed: %v", err)
//	}
//
// # Failure Isolation
//
// A system that traps is reported in the phase result and the rest of the
// phase still runs. Malformed command-buffer operations are skipped and
// recorded against the module that produced them. Nothing in this module
// terminates the host process.
//
// See the [engine], [sandbox], [command], [world], [component], [system],
// and [hostfunc] packages for detailed API documentation.
package wasmod
