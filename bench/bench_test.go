// Package bench measures the hot paths of the guest invocation bridge:
// world queries, command buffer decode, reconciler apply, and full phases
// driven through the engine with in-process guests.
//
// Run with: go test -bench=. ./bench/
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/caffeineduck/wasmod/command"
	"github.com/caffeineduck/wasmod/component"
	"github.com/caffeineduck/wasmod/engine"
	"github.com/caffeineduck/wasmod/hostfunc"
	"github.com/caffeineduck/wasmod/system"
	"github.com/caffeineduck/wasmod/world"
)

func newTypes(b *testing.B) *component.Registry {
	types := component.NewRegistry()
	if err := types.Register("position", component.JSON("position")); err != nil {
		b.Fatal(err)
	}
	if err := types.Register("velocity", component.JSON("velocity")); err != nil {
		b.Fatal(err)
	}
	return types
}

func populate(w *world.MemWorld, n int) {
	for i := 0; i < n; i++ {
		w.Spawn([]world.ComponentData{
			{ID: "position", Data: []byte(fmt.Sprintf(`{"x":"%d","y":"%d"}`, i, i))},
			{ID: "velocity", Data: []byte(`{"dx":"1","dy":"0"}`)},
		})
	}
}

// --- World query ---

func BenchmarkWorldQuery_1000Entities(b *testing.B) {
	w := world.NewMemWorld()
	populate(w, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Query([]string{"position", "velocity"})
	}
}

// --- Command buffer wire decode ---

func BenchmarkCommandBufferDecode_100Ops(b *testing.B) {
	buf := command.NewBuffer()
	for i := 0; i < 50; i++ {
		ref := buf.Spawn(command.Component{ID: "position", Data: json.RawMessage(`{"x":"0","y":"0"}`)})
		buf.Insert(ref, command.Component{ID: "velocity", Data: json.RawMessage(`{"dx":"1","dy":"1"}`)})
	}
	wire, err := json.Marshal(buf)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoded := command.NewBuffer()
		if err := json.Unmarshal(wire, decoded); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Reconciler apply ---

func BenchmarkReconcilerApply_100Ops(b *testing.B) {
	types := newTypes(b)
	rec := command.NewReconciler(types)

	buf := command.NewBuffer()
	for i := 0; i < 50; i++ {
		ref := buf.Spawn(command.Component{ID: "position", Data: json.RawMessage(`{"x":"0","y":"0"}`)})
		buf.Despawn(ref)
	}

	w := world.NewMemWorld()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		report := rec.Apply(buf, w)
		if report.Err != nil {
			b.Fatal(report.Err)
		}
	}
}

// --- Full phase through the engine with in-process guests ---

type benchGuest struct {
	run func(input []byte) ([]byte, error)
}

type benchRuntime struct {
	guests map[string]*benchGuest
}

func (r *benchRuntime) Compile(ctx context.Context, bytecode []byte) (engine.GuestModule, error) {
	g, ok := r.guests[string(bytecode)]
	if !ok {
		return nil, errors.New("unknown guest")
	}
	return &benchModule{guest: g}, nil
}

func (r *benchRuntime) Close(ctx context.Context) error { return nil }

type benchModule struct{ guest *benchGuest }

func (m *benchModule) Instantiate(ctx context.Context, calls *hostfunc.Registry) (engine.GuestInstance, error) {
	return &benchInstance{guest: m.guest, calls: calls}, nil
}

func (m *benchModule) Close(ctx context.Context) error { return nil }

type benchInstance struct {
	guest *benchGuest
	calls *hostfunc.Registry
}

func (i *benchInstance) Setup(ctx context.Context) error {
	register, ok := i.calls.Get("register_system")
	if !ok {
		return errors.New("register_system not provided")
	}
	_, err := register(ctx, map[string]any{
		"schedule": system.PhaseUpdate,
		"name":     "tick",
		"query":    []any{map[string]any{"component": "position"}},
	})
	return err
}

func (i *benchInstance) Invoke(ctx context.Context, name string, input []byte) ([]byte, error) {
	return i.guest.run(input)
}

func (i *benchInstance) Close(ctx context.Context) error { return nil }

func newBenchEngine(b *testing.B, modules int, run func(input []byte) ([]byte, error)) (*engine.Engine, *world.MemWorld) {
	b.Helper()
	ctx := context.Background()

	rt := &benchRuntime{guests: map[string]*benchGuest{"guest": {run: run}}}
	w := world.NewMemWorld()
	eng, err := engine.New(ctx, w, newTypes(b), engine.WithGuestRuntime(rt))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = eng.Close(ctx) })

	for m := 0; m < modules; m++ {
		if _, err := eng.Load(ctx, fmt.Sprintf("mod-%d", m), []byte("guest")); err != nil {
			b.Fatal(err)
		}
	}
	return eng, w
}

func BenchmarkRunPhase_ReadOnly_4Modules(b *testing.B) {
	eng, w := newBenchEngine(b, 4, func(input []byte) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})
	populate(w, 100)

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.RunPhase(ctx, system.PhaseUpdate); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRunPhase_SpawnDespawn_4Modules(b *testing.B) {
	// Each system spawns and despawns within one buffer so the world size
	// stays flat across iterations.
	eng, _ := newBenchEngine(b, 4, func(input []byte) ([]byte, error) {
		buf := command.NewBuffer()
		ref := buf.Spawn(command.Component{ID: "position", Data: json.RawMessage(`{"x":"0","y":"0"}`)})
		buf.Despawn(ref)
		wire, err := json.Marshal(buf)
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf(`{"ok":true,"commands":%s}`, wire)), nil
	})

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.RunPhase(ctx, system.PhaseUpdate); err != nil {
			b.Fatal(err)
		}
	}
}
