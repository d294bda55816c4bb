package engine

import (
	"context"

	"github.com/caffeineduck/wasmod/hostfunc"
	"github.com/caffeineduck/wasmod/sandbox"
)

// GuestRuntime abstracts the sandbox layer the engine drives. The default
// is the wazero-backed sandbox package; tests substitute in-process fakes.
type GuestRuntime interface {
	Compile(ctx context.Context, bytecode []byte) (GuestModule, error)
	Close(ctx context.Context) error
}

// GuestModule is one compiled guest artifact.
type GuestModule interface {
	Instantiate(ctx context.Context, calls *hostfunc.Registry) (GuestInstance, error)
	Close(ctx context.Context) error
}

// GuestInstance is one live instantiation. Implementations must not allow
// concurrent entry; the sandbox package serializes internally.
type GuestInstance interface {
	Setup(ctx context.Context) error
	Invoke(ctx context.Context, systemName string, input []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// WASMRuntime adapts sandbox.Runtime to GuestRuntime.
func WASMRuntime(rt *sandbox.Runtime) GuestRuntime {
	return wasmRuntime{rt: rt}
}

type wasmRuntime struct {
	rt *sandbox.Runtime
}

func (w wasmRuntime) Compile(ctx context.Context, bytecode []byte) (GuestModule, error) {
	compiled, err := w.rt.Compile(ctx, bytecode)
	if err != nil {
		return nil, err
	}
	return wasmModule{compiled: compiled}, nil
}

func (w wasmRuntime) Close(ctx context.Context) error {
	return w.rt.Close(ctx)
}

type wasmModule struct {
	compiled *sandbox.Compiled
}

func (m wasmModule) Instantiate(ctx context.Context, calls *hostfunc.Registry) (GuestInstance, error) {
	return m.compiled.Instantiate(ctx, calls)
}

func (m wasmModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
