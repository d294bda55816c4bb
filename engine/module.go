package engine

import (
	"github.com/google/uuid"

	"github.com/caffeineduck/wasmod/hostfunc"
)

// State is a module's lifecycle position.
type State int

const (
	StateLoading State = iota
	StateReady
	StateReloading
	StateFailed
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	case StateFailed:
		return "failed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// Handle names a loaded module. It stays valid across reloads of the module
// and is invalidated by unload; holding a handle across an unload and a
// fresh load of the same name yields ErrStaleHandle, never a mixup.
type Handle struct {
	name  string
	token uuid.UUID
}

func (h Handle) Name() string { return h.name }

// module is the engine-internal record for one loaded guest unit.
// All fields are guarded by the engine mutex.
type module struct {
	name  string
	token uuid.UUID
	state State

	compiled GuestModule
	instance GuestInstance

	// kv survives reloads so guests keep their scratch state across a swap.
	kv *hostfunc.KVStore

	// consecutive invocation failures, for reporting only; the engine never
	// auto-disables a misbehaving system.
	failures int
}

func (m *module) handle() Handle {
	return Handle{name: m.name, token: m.token}
}
