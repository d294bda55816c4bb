package engine

import (
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("engine closed")

	// ErrModuleExists is returned by Load when the name is taken.
	ErrModuleExists = errors.New("module already loaded")

	// ErrStaleHandle marks a handle that no longer refers to a live module,
	// for example one kept across an unload and a fresh load of the same name.
	ErrStaleHandle = errors.New("stale module handle")
)

// CompileError: the bytecode is malformed or does not satisfy the guest
// interface contract.
type CompileError struct {
	Module string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("module %q: compile: %v", e.Module, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// SetupTrapError: the guest faulted inside its setup entrypoint. No systems
// from the module were registered.
type SetupTrapError struct {
	Module string
	Err    error
}

func (e *SetupTrapError) Error() string {
	return fmt.Sprintf("module %q: setup: %v", e.Module, e.Err)
}

func (e *SetupTrapError) Unwrap() error { return e.Err }

// InvocationTrapError: the guest faulted inside a system call. The phase
// continues; the failure is reported against the originating system.
type InvocationTrapError struct {
	Module string
	System string
	Err    error
}

func (e *InvocationTrapError) Error() string {
	return fmt.Sprintf("module %q system %q: %v", e.Module, e.System, e.Err)
}

func (e *InvocationTrapError) Unwrap() error { return e.Err }

// GuestFailure: the system ran to completion and reported failure through
// the result envelope. Not a trap; the instance stays healthy.
type GuestFailure struct {
	Module  string
	System  string
	Message string
}

func (e *GuestFailure) Error() string {
	return fmt.Sprintf("module %q system %q reported failure: %s", e.Module, e.System, e.Message)
}

// ReloadError: the shadow instantiation failed. The previously running
// instance remains authoritative.
type ReloadError struct {
	Module string
	Err    error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("module %q: reload: %v", e.Module, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }
