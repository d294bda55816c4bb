package component

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateIncompatibleType is returned when an identifier is registered
// twice with codecs that do not agree.
var ErrDuplicateIncompatibleType = errors.New("component identifier already registered with a different codec")

// ErrUnknownType is returned when an identifier has no registered codec.
var ErrUnknownType = errors.New("unknown component type")

// Codec serializes one component type. Encode and Decode are pure; a decode
// failure is always recoverable by the caller.
type Codec interface {
	// Name identifies the codec. Two registrations for the same component
	// identifier are compatible exactly when their codec names match.
	Name() string

	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Registry maps stable string component identifiers to codecs. Entries are
// immutable once registered and shared by the whole host.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register binds id to codec. Registering the same id with an identical codec
// is a no-op; a mismatched codec fails with ErrDuplicateIncompatibleType.
func (r *Registry) Register(id string, codec Codec) error {
	if id == "" {
		return errors.New("component identifier required")
	}
	if codec == nil {
		return errors.New("codec required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.codecs[id]; ok {
		if existing.Name() != codec.Name() {
			return fmt.Errorf("%q: %w (have %q, got %q)", id, ErrDuplicateIncompatibleType, existing.Name(), codec.Name())
		}
		return nil
	}

	r.codecs[id] = codec
	return nil
}

// Lookup returns the codec for id.
func (r *Registry) Lookup(id string) (Codec, bool) {
	r.mu.RLock()
	codec, ok := r.codecs[id]
	r.mu.RUnlock()
	return codec, ok
}

// Encode serializes value under the codec registered for id.
func (r *Registry) Encode(id string, value any) ([]byte, error) {
	codec, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownType)
	}
	return codec.Encode(value)
}

// Decode deserializes data under the codec registered for id.
func (r *Registry) Decode(id string, data []byte) (any, error) {
	codec, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownType)
	}
	return codec.Decode(data)
}

// List returns the registered identifiers in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.codecs))
	for id := range r.codecs {
		ids = append(ids, id)
	}
	return ids
}
