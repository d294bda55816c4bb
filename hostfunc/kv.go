package hostfunc

import (
	"context"
	"errors"
	"sync"
)

// KVStore is module-scoped scratch storage for guest code. State survives
// across system calls and hot reloads of the owning module, but is not
// shared between modules and is never persisted.
type KVStore struct {
	data map[string]string
	mu   sync.RWMutex
}

func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]string)}
}

func (s *KVStore) Get(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	return val, nil
}

func (s *KVStore) Set(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}
	val, ok := args["value"].(string)
	if !ok {
		return nil, errors.New("value required")
	}

	s.mu.Lock()
	s.data[key] = val
	s.mu.Unlock()

	return "ok", nil
}

func (s *KVStore) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, ok := args["key"].(string)
	if !ok {
		return nil, errors.New("key required")
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Bind registers the store's operations on a registry.
func (s *KVStore) Bind(registry *Registry) {
	registry.Register("kv_get", s.Get)
	registry.Register("kv_set", s.Set)
	registry.Register("kv_delete", s.Delete)
}
