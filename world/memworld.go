package world

import "sync"

// MemWorld is an in-memory World. It is the reference store used by the CLI
// and the test suites; hosts with their own entity store implement World
// directly.
type MemWorld struct {
	mu       sync.RWMutex
	nextID   EntityID
	order    []EntityID
	entities map[EntityID]map[string][]byte
}

func NewMemWorld() *MemWorld {
	return &MemWorld{
		nextID:   1,
		entities: make(map[EntityID]map[string][]byte),
	}
}

// Query returns entities holding all of componentIDs, in spawn order.
func (w *MemWorld) Query(componentIDs []string) []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []Entity
	for _, id := range w.order {
		components := w.entities[id]
		row := Entity{ID: id, Components: make([]ComponentData, 0, len(componentIDs))}
		matched := true
		for _, cid := range componentIDs {
			data, ok := components[cid]
			if !ok {
				matched = false
				break
			}
			row.Components = append(row.Components, ComponentData{ID: cid, Data: cloneBytes(data)})
		}
		if matched {
			out = append(out, row)
		}
	}
	return out
}

func (w *MemWorld) Spawn(components []ComponentData) EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++

	set := make(map[string][]byte, len(components))
	for _, c := range components {
		set[c.ID] = cloneBytes(c.Data)
	}
	w.entities[id] = set
	w.order = append(w.order, id)
	return id
}

func (w *MemWorld) Despawn(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.entities[id]; !ok {
		return
	}
	delete(w.entities, id)
	for i, other := range w.order {
		if other == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

func (w *MemWorld) Insert(id EntityID, componentID string, data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	components, ok := w.entities[id]
	if !ok {
		return
	}
	components[componentID] = cloneBytes(data)
}

func (w *MemWorld) Remove(id EntityID, componentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if components, ok := w.entities[id]; ok {
		delete(components, componentID)
	}
}

// Len reports the number of live entities.
func (w *MemWorld) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

// Get returns a copy of one component payload, for inspection.
func (w *MemWorld) Get(id EntityID, componentID string) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	components, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	data, ok := components[componentID]
	if !ok {
		return nil, false
	}
	return cloneBytes(data), true
}

// Entities returns the live entity ids in spawn order.
func (w *MemWorld) Entities() []EntityID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]EntityID(nil), w.order...)
}

// ComponentIDs returns the component ids held by an entity, unordered.
func (w *MemWorld) ComponentIDs(id EntityID) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	components, ok := w.entities[id]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(components))
	for cid := range components {
		ids = append(ids, cid)
	}
	return ids
}

func cloneBytes(data []byte) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
