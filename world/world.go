// Package world defines the narrow read/write surface the bridge uses
// against the host's authoritative entity-component store, plus an in-memory
// reference implementation.
package world

// EntityID identifies one entity in the world. Identifiers are allocated by
// the store; guests only ever see them through query snapshots.
type EntityID uint64

// ComponentData is one serialized component payload, self-describing via its
// string identifier.
type ComponentData struct {
	ID   string
	Data []byte
}

// Entity is one row of a query result: an entity plus the requested
// components in request order.
type Entity struct {
	ID         EntityID
	Components []ComponentData
}

// World is the authoritative store contract.
//
// The bridge depends on these semantics:
//   - Query matches entities that hold every requested component id and
//     returns the requested components in request order. The result is a
//     snapshot; mutating the world afterwards does not change it.
//   - Spawn allocates a fresh EntityID, never reusing a live one.
//   - Despawn and Remove of a missing entity or component are silent no-ops.
//   - Insert overwrites an existing component of the same id; inserting on a
//     despawned or unknown entity is a silent no-op.
type World interface {
	Query(componentIDs []string) []Entity
	Spawn(components []ComponentData) EntityID
	Despawn(id EntityID)
	Insert(id EntityID, componentID string, data []byte)
	Remove(id EntityID, componentID string)
}
