// Package command implements the command buffer a guest call produces and
// the reconciler that applies it to the authoritative world store.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/caffeineduck/wasmod/world"
)

// OpKind tags one mutation operation.
type OpKind string

const (
	OpSpawn   OpKind = "spawn"
	OpDespawn OpKind = "despawn"
	OpInsert  OpKind = "insert"
	OpRemove  OpKind = "remove"
)

// ProvisionalID is a placeholder entity reference minted by a spawn op. It is
// only meaningful inside the buffer that created it and resolves to a real
// world id at apply time. Guests never choose real entity identifiers.
type ProvisionalID uint32

// EntityRef points at either a real world entity or a provisional one.
type EntityRef struct {
	provisional bool
	id          uint64
}

// Provisional references an entity spawned earlier in the same buffer.
func Provisional(id ProvisionalID) EntityRef {
	return EntityRef{provisional: true, id: uint64(id)}
}

// WorldEntity references an entity the guest saw in its query snapshot.
func WorldEntity(id world.EntityID) EntityRef {
	return EntityRef{id: uint64(id)}
}

func (r EntityRef) IsProvisional() bool { return r.provisional }

func (r EntityRef) String() string {
	if r.provisional {
		return fmt.Sprintf("provisional(%d)", r.id)
	}
	return fmt.Sprintf("world(%d)", r.id)
}

type entityRefWire struct {
	Provisional *ProvisionalID  `json:"provisional,omitempty"`
	World       *world.EntityID `json:"world,omitempty"`
}

func (r EntityRef) MarshalJSON() ([]byte, error) {
	var wire entityRefWire
	if r.provisional {
		id := ProvisionalID(r.id)
		wire.Provisional = &id
	} else {
		id := world.EntityID(r.id)
		wire.World = &id
	}
	return json.Marshal(wire)
}

func (r *EntityRef) UnmarshalJSON(data []byte) error {
	var wire entityRefWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	switch {
	case wire.Provisional != nil && wire.World == nil:
		*r = Provisional(*wire.Provisional)
	case wire.World != nil && wire.Provisional == nil:
		*r = WorldEntity(*wire.World)
	default:
		return fmt.Errorf("entity ref needs exactly one of %q or %q", "provisional", "world")
	}
	return nil
}

// Component is a serialized component payload keyed by its string type id.
type Component struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"value"`
}

// Op is one recorded mutation.
type Op struct {
	Kind OpKind

	// Spawn: the provisional id minted for the new entity plus its initial
	// components.
	Provisional ProvisionalID
	Components  []Component

	// Despawn, insert, remove: the target entity.
	Entity EntityRef

	// Insert: the payload. Remove: the component id only.
	Component   Component
	ComponentID string
}

// Buffer is an ordered, finite log of world mutations produced entirely
// within one guest call. It is produced by exactly one invocation and
// consumed by exactly one reconciler apply; it is not safe for concurrent
// use and must not be retained past the call that produced it.
type Buffer struct {
	ops  []Op
	next ProvisionalID
}

func NewBuffer() *Buffer {
	return &Buffer{next: 1}
}

// Spawn records a spawn and returns a provisional reference to the entity.
func (b *Buffer) Spawn(components ...Component) EntityRef {
	id := b.next
	b.next++
	b.ops = append(b.ops, Op{Kind: OpSpawn, Provisional: id, Components: components})
	return Provisional(id)
}

func (b *Buffer) Despawn(ref EntityRef) {
	b.ops = append(b.ops, Op{Kind: OpDespawn, Entity: ref})
}

func (b *Buffer) Insert(ref EntityRef, c Component) {
	b.ops = append(b.ops, Op{Kind: OpInsert, Entity: ref, Component: c})
}

func (b *Buffer) Remove(ref EntityRef, componentID string) {
	b.ops = append(b.ops, Op{Kind: OpRemove, Entity: ref, ComponentID: componentID})
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// Ops exposes the recorded log in order, for the reconciler.
func (b *Buffer) Ops() []Op { return b.ops }

type opWire struct {
	Op          OpKind          `json:"op"`
	ID          ProvisionalID   `json:"id,omitempty"`
	Components  []Component     `json:"components,omitempty"`
	Entity      json.RawMessage `json:"entity,omitempty"`
	Component   *Component      `json:"component,omitempty"`
	ComponentID string          `json:"component_id,omitempty"`
}

// MarshalJSON renders the buffer as the guest exchange format: a JSON array
// of tagged operation records.
func (b *Buffer) MarshalJSON() ([]byte, error) {
	wire := make([]opWire, 0, len(b.ops))
	for _, op := range b.ops {
		w := opWire{Op: op.Kind}
		switch op.Kind {
		case OpSpawn:
			w.ID = op.Provisional
			w.Components = op.Components
		case OpDespawn:
			entity, err := op.Entity.MarshalJSON()
			if err != nil {
				return nil, err
			}
			w.Entity = entity
		case OpInsert:
			entity, err := op.Entity.MarshalJSON()
			if err != nil {
				return nil, err
			}
			w.Entity = entity
			c := op.Component
			w.Component = &c
		case OpRemove:
			entity, err := op.Entity.MarshalJSON()
			if err != nil {
				return nil, err
			}
			w.Entity = entity
			w.ComponentID = op.ComponentID
		default:
			return nil, fmt.Errorf("unknown op kind %q", op.Kind)
		}
		wire = append(wire, w)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON parses the guest exchange format. Guest-chosen provisional
// ids are kept as-is; duplicates are rejected as malformed.
func (b *Buffer) UnmarshalJSON(data []byte) error {
	var wire []opWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ops := make([]Op, 0, len(wire))
	seen := make(map[ProvisionalID]bool)
	var next ProvisionalID = 1

	for i, w := range wire {
		op := Op{Kind: w.Op}
		switch w.Op {
		case OpSpawn:
			if w.ID == 0 {
				return fmt.Errorf("op %d: spawn requires a provisional id", i)
			}
			if seen[w.ID] {
				return fmt.Errorf("op %d: duplicate provisional id %d", i, w.ID)
			}
			seen[w.ID] = true
			if w.ID >= next {
				next = w.ID + 1
			}
			op.Provisional = w.ID
			op.Components = w.Components
		case OpDespawn:
			if err := op.Entity.UnmarshalJSON(w.Entity); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		case OpInsert:
			if err := op.Entity.UnmarshalJSON(w.Entity); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if w.Component == nil {
				return fmt.Errorf("op %d: insert requires a component", i)
			}
			op.Component = *w.Component
		case OpRemove:
			if err := op.Entity.UnmarshalJSON(w.Entity); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			if w.ComponentID == "" {
				return fmt.Errorf("op %d: remove requires a component id", i)
			}
			op.ComponentID = w.ComponentID
		default:
			return fmt.Errorf("op %d: unknown op kind %q", i, w.Op)
		}
		ops = append(ops, op)
	}

	b.ops = ops
	b.next = next
	return nil
}
