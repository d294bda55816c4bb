package command

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/wasmod/component"
	"github.com/caffeineduck/wasmod/world"
)

// ErrSchemaMismatch marks a payload that failed to deserialize under the
// codec registered for its component id.
var ErrSchemaMismatch = errors.New("schema mismatch")

// OrderingError reports an operation that referenced a provisional entity
// before the spawn that mints it. The buffer's remaining operations are
// aborted; already-applied operations stay committed.
type OrderingError struct {
	Index int
	Ref   ProvisionalID
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("op %d references provisional entity %d before its spawn", e.Index, e.Ref)
}

// OpError records one skipped operation or component payload.
type OpError struct {
	Index       int
	Kind        OpKind
	ComponentID string
	Err         error
}

func (e OpError) Error() string {
	return fmt.Sprintf("op %d (%s %s): %v", e.Index, e.Kind, e.ComponentID, e.Err)
}

// Report is the outcome of applying one buffer. Partial application is
// explicit: Applied counts committed operations, Skipped lists recoverable
// per-op failures, and Err is set only when the buffer was aborted.
type Report struct {
	Applied int
	Skipped []OpError
	Err     error
}

func (r *Report) skip(index int, kind OpKind, componentID string, err error) {
	r.Skipped = append(r.Skipped, OpError{Index: index, Kind: kind, ComponentID: componentID, Err: err})
}

// Reconciler validates and applies command buffers against a world store.
// Apply assumes the caller holds the world's exclusive write window; the
// reconciler itself carries no locks.
type Reconciler struct {
	types *component.Registry
}

func NewReconciler(types *component.Registry) *Reconciler {
	return &Reconciler{types: types}
}

// Apply executes buf's operations against w in recorded order.
//
// Insert and spawn payloads must deserialize under the codec registered for
// their component id; a payload that does not is skipped and recorded, never
// fatal to the rest of the buffer. A spawn whose components all fail
// validation still spawns the entity so later references to its provisional
// id stay resolvable. Despawn and remove of missing targets are silent
// no-ops. Only an unresolvable provisional reference aborts the buffer.
func (r *Reconciler) Apply(buf *Buffer, w world.World) Report {
	var report Report
	if buf.Len() == 0 {
		return report
	}

	resolved := make(map[ProvisionalID]world.EntityID)

	for i, op := range buf.Ops() {
		switch op.Kind {
		case OpSpawn:
			valid := make([]world.ComponentData, 0, len(op.Components))
			for _, c := range op.Components {
				if err := r.validate(c); err != nil {
					report.skip(i, op.Kind, c.ID, err)
					continue
				}
				valid = append(valid, world.ComponentData{ID: c.ID, Data: c.Data})
			}
			resolved[op.Provisional] = w.Spawn(valid)
			report.Applied++

		case OpDespawn:
			id, err := resolve(op.Entity, resolved, i)
			if err != nil {
				report.Err = err
				return report
			}
			w.Despawn(id)
			report.Applied++

		case OpInsert:
			id, err := resolve(op.Entity, resolved, i)
			if err != nil {
				report.Err = err
				return report
			}
			if err := r.validate(op.Component); err != nil {
				report.skip(i, op.Kind, op.Component.ID, err)
				continue
			}
			w.Insert(id, op.Component.ID, op.Component.Data)
			report.Applied++

		case OpRemove:
			id, err := resolve(op.Entity, resolved, i)
			if err != nil {
				report.Err = err
				return report
			}
			w.Remove(id, op.ComponentID)
			report.Applied++

		default:
			report.skip(i, op.Kind, "", fmt.Errorf("unknown op kind %q", op.Kind))
		}
	}

	return report
}

func (r *Reconciler) validate(c Component) error {
	codec, ok := r.types.Lookup(c.ID)
	if !ok {
		return fmt.Errorf("%q: %w", c.ID, component.ErrUnknownType)
	}
	if _, err := codec.Decode(c.Data); err != nil {
		return fmt.Errorf("%q: %w: %v", c.ID, ErrSchemaMismatch, err)
	}
	return nil
}

func resolve(ref EntityRef, resolved map[ProvisionalID]world.EntityID, index int) (world.EntityID, error) {
	if !ref.provisional {
		return world.EntityID(ref.id), nil
	}
	id, ok := resolved[ProvisionalID(ref.id)]
	if !ok {
		return 0, &OrderingError{Index: index, Ref: ProvisionalID(ref.id)}
	}
	return id, nil
}
