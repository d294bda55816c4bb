package engine

import (
	"encoding/json"
	"fmt"

	"github.com/caffeineduck/wasmod/command"
	"github.com/caffeineduck/wasmod/system"
	"github.com/caffeineduck/wasmod/world"
)

// snapshotEnvelope is the input handed to a guest system: the phase and
// system being driven plus the query result computed from the live world.
type snapshotEnvelope struct {
	Phase    string           `json:"phase"`
	System   string           `json:"system"`
	Entities []entitySnapshot `json:"entities"`
}

type entitySnapshot struct {
	Entity     uint64              `json:"entity"`
	Components []componentSnapshot `json:"components"`
}

type componentSnapshot struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// resultEnvelope is what a guest system returns: an explicit outcome signal
// and, on success, a command buffer in its wire form.
type resultEnvelope struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Commands json.RawMessage `json:"commands,omitempty"`
}

// buildSnapshot computes one system's query result from the world. The
// snapshot carries only the components the registration declares, in the
// declared order; entities missing any declared component are excluded by
// the query itself. Stored payloads pass through untouched since they were
// validated by the registered codec when they entered the world.
func buildSnapshot(w world.World, phase string, reg system.Registration) ([]byte, error) {
	ids := make([]string, len(reg.Query))
	for i, term := range reg.Query {
		ids[i] = term.ComponentID
	}

	matched := w.Query(ids)
	entities := make([]entitySnapshot, 0, len(matched))
	for _, ent := range matched {
		byID := make(map[string][]byte, len(ent.Components))
		for _, c := range ent.Components {
			byID[c.ID] = c.Data
		}
		snap := entitySnapshot{
			Entity:     uint64(ent.ID),
			Components: make([]componentSnapshot, 0, len(ids)),
		}
		for _, id := range ids {
			snap.Components = append(snap.Components, componentSnapshot{
				ID:    id,
				Value: json.RawMessage(byID[id]),
			})
		}
		entities = append(entities, snap)
	}

	return json.Marshal(snapshotEnvelope{
		Phase:    phase,
		System:   reg.Name,
		Entities: entities,
	})
}

// parseResult decodes a guest system's output. A guest-reported failure
// comes back as a GuestFailure; a malformed envelope or command buffer is
// an error in its own right since it breaks the call contract.
func parseResult(moduleName, systemName string, raw []byte) (*command.Buffer, error) {
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("module %q system %q: malformed result envelope: %w", moduleName, systemName, err)
	}

	if !env.OK {
		return nil, &GuestFailure{Module: moduleName, System: systemName, Message: env.Error}
	}

	buf := command.NewBuffer()
	if len(env.Commands) > 0 {
		if err := json.Unmarshal(env.Commands, buf); err != nil {
			return nil, fmt.Errorf("module %q system %q: malformed command buffer: %w", moduleName, systemName, err)
		}
	}
	return buf, nil
}
