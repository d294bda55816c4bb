// Package system tracks which guest systems run in which schedule phase.
package system

import "sync"

// Conventional phase names. The engine treats phase ids as opaque strings;
// hosts are free to define their own.
const (
	PhaseStartup    = "startup"
	PhasePreUpdate  = "pre-update"
	PhaseUpdate     = "update"
	PhasePostUpdate = "post-update"
)

// QueryTerm names one component a system wants in its snapshot, with intent.
type QueryTerm struct {
	ComponentID string `json:"component"`
	Write       bool   `json:"write,omitempty"`
}

// Registration is one (module, phase, system) entry with its declared query
// shape. Entries are created during a module's setup call and replaced
// wholesale on every successful reload.
type Registration struct {
	Module string      `json:"-"`
	Phase  string      `json:"schedule"`
	Name   string      `json:"name"`
	Query  []QueryTerm `json:"query"`
}

// Registry is the in-memory table the invocation engine iterates each phase.
// Entries for a phase come back in registration order: module load order
// first, in-module declaration order second. No further ordering between
// systems is guaranteed.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	modules map[string][]Registration
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string][]Registration)}
}

// Replace swaps a module's entire entry set transactionally. A module being
// reloaded keeps its position in the load order.
func (r *Registry) Replace(moduleID string, regs []Registration) {
	entries := make([]Registration, len(regs))
	copy(entries, regs)
	for i := range entries {
		entries[i].Module = moduleID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[moduleID]; !ok {
		r.order = append(r.order, moduleID)
	}
	r.modules[moduleID] = entries
}

// Drop removes all of a module's entries; idempotent.
func (r *Registry) Drop(moduleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[moduleID]; !ok {
		return
	}
	delete(r.modules, moduleID)
	for i, id := range r.order {
		if id == moduleID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ForPhase returns the registrations active in a phase. The slice is a copy;
// callers may iterate it while the registry changes underneath.
func (r *Registry) ForPhase(phase string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Registration
	for _, moduleID := range r.order {
		for _, reg := range r.modules[moduleID] {
			if reg.Phase == phase {
				out = append(out, reg)
			}
		}
	}
	return out
}

// ForModule returns a module's registrations in declaration order.
func (r *Registry) ForModule(moduleID string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.modules[moduleID]...)
}

// Len reports the total number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, regs := range r.modules {
		n += len(regs)
	}
	return n
}
