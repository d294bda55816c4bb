package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceAndForPhase(t *testing.T) {
	r := NewRegistry()
	r.Replace("physics", []Registration{
		{Phase: PhaseUpdate, Name: "integrate", Query: []QueryTerm{{ComponentID: "pos", Write: true}}},
		{Phase: PhasePostUpdate, Name: "report"},
	})
	r.Replace("ai", []Registration{
		{Phase: PhaseUpdate, Name: "think"},
	})

	update := r.ForPhase(PhaseUpdate)
	require.Len(t, update, 2)
	assert.Equal(t, "integrate", update[0].Name)
	assert.Equal(t, "physics", update[0].Module)
	assert.Equal(t, "think", update[1].Name)

	post := r.ForPhase(PhasePostUpdate)
	require.Len(t, post, 1)
	assert.Equal(t, "report", post[0].Name)

	assert.Empty(t, r.ForPhase("no-such-phase"))
}

func TestReplaceIsWholesale(t *testing.T) {
	r := NewRegistry()
	r.Replace("m", []Registration{
		{Phase: PhaseUpdate, Name: "a"},
		{Phase: PhaseUpdate, Name: "b"},
	})
	r.Replace("m", []Registration{
		{Phase: PhaseUpdate, Name: "c"},
	})

	regs := r.ForPhase(PhaseUpdate)
	require.Len(t, regs, 1)
	assert.Equal(t, "c", regs[0].Name)
}

func TestReplaceKeepsLoadOrder(t *testing.T) {
	r := NewRegistry()
	r.Replace("first", []Registration{{Phase: PhaseUpdate, Name: "f"}})
	r.Replace("second", []Registration{{Phase: PhaseUpdate, Name: "s"}})

	// Reloading the first module must not move it behind the second.
	r.Replace("first", []Registration{{Phase: PhaseUpdate, Name: "f2"}})

	regs := r.ForPhase(PhaseUpdate)
	require.Len(t, regs, 2)
	assert.Equal(t, "f2", regs[0].Name)
	assert.Equal(t, "s", regs[1].Name)
}

func TestDrop(t *testing.T) {
	r := NewRegistry()
	r.Replace("m", []Registration{{Phase: PhaseUpdate, Name: "a"}})

	r.Drop("m")
	assert.Zero(t, r.Len())
	assert.Empty(t, r.ForPhase(PhaseUpdate))

	// Idempotent.
	r.Drop("m")
	r.Drop("never-existed")
}

func TestForPhaseReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.Replace("m", []Registration{{Phase: PhaseUpdate, Name: "a"}})

	snap := r.ForPhase(PhaseUpdate)
	r.Drop("m")
	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].Name)
}

func TestForModule(t *testing.T) {
	r := NewRegistry()
	r.Replace("m", []Registration{
		{Phase: PhaseUpdate, Name: "a"},
		{Phase: PhaseStartup, Name: "b"},
	})

	regs := r.ForModule("m")
	require.Len(t, regs, 2)
	assert.Equal(t, "a", regs[0].Name)
	assert.Empty(t, r.ForModule("other"))
}
