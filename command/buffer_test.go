package command

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRecordsInOrder(t *testing.T) {
	b := NewBuffer()
	ref := b.Spawn(Component{ID: "pos", Data: json.RawMessage(`{"x":1}`)})
	b.Insert(ref, Component{ID: "vel", Data: json.RawMessage(`{"dx":2}`)})
	b.Remove(WorldEntity(7), "pos")
	b.Despawn(WorldEntity(8))

	ops := b.Ops()
	require.Len(t, ops, 4)
	assert.Equal(t, OpSpawn, ops[0].Kind)
	assert.Equal(t, OpInsert, ops[1].Kind)
	assert.Equal(t, OpRemove, ops[2].Kind)
	assert.Equal(t, OpDespawn, ops[3].Kind)

	assert.True(t, ref.IsProvisional())
	assert.Equal(t, ref, ops[1].Entity)
}

func TestBufferProvisionalIDsAreUnique(t *testing.T) {
	b := NewBuffer()
	a := b.Spawn()
	c := b.Spawn()
	assert.NotEqual(t, a, c)
}

func TestBufferJSONRoundTrip(t *testing.T) {
	b := NewBuffer()
	ref := b.Spawn(Component{ID: "pos", Data: json.RawMessage(`{"x":1}`)})
	b.Insert(ref, Component{ID: "vel", Data: json.RawMessage(`{"dx":2}`)})
	b.Despawn(WorldEntity(3))
	b.Remove(WorldEntity(3), "pos")

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var got Buffer
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, b.Len(), got.Len())

	for i, op := range got.Ops() {
		assert.Equal(t, b.Ops()[i].Kind, op.Kind, "op %d", i)
	}
	assert.Equal(t, ref, got.Ops()[1].Entity)
	assert.Equal(t, "pos", got.Ops()[3].ComponentID)
}

func TestBufferUnmarshalGuestWireFormat(t *testing.T) {
	wire := `[
		{"op":"spawn","id":1,"components":[{"id":"pos","value":{"x":1}}]},
		{"op":"insert","entity":{"provisional":1},"component":{"id":"vel","value":{"dx":2}}},
		{"op":"remove","entity":{"world":9},"component_id":"pos"},
		{"op":"despawn","entity":{"world":9}}
	]`

	var b Buffer
	require.NoError(t, json.Unmarshal([]byte(wire), &b))
	require.Equal(t, 4, b.Len())

	ops := b.Ops()
	assert.Equal(t, ProvisionalID(1), ops[0].Provisional)
	assert.Equal(t, Provisional(1), ops[1].Entity)
	assert.Equal(t, WorldEntity(9), ops[2].Entity)
}

func TestBufferUnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire string
	}{
		{"duplicate provisional", `[{"op":"spawn","id":1},{"op":"spawn","id":1}]`},
		{"spawn without id", `[{"op":"spawn"}]`},
		{"unknown op", `[{"op":"teleport"}]`},
		{"insert without component", `[{"op":"insert","entity":{"world":1}}]`},
		{"remove without component id", `[{"op":"remove","entity":{"world":1}}]`},
		{"ref with both ids", `[{"op":"despawn","entity":{"world":1,"provisional":2}}]`},
		{"ref with no id", `[{"op":"despawn","entity":{}}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Buffer
			assert.Error(t, json.Unmarshal([]byte(tt.wire), &b))
		})
	}
}

func TestEntityRefString(t *testing.T) {
	assert.Equal(t, "provisional(1)", Provisional(1).String())
	assert.Equal(t, "world(2)", WorldEntity(2).String())
}

func TestEmptyBufferMarshals(t *testing.T) {
	data, err := json.Marshal(NewBuffer())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}
