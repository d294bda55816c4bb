package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/wasmod/hostfunc"
)

// emptyWasm is the smallest valid module: magic + version, no sections.
var emptyWasm = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestNewAndClose(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Close(ctx))

	// Close is idempotent.
	require.NoError(t, rt.Close(ctx))
}

func TestNewWithOptions(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx,
		WithDiskCache(t.TempDir()),
		WithMemoryLimit(MemoryLimit16MB),
	)
	require.NoError(t, err)
	defer rt.Close(ctx)
}

func TestCompileRejectsMalformedBytecode(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	_, err = rt.Compile(ctx, []byte("definitely not wasm"))
	assert.Error(t, err)
}

func TestInstantiateRejectsMissingExports(t *testing.T) {
	ctx := context.Background()
	rt, err := New(ctx)
	require.NoError(t, err)
	defer rt.Close(ctx)

	compiled, err := rt.Compile(ctx, emptyWasm)
	require.NoError(t, err)
	defer compiled.Close(ctx)

	_, err = compiled.Instantiate(ctx, hostfunc.NewRegistry())
	assert.ErrorIs(t, err, ErrMissingExport)
}
