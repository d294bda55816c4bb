package sandbox

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Protocol message shapes for the wasmod.call host function.
// Request: {"fn":"name","args":{...}}  Response: {"data":...} or {"error":"..."}
type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// hostCall is the wasmod.call implementation. The calling guest module
// identifies the instance, and with it the hostfunc registry to dispatch on.
func (r *Runtime) hostCall(ctx context.Context, mod api.Module, stack []uint64) {
	ptr := uint32(stack[0])
	size := uint32(stack[1])

	inst, ok := r.binding(mod)
	if !ok {
		// Call before binding exists (module still initializing) or after
		// close. There is no registry to answer with, so return nothing.
		stack[0] = 0
		return
	}

	resp := inst.dispatch(ctx, ptr, size)
	stack[0] = inst.respond(ctx, resp)
}

func (i *Instance) dispatch(ctx context.Context, ptr, size uint32) callResponse {
	payload, err := i.readGuest(ptr, size)
	if err != nil {
		return callResponse{Error: "invalid call region: " + err.Error()}
	}

	var req callRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return callResponse{Error: "invalid call format"}
	}

	fn, ok := i.calls.Get(req.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}

	result, err := fn(ctx, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

// respond writes a response into guest memory and returns the packed
// (ptr<<32 | len) the guest unpacks on its side. The guest owns the region.
func (i *Instance) respond(ctx context.Context, resp callResponse) uint64 {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}

	ptr, err := i.writeGuest(ctx, data)
	if err != nil {
		if i.log != nil {
			i.log.Warn("host call response dropped", zap.Error(err))
		}
		return 0
	}
	return uint64(ptr)<<32 | uint64(uint32(len(data)))
}
