package hostfunc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Guest ABI names.
//
// Every capability is linked as a host module exporting CallFunction:
//
//	call(fn_ptr, fn_len, args_ptr, args_len i32) -> i64
//
// The result packs the guest pointer and length of a JSON CallResponse as
// ptr<<32 | len. Memory for responses and inbound payloads is obtained from
// the guest's AllocExport(len i32) -> i32.
const (
	CallFunction = "call"
	AllocExport  = "alloc"
)

var (
	ErrNoAllocator   = errors.New("guest does not export " + AllocExport)
	ErrMissingExport = errors.New("guest export not found")
	ErrOutOfRange    = errors.New("guest memory access out of range")
)

// Observer is notified after every host call dispatched through Link.
type Observer func(fn string, d time.Duration, err error)

// Pack encodes a guest pointer and length into a single i64 result.
func Pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

// Unpack is the inverse of Pack.
func Unpack(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}

// Link instantiates a host module named module in rt whose call export
// dispatches into reg.
func Link(ctx context.Context, rt wazero.Runtime, module string, reg *Registry, observe Observer) (api.Module, error) {
	i32 := api.ValueTypeI32
	fn := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		stack[0] = serveCall(ctx, mod, reg, observe, stack)
	})

	mod, err := rt.NewHostModuleBuilder(module).
		NewFunctionBuilder().
		WithGoModuleFunction(fn, []api.ValueType{i32, i32, i32, i32}, []api.ValueType{api.ValueTypeI64}).
		WithParameterNames("fn_ptr", "fn_len", "args_ptr", "args_len").
		Export(CallFunction).
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", module, err)
	}
	return mod, nil
}

func serveCall(ctx context.Context, mod api.Module, reg *Registry, observe Observer, stack []uint64) uint64 {
	fnPtr, fnLen := uint32(stack[0]), uint32(stack[1])
	argsPtr, argsLen := uint32(stack[2]), uint32(stack[3])

	mem := mod.Memory()
	if mem == nil {
		return 0
	}

	// Copy out of guest memory before alloc can grow it.
	name, ok := mem.Read(fnPtr, fnLen)
	if !ok {
		return respond(ctx, mod, CallResponse{Error: ErrOutOfRange.Error()})
	}
	req := CallRequest{Fn: string(name), Args: map[string]any{}}

	if argsLen > 0 {
		raw, ok := mem.Read(argsPtr, argsLen)
		if !ok {
			return respond(ctx, mod, CallResponse{Error: ErrOutOfRange.Error()})
		}
		if err := json.Unmarshal(raw, &req.Args); err != nil {
			return respond(ctx, mod, CallResponse{Error: "invalid call format"})
		}
	}

	start := time.Now()
	resp := Dispatch(ctx, reg, req)
	if observe != nil {
		var err error
		if resp.Error != "" {
			err = errors.New(resp.Error)
		}
		observe(req.Fn, time.Since(start), err)
	}
	return respond(ctx, mod, resp)
}

func respond(ctx context.Context, mod api.Module, resp CallResponse) uint64 {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(CallResponse{Error: err.Error()})
	}
	ptr, err := Write(ctx, mod, data)
	if err != nil {
		return 0
	}
	return Pack(ptr, uint32(len(data)))
}

// Write copies data into memory allocated by the guest and returns its pointer.
func Write(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction(AllocExport)
	if alloc == nil {
		return 0, ErrNoAllocator
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", AllocExport, err)
	}
	if len(res) == 0 {
		return 0, fmt.Errorf("%s returned no pointer", AllocExport)
	}
	ptr := uint32(res[0])
	mem := mod.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		return 0, ErrOutOfRange
	}
	return ptr, nil
}

// Read copies a packed pointer/length region out of guest memory.
func Read(mod api.Module, packed uint64) ([]byte, error) {
	ptr, size := Unpack(packed)
	if size == 0 {
		return nil, nil
	}
	mem := mod.Memory()
	if mem == nil {
		return nil, ErrOutOfRange
	}
	buf, ok := mem.Read(ptr, size)
	if !ok {
		return nil, ErrOutOfRange
	}
	return bytes.Clone(buf), nil
}

// Invoke calls export(ptr, len) -> i64 with payload written into guest memory
// and returns the bytes the packed result points at.
//
// The caller must hold exclusive access to mod; guest code is not safe for
// concurrent calls on one instantiation.
func Invoke(ctx context.Context, mod api.Module, export string, payload []byte) ([]byte, error) {
	fn := mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingExport, export)
	}

	var ptr uint32
	if len(payload) > 0 {
		var err error
		if ptr, err = Write(ctx, mod, payload); err != nil {
			return nil, err
		}
	}

	res, err := fn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", export, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return Read(mod, res[0])
}
