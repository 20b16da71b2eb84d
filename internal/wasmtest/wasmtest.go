// Package wasmtest assembles small core wasm modules used by tests and
// benchmarks. Every guest follows the capability ABI in package hostfunc:
// a linear memory, an alloc(len) -> ptr export and, for inbound calls,
// exports shaped handler(ptr, len) -> i64.
package wasmtest

import "encoding/binary"

const (
	secType   = 1
	secImport = 2
	secFunc   = 3
	secMemory = 5
	secExport = 7
	secCode   = 10
	secData   = 11

	kindFunc   = 0x00
	kindMemory = 0x02

	valI32 = 0x7f
	valI64 = 0x7e

	opUnreachable  = 0x00
	opCall         = 0x10
	opDrop         = 0x1a
	opLocalGet     = 0x20
	opI32Const     = 0x41
	opI64Const     = 0x42
	opI64Or        = 0x84
	opI64Shl       = 0x86
	opI64ExtendU32 = 0xad
	opEnd          = 0x0b
)

// AllocBase is where the test allocator hands out memory. It never frees;
// each allocation reuses the same region, which is enough for one call at a time.
const AllocBase = 8192

// Noop exports a _start that returns immediately.
func Noop() []byte {
	return module(
		section(secType, vec(funcType(nil, nil))),
		section(secFunc, vec(uleb(0))),
		section(secExport, vec(export("_start", kindFunc, 0))),
		section(secCode, vec(body())),
	)
}

// Trap exports a _start that executes unreachable.
func Trap() []byte {
	return module(
		section(secType, vec(funcType(nil, nil))),
		section(secFunc, vec(uleb(0))),
		section(secExport, vec(export("_start", kindFunc, 0))),
		section(secCode, vec(body(opUnreachable))),
	)
}

// Exit exports a _start that calls WASI proc_exit with code.
func Exit(code int32) []byte {
	start := append([]byte{opI32Const}, sleb(code)...)
	start = append(start, opCall, 0x00)

	return module(
		section(secType, vec(
			funcType(nil, nil),
			funcType([]byte{valI32}, nil),
		)),
		section(secImport, vec(importFunc("wasi_snapshot_preview1", "proc_exit", 1))),
		section(secFunc, vec(uleb(0))),
		section(secExport, vec(export("_start", kindFunc, 1))),
		section(secCode, vec(body(start...))),
	)
}

// Echo exports a no-op _start, alloc and two inbound handlers, "handle" and
// "on_event", that return their input unchanged.
func Echo() []byte {
	return module(
		section(secType, vec(
			funcType(nil, nil),
			funcType([]byte{valI32}, []byte{valI32}),
			funcType([]byte{valI32, valI32}, []byte{valI64}),
		)),
		section(secFunc, vec(uleb(0), uleb(1), uleb(2))),
		section(secMemory, vec(memory(1))),
		section(secExport, vec(
			export("memory", kindMemory, 0),
			export("_start", kindFunc, 0),
			export("alloc", kindFunc, 1),
			export("handle", kindFunc, 2),
			export("on_event", kindFunc, 2),
		)),
		section(secCode, vec(
			body(),
			body(allocBody()...),
			body(echoBody()...),
		)),
	)
}

// Caller exports a _start that makes one capability call: scheme.call(fn, args).
// The response is dropped; the host side effects are what tests observe.
func Caller(scheme, fn, args string) []byte {
	return caller(scheme, fn, args, false, false)
}

// Server is Caller plus the echoing "handle" and "on_event" exports of Echo.
// A _start calling http.serve with routes to "handle" yields an echo server.
func Server(scheme, fn, args string) []byte {
	return caller(scheme, fn, args, true, false)
}

// FailingServer is Server with a _start that traps after its call returns.
func FailingServer(scheme, fn, args string) []byte {
	return caller(scheme, fn, args, true, true)
}

func caller(scheme, fn, args string, handlers, trap bool) []byte {
	data := fn + args

	start := []byte{opI32Const}
	start = append(start, sleb(0)...)
	start = append(start, opI32Const)
	start = append(start, sleb(int32(len(fn)))...)
	start = append(start, opI32Const)
	start = append(start, sleb(int32(len(fn)))...)
	start = append(start, opI32Const)
	start = append(start, sleb(int32(len(args)))...)
	start = append(start, opCall, 0x00, opDrop)
	if trap {
		start = append(start, opUnreachable)
	}

	types := [][]byte{
		funcType(nil, nil),
		funcType([]byte{valI32}, []byte{valI32}),
		funcType([]byte{valI32, valI32, valI32, valI32}, []byte{valI64}),
		funcType([]byte{valI32, valI32}, []byte{valI64}),
	}
	funcs := [][]byte{uleb(0), uleb(1)}
	exports := [][]byte{
		export("memory", kindMemory, 0),
		export("_start", kindFunc, 1),
		export("alloc", kindFunc, 2),
	}
	code := [][]byte{
		body(start...),
		body(allocBody()...),
	}
	if handlers {
		funcs = append(funcs, uleb(3))
		exports = append(exports,
			export("handle", kindFunc, 3),
			export("on_event", kindFunc, 3),
		)
		code = append(code, body(echoBody()...))
	}

	return module(
		section(secType, vec(types...)),
		section(secImport, vec(importFunc(scheme, "call", 2))),
		section(secFunc, vec(funcs...)),
		section(secMemory, vec(memory(1))),
		section(secExport, vec(exports...)),
		section(secCode, vec(code...)),
		section(secData, vec(dataSegment(0, []byte(data)))),
	)
}

// StdioCaller exports a _start that writes msg to stderr with WASI fd_write.
// With msg framed as \x00CAPSULE:{json}\x00 it exercises the stdio protocol.
func StdioCaller(msg string) []byte {
	const iovec, nwritten = 1024, 1040

	iov := binary.LittleEndian.AppendUint32(nil, 0)
	iov = binary.LittleEndian.AppendUint32(iov, uint32(len(msg)))

	var start []byte
	for _, v := range []int32{2, iovec, 1, nwritten} {
		start = append(start, opI32Const)
		start = append(start, sleb(v)...)
	}
	start = append(start, opCall, 0x00, opDrop)

	return module(
		section(secType, vec(
			funcType(nil, nil),
			funcType([]byte{valI32, valI32, valI32, valI32}, []byte{valI32}),
		)),
		section(secImport, vec(importFunc("wasi_snapshot_preview1", "fd_write", 1))),
		section(secFunc, vec(uleb(0))),
		section(secMemory, vec(memory(1))),
		section(secExport, vec(
			export("memory", kindMemory, 0),
			export("_start", kindFunc, 1),
		)),
		section(secCode, vec(body(start...))),
		section(secData, vec(
			dataSegment(0, []byte(msg)),
			dataSegment(iovec, iov),
		)),
	)
}

// echoBody returns (ptr << 32) | len for a (ptr, len) -> i64 function.
func echoBody() []byte {
	return []byte{
		opLocalGet, 0x00, opI64ExtendU32,
		opI64Const, 0x20, opI64Shl,
		opLocalGet, 0x01, opI64ExtendU32,
		opI64Or,
	}
}

func allocBody() []byte {
	return append([]byte{opI32Const}, sleb(AllocBase)...)
}

func module(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func funcType(params, results []byte) []byte {
	out := []byte{0x60}
	out = append(out, uleb(uint32(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint32(len(results)))...)
	return append(out, results...)
}

func importFunc(module, field string, typeIdx uint32) []byte {
	out := name(module)
	out = append(out, name(field)...)
	out = append(out, kindFunc)
	return append(out, uleb(typeIdx)...)
}

func export(n string, kind byte, idx uint32) []byte {
	out := name(n)
	out = append(out, kind)
	return append(out, uleb(idx)...)
}

func memory(minPages uint32) []byte {
	return append([]byte{0x00}, uleb(minPages)...)
}

// body encodes a function body with no locals.
func body(code ...byte) []byte {
	b := []byte{0x00}
	b = append(b, code...)
	b = append(b, opEnd)
	return append(uleb(uint32(len(b))), b...)
}

func dataSegment(offset int32, data []byte) []byte {
	out := []byte{0x00, opI32Const}
	out = append(out, sleb(offset)...)
	out = append(out, opEnd)
	out = append(out, uleb(uint32(len(data)))...)
	return append(out, data...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
