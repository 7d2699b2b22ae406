// Package wasmtest assembles small robot-app guest binaries for tests.
//
// The guest imports every host function from "env" and exports its memory,
// a bump allocator named wasm_new_bytes, an entry point named main and a
// call_<import> trampoline per import so tests can drive host calls from Go.
package wasmtest

import (
	"github.com/woxQAQ/robokernel/pkg/protocol"
)

// HeapBase is where the bump allocator starts handing out memory.
const HeapBase = 4096

// DataOffset is where WithData places its bytes.
const DataOffset = 1024

// MemoryPages is the guest's initial memory size in 64KiB pages.
const MemoryPages = 2

const (
	typePtrLen     = iota // (i32, i32) -> i32
	typeHostCall          // (i32, i32, i32) -> i32
	typeAlloc             // (i32) -> i32
	typeGetter            // () -> i32
	typeVoid              // () -> ()
	typeLogMessage        // (i32, i32, i32) -> ()
)

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Const    = 0x41
	opI32Add      = 0x6a

	valI32 = 0x7f
)

// Call is one host call main makes on entry.
type Call struct {
	Import string
	Ptr    uint32
	Len    uint32
}

type options struct {
	extraImports []string
	allocator    string
	brokenAlloc  bool
	entryPoint   string
	data         []byte
	mainCalls    []Call
	initBody     []byte
}

// Option customizes the assembled guest.
type Option func(*options)

// WithExtraImport adds an (i32, i32) -> i32 import from "env" the host does
// not provide.
func WithExtraImport(name string) Option {
	return func(o *options) { o.extraImports = append(o.extraImports, name) }
}

// WithAllocatorName exports the allocator under name; empty omits it.
func WithAllocatorName(name string) Option {
	return func(o *options) { o.allocator = name }
}

// WithBrokenAllocator makes the allocator return a pointer past the end of
// memory.
func WithBrokenAllocator() Option {
	return func(o *options) { o.brokenAlloc = true }
}

// WithEntryPoint exports the entry point under name; empty omits it.
func WithEntryPoint(name string) Option {
	return func(o *options) { o.entryPoint = name }
}

// WithData places b at DataOffset through an active data segment.
func WithData(b []byte) Option {
	return func(o *options) { o.data = b }
}

// WithMainCalls makes main perform calls in order, dropping each result.
func WithMainCalls(calls ...Call) Option {
	return func(o *options) { o.mainCalls = append(o.mainCalls, calls...) }
}

// WithInitializer exports _initialize, which moves the allocator's heap
// start to heap.
func WithInitializer(heap uint32) Option {
	return func(o *options) {
		o.initBody = append([]byte{opI32Const}, sleb(int32(heap))...)
		o.initBody = append(o.initBody, opGlobalSet, 0)
	}
}

// WithTrappingInitializer exports an _initialize that traps.
func WithTrappingInitializer() Option {
	return func(o *options) { o.initBody = []byte{opUnreachable} }
}

// ImportNames lists the host imports of the assembled guest in index order.
func ImportNames() []string {
	names := make([]string, 0, 8)
	for _, kind := range protocol.Kinds() {
		names = append(names, kind.ImportName())
	}
	return append(names, "host_call", "log_message")
}

// Guest assembles the guest binary.
func Guest(opts ...Option) []byte {
	o := options{allocator: "wasm_new_bytes", entryPoint: "main"}
	for _, opt := range opts {
		opt(&o)
	}

	type imp struct {
		name string
		typ  byte
	}
	var imports []imp
	for _, kind := range protocol.Kinds() {
		imports = append(imports, imp{kind.ImportName(), typePtrLen})
	}
	imports = append(imports, imp{"host_call", typeHostCall}, imp{"log_message", typeLogMessage})
	for _, name := range o.extraImports {
		imports = append(imports, imp{name, typePtrLen})
	}
	importIndex := make(map[string]uint32, len(imports))
	for i, im := range imports {
		importIndex[im.name] = uint32(i)
	}

	type fn struct {
		export string
		typ    byte
		body   []byte
	}
	var funcs []fn

	allocBody := []byte{
		opLocalGet, 0, opGlobalSet, 1, // last = n
		opGlobalGet, 0, // result = heap
		opGlobalGet, 0, opLocalGet, 0, opI32Add, opGlobalSet, 0, // heap += n
	}
	if o.brokenAlloc {
		allocBody = append([]byte{opI32Const}, sleb(-16)...)
	}
	funcs = append(funcs,
		fn{o.allocator, typeAlloc, allocBody},
		fn{"last_alloc_len", typeGetter, []byte{opGlobalGet, 1}},
	)

	var mainBody []byte
	for _, c := range o.mainCalls {
		mainBody = append(mainBody, opI32Const)
		mainBody = append(mainBody, sleb(int32(c.Ptr))...)
		mainBody = append(mainBody, opI32Const)
		mainBody = append(mainBody, sleb(int32(c.Len))...)
		mainBody = append(mainBody, opCall)
		mainBody = append(mainBody, uleb(importIndex[c.Import])...)
		mainBody = append(mainBody, opDrop)
	}
	funcs = append(funcs, fn{o.entryPoint, typeVoid, mainBody})
	if o.initBody != nil {
		funcs = append(funcs, fn{"_initialize", typeVoid, o.initBody})
	}

	for _, im := range imports {
		idx := uleb(importIndex[im.name])
		switch im.typ {
		case typePtrLen:
			body := append([]byte{opLocalGet, 0, opLocalGet, 1, opCall}, idx...)
			funcs = append(funcs, fn{"call_" + im.name, typePtrLen, body})
		case typeHostCall:
			body := append([]byte{opLocalGet, 0, opLocalGet, 1, opLocalGet, 2, opCall}, idx...)
			funcs = append(funcs, fn{"call_" + im.name, typeHostCall, body})
		case typeLogMessage:
			body := append([]byte{opLocalGet, 0, opLocalGet, 1, opLocalGet, 2, opCall}, idx...)
			funcs = append(funcs, fn{"call_" + im.name, typeLogMessage, body})
		}
	}

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// Type section
	out = append(out, section(1, vec([][]byte{
		{0x60, 2, valI32, valI32, 1, valI32},
		{0x60, 3, valI32, valI32, valI32, 1, valI32},
		{0x60, 1, valI32, 1, valI32},
		{0x60, 0, 1, valI32},
		{0x60, 0, 0},
		{0x60, 3, valI32, valI32, valI32, 0},
	}))...)

	// Import section
	var importEntries [][]byte
	for _, im := range imports {
		e := name("env")
		e = append(e, name(im.name)...)
		e = append(e, 0x00, im.typ)
		importEntries = append(importEntries, e)
	}
	out = append(out, section(2, vec(importEntries))...)

	// Function section
	var funcTypes [][]byte
	for _, f := range funcs {
		funcTypes = append(funcTypes, []byte{f.typ})
	}
	out = append(out, section(3, vec(funcTypes))...)

	// Memory section
	out = append(out, section(5, vec([][]byte{{0x00, MemoryPages}}))...)

	// Global section: heap pointer, last allocation length
	heap := append([]byte{valI32, 0x01, opI32Const}, sleb(HeapBase)...)
	heap = append(heap, opEnd)
	last := []byte{valI32, 0x01, opI32Const, 0x00, opEnd}
	out = append(out, section(6, vec([][]byte{heap, last}))...)

	// Export section
	exports := [][]byte{append(name("memory"), 0x02, 0x00)}
	for i, f := range funcs {
		if f.export == "" {
			continue
		}
		e := append(name(f.export), 0x00)
		e = append(e, uleb(uint32(len(imports)+i))...)
		exports = append(exports, e)
	}
	out = append(out, section(7, vec(exports))...)

	// Code section
	var bodies [][]byte
	for _, f := range funcs {
		body := append([]byte{0x00}, f.body...) // no locals
		body = append(body, opEnd)
		bodies = append(bodies, append(uleb(uint32(len(body))), body...))
	}
	out = append(out, section(10, vec(bodies))...)

	// Data section
	if len(o.data) > 0 {
		seg := append([]byte{0x00, opI32Const}, sleb(DataOffset)...)
		seg = append(seg, opEnd)
		seg = append(seg, uleb(uint32(len(o.data)))...)
		seg = append(seg, o.data...)
		out = append(out, section(11, vec([][]byte{seg}))...)
	}

	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func vec(items [][]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
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
