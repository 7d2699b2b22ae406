package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// DefaultAllocator is the guest export used to reserve memory for results.
const DefaultAllocator = "wasm_new_bytes"

// fallbackAllocator is accepted when a guest does not export DefaultAllocator.
const fallbackAllocator = "alloc"

// LinearMemory is the guest's linear memory. wazero's api.Memory satisfies it.
type LinearMemory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Allocator reserves size bytes inside guest memory and returns the offset.
type Allocator interface {
	Allocate(ctx context.Context, size uint32) (uint32, error)
}

// AllocatorFunc adapts a function to Allocator.
type AllocatorFunc func(ctx context.Context, size uint32) (uint32, error)

// Allocate calls f.
func (f AllocatorFunc) Allocate(ctx context.Context, size uint32) (uint32, error) {
	return f(ctx, size)
}

// Read copies length bytes starting at ptr. The copy never aliases guest
// memory, which may grow or be rewritten by the guest after the call.
func Read(mem LinearMemory, ptr, length uint32) ([]byte, error) {
	if mem == nil {
		return nil, outOfBounds("read", ptr, length, "no memory")
	}
	if uint64(ptr)+uint64(length) > uint64(mem.Size()) {
		return nil, outOfBounds("read", ptr, length, fmt.Sprintf("memory size %d", mem.Size()))
	}
	if length == 0 {
		return []byte{}, nil
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, outOfBounds("read", ptr, length, "read rejected")
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// Write asks the guest allocator for len(data) bytes, checks the returned
// pointer against the memory size and copies data in.
func Write(ctx context.Context, mem LinearMemory, alloc Allocator, data []byte) (uint32, error) {
	if mem == nil || alloc == nil {
		return 0, outOfBounds("write", 0, uint32(len(data)), "no memory or allocator")
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, outOfBounds("write", 0, ^uint32(0), "payload exceeds 32-bit address space")
	}
	length := uint32(len(data))

	ptr, err := alloc.Allocate(ctx, length)
	if err != nil {
		return 0, &MemoryAccessError{
			Operation: "allocate",
			Length:    length,
			Err:       fmt.Errorf("guest allocator failed: %w", err),
		}
	}
	if uint64(ptr)+uint64(length) > uint64(mem.Size()) {
		return 0, outOfBounds("write", ptr, length, fmt.Sprintf("memory size %d", mem.Size()))
	}
	if length > 0 && !mem.Write(ptr, data) {
		return 0, outOfBounds("write", ptr, length, "write rejected")
	}
	return ptr, nil
}

func outOfBounds(op string, ptr, length uint32, detail string) *MemoryAccessError {
	return &MemoryAccessError{
		Operation: op,
		Address:   ptr,
		Length:    length,
		Err:       errors.New(detail),
	}
}

// Memory bundles the guest memory and allocator that serve one host call.
type Memory struct {
	mem   LinearMemory
	alloc Allocator
}

// NewMemory creates a memory helper.
func NewMemory(mem LinearMemory, alloc Allocator) *Memory {
	return &Memory{mem: mem, alloc: alloc}
}

// NewModuleMemory binds the memory and allocator export of a live module.
// It returns nil when the module has no memory.
func NewModuleMemory(mod api.Module, allocator string) *Memory {
	if mod == nil {
		return nil
	}
	mem := mod.Memory()
	if mem == nil {
		return nil
	}
	m := &Memory{mem: mem}
	if fn := lookupAllocator(mod, allocator); fn != nil {
		m.alloc = exportAllocator{fn: fn}
	}
	return m
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	if m == nil || m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// CanWrite reports whether results can be written back to the guest.
func (m *Memory) CanWrite() bool {
	return m != nil && m.mem != nil && m.alloc != nil
}

// ReadBytes copies bytes out of guest memory.
func (m *Memory) ReadBytes(ptr, length uint32) ([]byte, error) {
	if m == nil {
		return Read(nil, ptr, length)
	}
	return Read(m.mem, ptr, length)
}

// ReadString reads a UTF-8 string of known length.
func (m *Memory) ReadString(ptr, length uint32) (string, error) {
	b, err := m.ReadBytes(ptr, length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteBytes writes data into freshly allocated guest memory.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	if m == nil {
		return Write(ctx, nil, nil, data)
	}
	return Write(ctx, m.mem, m.alloc, data)
}

func lookupAllocator(mod api.Module, name string) api.Function {
	if name == "" {
		name = DefaultAllocator
	}
	if fn := mod.ExportedFunction(name); fn != nil {
		return fn
	}
	return mod.ExportedFunction(fallbackAllocator)
}

type exportAllocator struct {
	fn api.Function
}

func (a exportAllocator) Allocate(ctx context.Context, size uint32) (uint32, error) {
	res, err := a.fn.Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("allocator returned %d values, want 1", len(res))
	}
	return api.DecodeU32(res[0]), nil
}
