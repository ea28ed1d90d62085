package wasmbridge

import "context"

// Memory exposes the guest's linear memory.
//
// Buffer returns the live backing bytes. The slice is only valid until the
// next call that can grow memory: any allocator call or guest invocation may
// replace it.
type Memory interface {
	Buffer() []byte
}

// Allocator allocates memory in the guest heap
type Allocator interface {
	Malloc(ctx context.Context, size uint32) (uint32, error)
	Free(ctx context.Context, ptr, size uint32) error
}

// Reallocator is implemented by guests that export a realloc function.
// The returned pointer is authoritative; bytes [0, oldSize) are preserved.
type Reallocator interface {
	Allocator
	Realloc(ctx context.Context, ptr, oldSize, newSize uint32) (uint32, error)
}

// StackPointer adjusts the guest's shadow stack pointer and returns the new value
type StackPointer interface {
	AddToStackPointer(ctx context.Context, delta int32) (uint32, error)
}

// Guest is a running guest instance speaking the wasm-bindgen string ABI.
// Invoke calls entry(retptr, ptr, length); the result descriptor is written
// to memory at retptr.
type Guest interface {
	Memory
	Allocator
	StackPointer
	Invoke(ctx context.Context, entry string, retptr, ptr, length uint32) error
}

// OptionalRealloc is implemented by guests whose realloc export is only
// present in some builds. A Reallocator reporting false is treated as a
// guest without realloc.
type OptionalRealloc interface {
	HasRealloc() bool
}
