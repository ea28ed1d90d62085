// Package guesttest provides an in-memory guest for bridge tests.
//
// Its memory is a Go slice that is replaced whenever it grows (and, with
// MoveOnCall, on every allocator or entry call). The old slice is filled
// with 0xFF so any read through a stale view returns garbage.
package guesttest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
)

const (
	PageSize  = 65536
	StackBase = 1024
	HeapBase  = 1024
	Poison    = 0xFF // old buffers after a move
	Freed     = 0xAB // freed blocks
)

// ErrTrap is returned by injected failures
var ErrTrap = errors.New("guest trap")

// EntryFunc implements a guest entry point. It owns the input block and
// must write the result descriptor at retptr.
type EntryFunc func(g *Guest, retptr, ptr, length uint32) error

// Guest is a fake wasm-bindgen guest
type Guest struct {
	mem  []byte
	heap uint32
	sp   uint32
	live map[uint32]uint32

	// Entries maps entry point names to implementations.
	Entries map[string]EntryFunc
	// MoveOnCall replaces the buffer on every malloc, realloc and invoke.
	MoveOnCall bool
	// FailMalloc makes the n-th malloc (1-based) trap.
	FailMalloc int
	// NullMalloc makes malloc return 0 without an error.
	NullMalloc bool
	// FailRealloc makes realloc trap.
	FailRealloc bool

	Events   []string
	BadFrees []string
	Moves    int
	mallocs  int
}

// New creates a guest with one page of memory and the default entries
func New() *Guest {
	return &Guest{
		mem:  make([]byte, PageSize),
		heap: HeapBase,
		sp:   StackBase,
		live: make(map[uint32]uint32),
		Entries: map[string]EntryFunc{
			"evaluate":         Echo,
			"evaluate_grow":    Grow,
			"evaluate_invalid": Invalid,
			"evaluate_trap":    Trap,
			"evaluate_empty":   Empty,
		},
	}
}

var (
	_ wasmbridge.Guest       = (*Guest)(nil)
	_ wasmbridge.Reallocator = (*Guest)(nil)
)

func (g *Guest) Buffer() []byte {
	return g.mem
}

func (g *Guest) Malloc(_ context.Context, size uint32) (uint32, error) {
	g.mallocs++
	g.event("malloc %d", size)
	if g.FailMalloc > 0 && g.mallocs == g.FailMalloc {
		return 0, ErrTrap
	}
	if g.NullMalloc {
		return 0, nil
	}
	ptr := g.Alloc(size)
	g.maybeMove()
	return ptr, nil
}

func (g *Guest) Realloc(_ context.Context, ptr, oldSize, newSize uint32) (uint32, error) {
	g.event("realloc %d->%d", oldSize, newSize)
	if g.FailRealloc {
		return 0, ErrTrap
	}
	if size, ok := g.live[ptr]; !ok || size != oldSize {
		g.BadFrees = append(g.BadFrees, fmt.Sprintf("realloc %d: have %d, got %d", ptr, size, oldSize))
	}
	np := g.Alloc(newSize)
	copy(g.mem[np:np+min(oldSize, newSize)], g.mem[ptr:ptr+oldSize])
	g.poison(ptr, oldSize)
	delete(g.live, ptr)
	g.maybeMove()
	return np, nil
}

// Free checks that the host frees exactly what it was given
func (g *Guest) Free(_ context.Context, ptr, size uint32) error {
	g.event("free %d", size)
	have, ok := g.live[ptr]
	switch {
	case !ok:
		g.BadFrees = append(g.BadFrees, fmt.Sprintf("free %d: not live", ptr))
	case have != size:
		g.BadFrees = append(g.BadFrees, fmt.Sprintf("free %d: size %d, allocated %d", ptr, size, have))
	}
	g.poison(ptr, size)
	delete(g.live, ptr)
	return nil
}

func (g *Guest) AddToStackPointer(_ context.Context, delta int32) (uint32, error) {
	if delta < 0 {
		g.event("sp%d", delta)
	} else {
		g.event("sp+%d", delta)
	}
	g.sp = uint32(int32(g.sp) + delta)
	return g.sp, nil
}

func (g *Guest) Invoke(_ context.Context, entry string, retptr, ptr, length uint32) error {
	g.event("invoke %s", entry)
	fn, ok := g.Entries[entry]
	if !ok {
		return fmt.Errorf("no entry %q", entry)
	}
	err := fn(g, retptr, ptr, length)
	g.maybeMove()
	return err
}

// Alloc reserves size bytes inside the guest, growing memory as needed
func (g *Guest) Alloc(size uint32) uint32 {
	ptr := (g.heap + 7) &^ 7
	end := ptr + size
	if int(end) > len(g.mem) {
		pages := (int(end) - len(g.mem) + PageSize - 1) / PageSize
		g.grow(len(g.mem) + pages*PageSize)
	}
	g.heap = end
	g.live[ptr] = size
	return ptr
}

// Drop frees a block from inside the guest. Like a Rust String built from
// (ptr, len), the size may be smaller than what was allocated.
func (g *Guest) Drop(ptr, size uint32) {
	have, ok := g.live[ptr]
	if !ok || size > have {
		g.BadFrees = append(g.BadFrees, fmt.Sprintf("drop %d: size %d, allocated %d", ptr, size, have))
	}
	g.poison(ptr, have)
	delete(g.live, ptr)
}

// Read returns a copy of guest bytes
func (g *Guest) Read(ptr, length uint32) []byte {
	return append([]byte(nil), g.mem[ptr:ptr+length]...)
}

// SetResult writes the (ptr, len) result descriptor at retptr
func (g *Guest) SetResult(retptr, ptr, length uint32) {
	binary.LittleEndian.PutUint32(g.mem[retptr:], ptr)
	binary.LittleEndian.PutUint32(g.mem[retptr+4:], length)
}

// Live returns the number of guest blocks not yet freed
func (g *Guest) Live() int {
	return len(g.live)
}

// StackPointer returns the current shadow stack pointer
func (g *Guest) StackPointer() uint32 {
	return g.sp
}

// Trace returns the event names without arguments, joined by spaces
func (g *Guest) Trace() string {
	names := make([]string, len(g.Events))
	for i, e := range g.Events {
		name, _, _ := strings.Cut(e, " ")
		names[i] = name
	}
	return strings.Join(names, " ")
}

// Reset clears recorded events
func (g *Guest) Reset() {
	g.Events = g.Events[:0]
}

func (g *Guest) event(format string, args ...any) {
	g.Events = append(g.Events, fmt.Sprintf(format, args...))
}

func (g *Guest) grow(size int) {
	next := make([]byte, size)
	copy(next, g.mem)
	for i := range g.mem {
		g.mem[i] = Poison
	}
	g.mem = next
	g.Moves++
}

func (g *Guest) maybeMove() {
	if g.MoveOnCall {
		g.grow(len(g.mem))
	}
}

func (g *Guest) poison(ptr, size uint32) {
	for i := ptr; i < ptr+size && int(i) < len(g.mem); i++ {
		g.mem[i] = Freed
	}
}

// Echo returns its input
func Echo(g *Guest, retptr, ptr, length uint32) error {
	in := g.Read(ptr, length)
	g.Drop(ptr, length)
	out := g.Alloc(length)
	copy(g.mem[out:], in)
	g.SetResult(retptr, out, length)
	return nil
}

// Grow forces memory growth before echoing
func Grow(g *Guest, retptr, ptr, length uint32) error {
	big := g.Alloc(4 * PageSize)
	if err := Echo(g, retptr, ptr, length); err != nil {
		return err
	}
	g.Drop(big, 4*PageSize)
	return nil
}

// Invalid returns the malformed sequence C3 28
func Invalid(g *Guest, retptr, ptr, length uint32) error {
	g.Drop(ptr, length)
	out := g.Alloc(2)
	g.mem[out] = 0xC3
	g.mem[out+1] = 0x28
	g.SetResult(retptr, out, 2)
	return nil
}

// Empty returns an empty string
func Empty(g *Guest, retptr, ptr, length uint32) error {
	g.Drop(ptr, length)
	out := g.Alloc(0)
	g.SetResult(retptr, out, 0)
	return nil
}

// Trap fails without writing a result
func Trap(g *Guest, _, ptr, length uint32) error {
	g.Drop(ptr, length)
	return ErrTrap
}

// WithoutRealloc wraps g so it does not implement wasmbridge.Reallocator
func WithoutRealloc(g *Guest) wasmbridge.Guest {
	return noRealloc{g: g}
}

type noRealloc struct {
	g *Guest
}

func (n noRealloc) Buffer() []byte { return n.g.Buffer() }
func (n noRealloc) Malloc(ctx context.Context, size uint32) (uint32, error) {
	return n.g.Malloc(ctx, size)
}
func (n noRealloc) Free(ctx context.Context, ptr, size uint32) error {
	return n.g.Free(ctx, ptr, size)
}
func (n noRealloc) AddToStackPointer(ctx context.Context, delta int32) (uint32, error) {
	return n.g.AddToStackPointer(ctx, delta)
}
func (n noRealloc) Invoke(ctx context.Context, entry string, retptr, ptr, length uint32) error {
	return n.g.Invoke(ctx, entry, retptr, ptr, length)
}
