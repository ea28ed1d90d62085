// Package refguest assembles a small guest module that speaks the
// wasm-bindgen string ABI.
//
// The guest has a bump allocator that never reuses memory, a shadow stack
// pointer global and a counter of live allocations. Freed bytes are
// overwritten with 0xAB so reads after free show up as garbage.
package refguest

import (
	"github.com/bessy-lang/wasm-bridge/wasm"
)

// Entry points
const (
	EntryEcho    = "evaluate"         // returns its input
	EntryGrow    = "evaluate_grow"    // grows memory, then echoes
	EntryInvalid = "evaluate_invalid" // returns the bytes C3 28
	EntryLog     = "evaluate_log"     // console.log(input), then echoes
	EntryThrow   = "evaluate_throw"   // throws input as the error message
	EntryTerm    = "evaluate_term"    // writeTermLn(input), returns ""
)

// Exported globals
const (
	GlobalLive         = "live_allocations"
	GlobalStackPointer = "stack_pointer"
)

// ImportModule is the module name wasm-bindgen gives its JS glue.
const ImportModule = "./wasm_bg.js"

// Host imports used when Options.Imports is set
const (
	ImportThrow       = "__wbindgen_throw"
	ImportLog         = "__wbg_log_3f2ba0e1c5d8a9b7"
	ImportWriteTermLn = "__wbg_writeTermLn_9d2c11ab04e7f6e2"
)

const (
	// StackBase is the initial shadow stack pointer; the stack grows down.
	StackBase = 32768
	// HeapBase is where the bump allocator starts.
	HeapBase = 32768
	// GrowBytes is the scratch allocation made by EntryGrow.
	GrowBytes = 262144
	// FreedByte fills memory released by free.
	FreedByte = 0xAB
)

// WIT declares the entry points that exist without imports
const WIT = `
evaluate: func(input: string) -> string;
evaluate-grow: func(input: string) -> string;
evaluate-invalid: func(input: string) -> string;
`

// WITImports declares the entry points that need host imports
const WITImports = `
evaluate-log: func(input: string) -> string;
evaluate-throw: func(input: string) -> string;
evaluate-term: func(input: string) -> string;
`

// Options select ABI variants
type Options struct {
	// NoRealloc omits the __wbindgen_realloc export.
	NoRealloc bool
	// Align adds the trailing align parameter to malloc, realloc and free.
	Align bool
	// Imports adds the console, terminal and throw imports and their entries.
	Imports bool
}

const (
	globalSP = iota
	globalHeap
	globalLive
)

const i32 = wasm.ValI32

type entryFunc struct {
	name   string
	locals int
	body   []byte
}

type builder struct {
	m    *wasm.Module
	opts Options

	throwFn, logFn, termFn uint32
	mallocFn, reallocFn    uint32
	freeFn, spFn, echoFn   uint32
}

// Build returns the encoded guest module
func Build(opts Options) []byte {
	b := &builder{m: &wasm.Module{}, opts: opts}
	return b.build().Encode()
}

func (b *builder) build() *wasm.Module {
	m := b.m
	voidPair := m.AddType([]wasm.ValType{i32, i32}, nil)

	if b.opts.Imports {
		boolPair := m.AddType([]wasm.ValType{i32, i32}, []wasm.ValType{i32})
		m.Imports = append(m.Imports,
			wasm.Import{Module: ImportModule, Name: ImportThrow, TypeIdx: voidPair},
			wasm.Import{Module: ImportModule, Name: ImportLog, TypeIdx: voidPair},
			wasm.Import{Module: ImportModule, Name: ImportWriteTermLn, TypeIdx: boolPair},
		)
		b.throwFn, b.logFn, b.termFn = 0, 1, 2
	}

	// Indices are fixed up front so bodies can call forward.
	next := uint32(len(m.Imports))
	alloc := func() uint32 { next++; return next - 1 }
	b.mallocFn = alloc()
	b.reallocFn = alloc()
	b.freeFn = alloc()
	b.spFn = alloc()
	b.echoFn = alloc()

	b.addFunc(b.allocParams(1), []wasm.ValType{i32}, 2, b.malloc())
	b.addFunc(b.allocParams(3), []wasm.ValType{i32}, 1, b.realloc())
	b.addFunc(b.allocParams(2), nil, 0, b.free())
	b.addFunc([]wasm.ValType{i32}, []wasm.ValType{i32}, 0, b.addToStackPointer())

	entry := []wasm.ValType{i32, i32, i32}
	entries := []entryFunc{
		{EntryEcho, 1, b.echo()},
		{EntryGrow, 1, b.grow()},
		{EntryInvalid, 1, b.invalid()},
	}
	if b.opts.Imports {
		entries = append(entries,
			entryFunc{EntryLog, 0, b.logEcho()},
			entryFunc{EntryThrow, 0, b.throw()},
			entryFunc{EntryTerm, 1, b.term()},
		)
	}

	for _, e := range entries {
		idx := b.addFunc(entry, nil, e.locals, e.body)
		m.Exports = append(m.Exports, wasm.Export{Name: e.name, Kind: wasm.KindFunc, Idx: idx})
	}

	m.Memories = append(m.Memories, wasm.Limits{Min: 1})
	m.Globals = append(m.Globals,
		wasm.Global{Type: i32, Mutable: true, Init: StackBase},
		wasm.Global{Type: i32, Mutable: true, Init: HeapBase},
		wasm.Global{Type: i32, Mutable: true, Init: 0},
	)

	m.Exports = append(m.Exports,
		wasm.Export{Name: "memory", Kind: wasm.KindMemory, Idx: 0},
		wasm.Export{Name: "__wbindgen_malloc", Kind: wasm.KindFunc, Idx: b.mallocFn},
		wasm.Export{Name: "__wbindgen_free", Kind: wasm.KindFunc, Idx: b.freeFn},
		wasm.Export{Name: "__wbindgen_add_to_stack_pointer", Kind: wasm.KindFunc, Idx: b.spFn},
		wasm.Export{Name: GlobalLive, Kind: wasm.KindGlobal, Idx: globalLive},
		wasm.Export{Name: GlobalStackPointer, Kind: wasm.KindGlobal, Idx: globalSP},
	)
	if !b.opts.NoRealloc {
		m.Exports = append(m.Exports,
			wasm.Export{Name: "__wbindgen_realloc", Kind: wasm.KindFunc, Idx: b.reallocFn})
	}
	return m
}

func (b *builder) addFunc(params, results []wasm.ValType, locals int, body []byte) uint32 {
	t := b.m.AddType(params, results)
	ls := make([]wasm.ValType, locals)
	for i := range ls {
		ls[i] = i32
	}
	b.m.Funcs = append(b.m.Funcs, wasm.Func{TypeIdx: t, Locals: ls, Body: body})
	return b.m.FuncIndex(len(b.m.Funcs) - 1)
}

// allocParams returns n i32 params plus the align param when enabled
func (b *builder) allocParams(n int) []wasm.ValType {
	if b.opts.Align {
		n++
	}
	ps := make([]wasm.ValType, n)
	for i := range ps {
		ps[i] = i32
	}
	return ps
}

// align pushes the align argument for internal allocator calls
func (b *builder) align(c *wasm.Code) *wasm.Code {
	if b.opts.Align {
		c.I32Const(1)
	}
	return c
}

// memoryBytes pushes the memory size in bytes
func memoryBytes(c *wasm.Code) *wasm.Code {
	return c.MemorySize().I32Const(16).I32Shl()
}

func (b *builder) paramCount(n uint32) uint32 {
	if b.opts.Align {
		return n + 1
	}
	return n
}

// malloc(size[, align]) -> ptr
func (b *builder) malloc() []byte {
	const size = 0
	ptr := b.paramCount(1)
	end := ptr + 1

	var c wasm.Code
	c.GlobalGet(globalHeap).I32Const(7).I32Add().I32Const(-8).I32And().LocalTee(ptr)
	c.LocalGet(size).I32Add().LocalTee(end)
	memoryBytes(&c).I32GtU()
	c.If()
	c.LocalGet(end)
	memoryBytes(&c).I32Sub()
	c.I32Const(65535).I32Add().I32Const(16).I32ShrU()
	c.MemoryGrow().I32Const(-1).I32Eq()
	c.If().Unreachable().End()
	c.End()
	c.LocalGet(end).GlobalSet(globalHeap)
	c.GlobalGet(globalLive).I32Const(1).I32Add().GlobalSet(globalLive)
	c.LocalGet(ptr)
	return c.Bytes()
}

// realloc(ptr, old, new[, align]) -> ptr
func (b *builder) realloc() []byte {
	const ptr, oldSize, newSize = 0, 1, 2
	np := b.paramCount(3)

	var c wasm.Code
	c.LocalGet(newSize)
	b.align(&c).Call(b.mallocFn).LocalSet(np)
	c.LocalGet(np).LocalGet(ptr)
	c.LocalGet(oldSize).LocalGet(newSize).LocalGet(oldSize).LocalGet(newSize).I32LtU().Select()
	c.MemoryCopy()
	c.GlobalGet(globalLive).I32Const(1).I32Sub().GlobalSet(globalLive)
	c.LocalGet(np)
	return c.Bytes()
}

// free(ptr, size[, align])
func (b *builder) free() []byte {
	const ptr, size = 0, 1

	var c wasm.Code
	c.LocalGet(ptr).I32Const(FreedByte).LocalGet(size).MemoryFill()
	c.GlobalGet(globalLive).I32Const(1).I32Sub().GlobalSet(globalLive)
	return c.Bytes()
}

// add_to_stack_pointer(delta) -> sp
func (b *builder) addToStackPointer() []byte {
	var c wasm.Code
	c.GlobalGet(globalSP).LocalGet(0).I32Add().GlobalSet(globalSP)
	c.GlobalGet(globalSP)
	return c.Bytes()
}

const (
	retptr = 0
	inPtr  = 1
	inLen  = 2
	out    = 3
)

func (b *builder) storeResult(c *wasm.Code, lenLocal uint32) {
	c.LocalGet(retptr).LocalGet(out).I32Store(0)
	c.LocalGet(retptr).LocalGet(lenLocal).I32Store(4)
}

func (b *builder) freeInput(c *wasm.Code) {
	c.LocalGet(inPtr).LocalGet(inLen)
	b.align(c).Call(b.freeFn)
}

func (b *builder) echo() []byte {
	var c wasm.Code
	c.LocalGet(inLen)
	b.align(&c).Call(b.mallocFn).LocalSet(out)
	c.LocalGet(out).LocalGet(inPtr).LocalGet(inLen).MemoryCopy()
	b.freeInput(&c)
	b.storeResult(&c, inLen)
	return c.Bytes()
}

func (b *builder) grow() []byte {
	const scratch = out

	var c wasm.Code
	c.I32Const(GrowBytes)
	b.align(&c).Call(b.mallocFn).LocalSet(scratch)
	c.LocalGet(retptr).LocalGet(inPtr).LocalGet(inLen).Call(b.echoFn)
	c.LocalGet(scratch).I32Const(GrowBytes)
	b.align(&c).Call(b.freeFn)
	return c.Bytes()
}

func (b *builder) invalid() []byte {
	var c wasm.Code
	b.freeInput(&c)
	c.I32Const(2)
	b.align(&c).Call(b.mallocFn).LocalSet(out)
	c.LocalGet(out).I32Const(0xC3).I32Store8(0)
	c.LocalGet(out).I32Const(0x28).I32Store8(1)
	c.LocalGet(retptr).LocalGet(out).I32Store(0)
	c.LocalGet(retptr).I32Const(2).I32Store(4)
	return c.Bytes()
}

func (b *builder) logEcho() []byte {
	var c wasm.Code
	c.LocalGet(inPtr).LocalGet(inLen).Call(b.logFn)
	c.LocalGet(retptr).LocalGet(inPtr).LocalGet(inLen).Call(b.echoFn)
	return c.Bytes()
}

func (b *builder) throw() []byte {
	var c wasm.Code
	c.LocalGet(inPtr).LocalGet(inLen).Call(b.throwFn)
	c.Unreachable()
	return c.Bytes()
}

func (b *builder) term() []byte {
	var c wasm.Code
	c.LocalGet(inPtr).LocalGet(inLen).Call(b.termFn).Drop()
	b.freeInput(&c)
	c.I32Const(0)
	b.align(&c).Call(b.mallocFn).LocalSet(out)
	c.LocalGet(retptr).LocalGet(out).I32Store(0)
	c.LocalGet(retptr).I32Const(0).I32Store(4)
	return c.Bytes()
}
