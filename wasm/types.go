package wasm

// Module is a core WebAssembly module ready to be encoded
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []Func
	Memories []Limits
	Globals  []Global
	Exports  []Export
	Data     []DataSegment
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is a function import
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// Func is a defined function: its type index, extra locals and body.
// Body holds the instruction bytes without the trailing end opcode.
type Func struct {
	TypeIdx uint32
	Locals  []ValType
	Body    []byte
}

// Limits describes memory bounds in 64KiB pages
type Limits struct {
	Min uint32
	Max *uint32
}

// Global is a global with a constant i32 initializer
type Global struct {
	Type    ValType
	Mutable bool
	Init    int32
}

// Export names a function, memory or global
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// DataSegment is an active data segment for memory 0
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// AddType appends a function type and returns its index, reusing an
// identical existing type.
func (m *Module) AddType(params, results []ValType) uint32 {
	for i, t := range m.Types {
		if equalTypes(t.Params, params) && equalTypes(t.Results, results) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, FuncType{Params: params, Results: results})
	return uint32(len(m.Types) - 1)
}

// FuncIndex returns the function index space position of the i-th defined
// function. Imports occupy the first indices.
func (m *Module) FuncIndex(i int) uint32 {
	return uint32(len(m.Imports) + i)
}

func equalTypes(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
