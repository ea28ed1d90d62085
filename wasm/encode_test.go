package wasm

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

var header = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func TestEncode_Empty(t *testing.T) {
	m := &Module{}
	if got := m.Encode(); !bytes.Equal(got, header) {
		t.Errorf("Encode() = %x, want %x", got, header)
	}
}

func TestEncode_TypeSection(t *testing.T) {
	m := &Module{}
	m.AddType([]ValType{ValI32}, []ValType{ValI32})

	want := append([]byte{}, header...)
	want = append(want, SectionType, 6, 1, FuncTypeByte, 1, byte(ValI32), 1, byte(ValI32))
	if got := m.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestAddType_Dedup(t *testing.T) {
	m := &Module{}
	a := m.AddType([]ValType{ValI32}, nil)
	b := m.AddType([]ValType{ValI32, ValI32}, nil)
	c := m.AddType([]ValType{ValI32}, nil)

	if a != 0 || b != 1 || c != 0 {
		t.Errorf("indices = %d, %d, %d, want 0, 1, 0", a, b, c)
	}
	if len(m.Types) != 2 {
		t.Errorf("types = %d, want 2", len(m.Types))
	}
}

func TestWriteLocals_RunLength(t *testing.T) {
	var w Writer
	writeLocals(&w, []ValType{ValI32, ValI32, ValI64, ValI32})
	want := []byte{3, 2, byte(ValI32), 1, byte(ValI64), 1, byte(ValI32)}
	if !bytes.Equal(w.Bytes(), want) {
		t.Errorf("locals = %x, want %x", w.Bytes(), want)
	}
}

// buildAdder returns a module exporting memory, a mutable global and
// add(a, b) that also stores the sum at address 0.
func buildAdder() *Module {
	m := &Module{}
	t := m.AddType([]ValType{ValI32, ValI32}, []ValType{ValI32})

	var c Code
	c.LocalGet(0).LocalGet(1).I32Add().LocalSet(2)
	c.I32Const(0).LocalGet(2).I32Store(0)
	c.LocalGet(2).GlobalSet(0)
	c.LocalGet(2)

	maxPages := uint32(2)
	m.Funcs = append(m.Funcs, Func{TypeIdx: t, Locals: []ValType{ValI32}, Body: c.Bytes()})
	m.Memories = append(m.Memories, Limits{Min: 1, Max: &maxPages})
	m.Globals = append(m.Globals, Global{Type: ValI32, Mutable: true, Init: -16})
	m.Data = append(m.Data, DataSegment{Offset: 8, Init: []byte("hi")})
	m.Exports = append(m.Exports,
		Export{Name: "add", Kind: KindFunc, Idx: m.FuncIndex(0)},
		Export{Name: "memory", Kind: KindMemory, Idx: 0},
		Export{Name: "last", Kind: KindGlobal, Idx: 0},
	)
	return m
}

func TestEncode_RunsInWazero(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, buildAdder().Encode())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	if g := mod.ExportedGlobal("last"); g == nil || int32(uint32(g.Get())) != -16 {
		t.Fatalf("global init wrong: %v", g)
	}

	res, err := mod.ExportedFunction("add").Call(ctx, 40, 2)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res[0] != 42 {
		t.Errorf("add = %d, want 42", res[0])
	}

	mem := mod.Memory()
	if v, ok := mem.ReadUint32Le(0); !ok || v != 42 {
		t.Errorf("mem[0] = %d, %v", v, ok)
	}
	if b, ok := mem.Read(8, 2); !ok || string(b) != "hi" {
		t.Errorf("data segment = %q, %v", b, ok)
	}
	if g := mod.ExportedGlobal("last").Get(); g != 42 {
		t.Errorf("global = %d, want 42", g)
	}
	if size := mem.Size(); size != 65536 {
		t.Errorf("memory size = %d", size)
	}
}

func TestEncode_ImportsShiftFuncIndex(t *testing.T) {
	m := &Module{}
	sig := m.AddType([]ValType{ValI32}, nil)
	m.Imports = append(m.Imports, Import{Module: "env", Name: "log", TypeIdx: sig})

	var c Code
	c.LocalGet(0).Call(0)
	m.Funcs = append(m.Funcs, Func{TypeIdx: sig, Body: c.Bytes()})
	m.Exports = append(m.Exports, Export{Name: "run", Kind: KindFunc, Idx: m.FuncIndex(0)})

	if m.FuncIndex(0) != 1 {
		t.Fatalf("FuncIndex(0) = %d, want 1", m.FuncIndex(0))
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, m.Encode())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	imports := compiled.ImportedFunctions()
	if len(imports) != 1 {
		t.Fatalf("imports = %d", len(imports))
	}
	mod, name, _ := imports[0].Import()
	if mod != "env" || name != "log" {
		t.Errorf("import = %s.%s", mod, name)
	}
}
