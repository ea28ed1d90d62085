// Package wasm encodes core WebAssembly modules.
//
// It covers the subset needed to assemble small guests in Go: function
// types, function imports, defined functions, one memory, i32 globals,
// exports and active data segments.
//
// Build a module and encode it:
//
//	m := &wasm.Module{}
//	t := m.AddType([]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI32})
//
//	var c wasm.Code
//	c.LocalGet(0).LocalGet(1).I32Add()
//	m.Funcs = append(m.Funcs, wasm.Func{TypeIdx: t, Body: c.Bytes()})
//	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc, Idx: 0})
//
//	bin := m.Encode()
//
// Function bodies omit the final end opcode; Encode appends it.
package wasm
