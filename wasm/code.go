package wasm

// Code builds a function body one instruction at a time.
// Methods return the receiver so sequences read like the text format:
//
//	var c wasm.Code
//	c.LocalGet(0).LocalGet(1).I32Add()
type Code struct {
	b []byte
}

// Bytes returns the encoded instructions
func (c *Code) Bytes() []byte {
	return c.b
}

// Op appends a single-byte opcode
func (c *Code) Op(op byte) *Code {
	c.b = append(c.b, op)
	return c
}

func (c *Code) opU32(op byte, v uint32) *Code {
	c.b = append(c.b, op)
	c.b = AppendULEB128(c.b, v)
	return c
}

func (c *Code) memarg(op byte, align, offset uint32) *Code {
	c.b = append(c.b, op)
	c.b = AppendULEB128(c.b, align)
	c.b = AppendULEB128(c.b, offset)
	return c
}

func (c *Code) Unreachable() *Code { return c.Op(OpUnreachable) }
func (c *Code) Drop() *Code        { return c.Op(OpDrop) }
func (c *Code) Select() *Code      { return c.Op(OpSelect) }
func (c *Code) Return() *Code      { return c.Op(OpReturn) }
func (c *Code) Else() *Code        { return c.Op(OpElse) }
func (c *Code) End() *Code         { return c.Op(OpEnd) }

// If opens an if block with an empty block type
func (c *Code) If() *Code {
	c.b = append(c.b, OpIf, BlockVoid)
	return c
}

// Block opens a block with an empty block type
func (c *Code) Block() *Code {
	c.b = append(c.b, OpBlock, BlockVoid)
	return c
}

// Loop opens a loop with an empty block type
func (c *Code) Loop() *Code {
	c.b = append(c.b, OpLoop, BlockVoid)
	return c
}

func (c *Code) Br(depth uint32) *Code   { return c.opU32(OpBr, depth) }
func (c *Code) BrIf(depth uint32) *Code { return c.opU32(OpBrIf, depth) }
func (c *Code) Call(fn uint32) *Code    { return c.opU32(OpCall, fn) }

func (c *Code) LocalGet(i uint32) *Code  { return c.opU32(OpLocalGet, i) }
func (c *Code) LocalSet(i uint32) *Code  { return c.opU32(OpLocalSet, i) }
func (c *Code) LocalTee(i uint32) *Code  { return c.opU32(OpLocalTee, i) }
func (c *Code) GlobalGet(i uint32) *Code { return c.opU32(OpGlobalGet, i) }
func (c *Code) GlobalSet(i uint32) *Code { return c.opU32(OpGlobalSet, i) }

// I32Load loads a 4-byte aligned word at the address on the stack plus offset
func (c *Code) I32Load(offset uint32) *Code { return c.memarg(OpI32Load, 2, offset) }

// I32Load8U loads one byte zero-extended
func (c *Code) I32Load8U(offset uint32) *Code { return c.memarg(OpI32Load8U, 0, offset) }

// I32Store stores a 4-byte aligned word
func (c *Code) I32Store(offset uint32) *Code { return c.memarg(OpI32Store, 2, offset) }

// I32Store8 stores the low byte
func (c *Code) I32Store8(offset uint32) *Code { return c.memarg(OpI32Store8, 0, offset) }

// MemorySize pushes the size of memory 0 in pages
func (c *Code) MemorySize() *Code {
	c.b = append(c.b, OpMemorySize, 0x00)
	return c
}

// MemoryGrow grows memory 0 by the page count on the stack
func (c *Code) MemoryGrow() *Code {
	c.b = append(c.b, OpMemoryGrow, 0x00)
	return c
}

// MemoryCopy copies within memory 0: [dst, src, n] -> []
func (c *Code) MemoryCopy() *Code {
	c.b = append(c.b, OpPrefixMisc)
	c.b = AppendULEB128(c.b, MiscMemoryCopy)
	c.b = append(c.b, 0x00, 0x00)
	return c
}

// MemoryFill fills memory 0: [dst, value, n] -> []
func (c *Code) MemoryFill() *Code {
	c.b = append(c.b, OpPrefixMisc)
	c.b = AppendULEB128(c.b, MiscMemoryFill)
	c.b = append(c.b, 0x00)
	return c
}

// I32Const pushes a constant
func (c *Code) I32Const(v int32) *Code {
	c.b = append(c.b, OpI32Const)
	c.b = AppendSLEB128(c.b, v)
	return c
}

func (c *Code) I32Eqz() *Code  { return c.Op(OpI32Eqz) }
func (c *Code) I32Eq() *Code   { return c.Op(OpI32Eq) }
func (c *Code) I32Ne() *Code   { return c.Op(OpI32Ne) }
func (c *Code) I32LtU() *Code  { return c.Op(OpI32LtU) }
func (c *Code) I32GtU() *Code  { return c.Op(OpI32GtU) }
func (c *Code) I32GeU() *Code  { return c.Op(OpI32GeU) }
func (c *Code) I32Add() *Code  { return c.Op(OpI32Add) }
func (c *Code) I32Sub() *Code  { return c.Op(OpI32Sub) }
func (c *Code) I32Mul() *Code  { return c.Op(OpI32Mul) }
func (c *Code) I32And() *Code  { return c.Op(OpI32And) }
func (c *Code) I32Or() *Code   { return c.Op(OpI32Or) }
func (c *Code) I32Shl() *Code  { return c.Op(OpI32Shl) }
func (c *Code) I32ShrU() *Code { return c.Op(OpI32ShrU) }
