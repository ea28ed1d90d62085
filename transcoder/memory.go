package transcoder

import (
	"encoding/binary"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
	"github.com/bessy-lang/wasm-bridge/errors"
)

type Memory = wasmbridge.Memory

// Views caches the current overlay of guest memory.
//
// The cached slice is nil when it must be rebuilt. Anything that can grow
// guest memory (Proxy.Malloc, Proxy.Realloc, a guest call) must call
// Invalidate; the next Bytes or Words re-fetches Memory.Buffer.
type Views struct {
	mem      Memory
	bytes    []byte
	gen      uint64
	rebuilds int
}

func NewViews(mem Memory) *Views {
	return &Views{mem: mem}
}

// Invalidate drops the cached view
func (v *Views) Invalidate() {
	v.bytes = nil
	v.gen++
}

// Bytes returns a byte view of the whole memory.
// A zero-length cache is treated as stale too, so a detached buffer is
// never served.
func (v *Views) Bytes() []byte {
	if len(v.bytes) == 0 {
		v.bytes = v.mem.Buffer()
		v.rebuilds++
	}
	return v.bytes
}

// Range returns the sub-slice [ptr, ptr+length) of a current byte view
func (v *Views) Range(phase errors.Phase, ptr, length uint32) ([]byte, error) {
	buf := v.Bytes()
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(buf)) {
		return nil, errors.OutOfBounds(phase, ptr, length, len(buf))
	}
	return buf[ptr:end:end], nil
}

// Words returns a 32-bit little-endian word view of the whole memory
func (v *Views) Words() WordView {
	return WordView{b: v.Bytes(), gen: v.gen, owner: v}
}

// Generation counts invalidations. Views taken in an older generation are stale.
func (v *Views) Generation() uint64 {
	return v.gen
}

// Rebuilds reports how many times the view was re-fetched
func (v *Views) Rebuilds() int {
	return v.rebuilds
}

// WordView reads little-endian 32-bit words. Index i covers bytes [4i, 4i+4).
type WordView struct {
	owner *Views
	b     []byte
	gen   uint64
}

// At returns word index. It fails if the view was taken before the last
// invalidation or the word lies outside memory.
func (w WordView) At(index uint32) (uint32, error) {
	if w.owner != nil && w.owner.gen != w.gen {
		return 0, errors.StaleView(errors.PhaseDecode, w.gen, w.owner.gen)
	}
	off := uint64(index) * 4
	if off+4 > uint64(len(w.b)) {
		return 0, errors.OutOfBounds(errors.PhaseDecode, uint32(off), 4, len(w.b))
	}
	return binary.LittleEndian.Uint32(w.b[off:]), nil
}

// Len returns the number of whole words in the view
func (w WordView) Len() int {
	return len(w.b) / 4
}
