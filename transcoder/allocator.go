package transcoder

import (
	"context"

	"go.uber.org/zap"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
	"github.com/bessy-lang/wasm-bridge/errors"
)

type Allocator = wasmbridge.Allocator

// Allocation is a guest heap block. Size is what was requested from the
// guest and is passed back unchanged on free.
type Allocation struct {
	Ptr  uint32
	Size uint32
}

// Proxy wraps the guest allocator.
//
// Every call that can grow memory invalidates the view cache. The proxy
// keeps a ledger of the blocks the host currently owns so each one is freed
// once with its original size.
type Proxy struct {
	alloc    Allocator
	realloc  wasmbridge.Reallocator
	views    *Views
	logger   *zap.Logger
	owned    map[uint32]uint32
	mallocs  int
	reallocs int
	frees    int
}

// NewProxy creates a proxy. Realloc is available when alloc implements
// wasmbridge.Reallocator and, if it also implements
// wasmbridge.OptionalRealloc, reports that the export exists.
func NewProxy(alloc Allocator, views *Views, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Proxy{
		alloc:  alloc,
		views:  views,
		logger: logger,
		owned:  make(map[uint32]uint32),
	}
	if r, ok := alloc.(wasmbridge.Reallocator); ok {
		if o, ok := alloc.(wasmbridge.OptionalRealloc); !ok || o.HasRealloc() {
			p.realloc = r
		}
	}
	return p
}

// CanRealloc reports whether the guest exports realloc
func (p *Proxy) CanRealloc() bool {
	return p.realloc != nil
}

// Malloc allocates size bytes in the guest
func (p *Proxy) Malloc(ctx context.Context, size uint32) (Allocation, error) {
	ptr, err := p.alloc.Malloc(ctx, size)
	p.views.Invalidate()
	p.mallocs++
	if err != nil {
		return Allocation{}, errors.GuestAllocation(errors.PhaseRuntime, "malloc", size, err)
	}
	if ptr == 0 && size > 0 {
		return Allocation{}, errors.GuestAllocation(errors.PhaseRuntime, "malloc", size, nil)
	}

	a := Allocation{Ptr: ptr, Size: size}
	p.own(a)
	p.logger.Debug("guest malloc", zap.Uint32("ptr", ptr), zap.Uint32("size", size))
	return a, nil
}

// Realloc resizes a to newSize. The returned allocation replaces a; the
// first a.Size bytes are preserved by the guest.
func (p *Proxy) Realloc(ctx context.Context, a Allocation, newSize uint32) (Allocation, error) {
	if p.realloc == nil {
		return Allocation{}, errors.New(errors.PhaseRuntime, errors.KindMissingExport).
			Detail("guest does not export realloc").
			Build()
	}
	if !p.Owns(a) {
		return Allocation{}, p.notOwned(a)
	}

	ptr, err := p.realloc.Realloc(ctx, a.Ptr, a.Size, newSize)
	p.views.Invalidate()
	p.reallocs++
	if err != nil {
		return Allocation{}, errors.GuestAllocation(errors.PhaseRuntime, "realloc", newSize, err)
	}
	if ptr == 0 && newSize > 0 {
		return Allocation{}, errors.GuestAllocation(errors.PhaseRuntime, "realloc", newSize, nil)
	}

	delete(p.owned, a.Ptr)
	na := Allocation{Ptr: ptr, Size: newSize}
	p.own(na)
	p.logger.Debug("guest realloc",
		zap.Uint32("old_ptr", a.Ptr),
		zap.Uint32("old_size", a.Size),
		zap.Uint32("ptr", ptr),
		zap.Uint32("size", newSize))
	return na, nil
}

// Free releases a. Blocks the proxy does not own, or owns with a different
// size, are refused and never reach the guest.
func (p *Proxy) Free(ctx context.Context, a Allocation) error {
	if !p.Owns(a) {
		return p.notOwned(a)
	}
	delete(p.owned, a.Ptr)
	p.frees++

	if err := p.alloc.Free(ctx, a.Ptr, a.Size); err != nil {
		p.views.Invalidate()
		return errors.New(errors.PhaseRelease, errors.KindTrap).
			Detail("free of %d bytes at %d failed", a.Size, a.Ptr).
			Value(a.Ptr).
			Cause(err).
			Build()
	}
	p.logger.Debug("guest free", zap.Uint32("ptr", a.Ptr), zap.Uint32("size", a.Size))
	return nil
}

// Adopt takes ownership of a block the guest allocated, such as a result
// buffer.
func (p *Proxy) Adopt(a Allocation) {
	p.own(a)
}

// Release forgets a without freeing it. Use when ownership moves to the guest.
func (p *Proxy) Release(a Allocation) {
	if size, ok := p.owned[a.Ptr]; ok && size == a.Size {
		delete(p.owned, a.Ptr)
	}
}

// Owns reports whether a is owned by the host with exactly this size
func (p *Proxy) Owns(a Allocation) bool {
	size, ok := p.owned[a.Ptr]
	return ok && size == a.Size
}

// Outstanding returns the number of blocks the host currently owns
func (p *Proxy) Outstanding() int {
	return len(p.owned)
}

func (p *Proxy) Mallocs() int  { return p.mallocs }
func (p *Proxy) Reallocs() int { return p.reallocs }
func (p *Proxy) Frees() int    { return p.frees }

func (p *Proxy) own(a Allocation) {
	if size, ok := p.owned[a.Ptr]; ok && a.Size != 0 {
		p.logger.Warn("guest returned a block the host already owns",
			zap.Uint32("ptr", a.Ptr),
			zap.Uint32("owned_size", size),
			zap.Uint32("size", a.Size))
	}
	p.owned[a.Ptr] = a.Size
}

func (p *Proxy) notOwned(a Allocation) error {
	b := errors.New(errors.PhaseRelease, errors.KindInvalidInput).Value(a.Ptr)
	if size, ok := p.owned[a.Ptr]; ok {
		return b.Detail("block at %d has size %d, not %d", a.Ptr, size, a.Size).Build()
	}
	return b.Detail("block at %d (%d bytes) not owned by host", a.Ptr, a.Size).Build()
}
