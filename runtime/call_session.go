package runtime

import (
	"context"

	"go.uber.org/zap"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
	"github.com/bessy-lang/wasm-bridge/errors"
	"github.com/bessy-lang/wasm-bridge/transcoder"
)

// returnSlot is scratch space on the guest shadow stack where an entry
// point writes its (ptr, len) result. It is released exactly once with the
// opposite delta.
type returnSlot struct {
	sp   wasmbridge.StackPointer
	ptr  uint32
	size uint32
	held bool
}

func reserveSlot(ctx context.Context, sp wasmbridge.StackPointer, size uint32) (*returnSlot, error) {
	ptr, err := sp.AddToStackPointer(ctx, -int32(size))
	if err != nil {
		return nil, errors.New(errors.PhaseInvoke, errors.KindTrap).
			Detail("reserve %d-byte return slot", size).
			Cause(err).
			Build()
	}
	if ptr%4 != 0 {
		_, _ = sp.AddToStackPointer(ctx, int32(size))
		return nil, errors.New(errors.PhaseInvoke, errors.KindInvalidData).
			Detail("return slot at %d is not word aligned", ptr).
			Value(ptr).
			Build()
	}
	return &returnSlot{sp: sp, ptr: ptr, size: size, held: true}, nil
}

// release gives the slot back. Calling it again does nothing.
func (s *returnSlot) release(ctx context.Context, logger *zap.Logger) error {
	if !s.held {
		return nil
	}
	s.held = false
	sp, err := s.sp.AddToStackPointer(ctx, int32(s.size))
	if err != nil {
		return errors.New(errors.PhaseRelease, errors.KindTrap).
			Detail("release %d-byte return slot", s.size).
			Cause(err).
			Build()
	}
	if sp != s.ptr+s.size {
		logger.Warn("shadow stack pointer moved during call",
			zap.Uint32("want", s.ptr+s.size),
			zap.Uint32("got", sp))
	}
	return nil
}

// resultDescriptor is the (ptr, len) an entry point returns. The zero
// value means there is nothing to free.
type resultDescriptor struct {
	alloc transcoder.Allocation
	valid bool
}

// callPhase tracks a call through the bridge
type callPhase int

const (
	phaseIdle callPhase = iota
	phaseSlotReserved
	phaseEncoded
	phaseInvoked
	phaseResultRead
	phaseDecoded
	phaseDecodeFailed
	phaseReleased
)

func (p callPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseSlotReserved:
		return "slot_reserved"
	case phaseEncoded:
		return "encoded"
	case phaseInvoked:
		return "invoked"
	case phaseResultRead:
		return "result_read"
	case phaseDecoded:
		return "decoded"
	case phaseDecodeFailed:
		return "decode_failed"
	case phaseReleased:
		return "released"
	default:
		return "unknown"
	}
}
