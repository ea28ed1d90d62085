package runtime

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	wasmbridge "github.com/bessy-lang/wasm-bridge"
	"github.com/bessy-lang/wasm-bridge/errors"
	"github.com/bessy-lang/wasm-bridge/transcoder"
)

// BridgeOptions configures a Bridge
type BridgeOptions struct {
	// SlotSize is the return slot size. Defaults to DefaultReturnSlotSize.
	SlotSize uint32
	Logger   *zap.Logger
	Metrics  *Metrics
}

// Bridge passes strings into guest entry points and reads their string
// results. It is not safe for concurrent use.
type Bridge struct {
	guest    wasmbridge.Guest
	views    *transcoder.Views
	proxy    *transcoder.Proxy
	enc      *transcoder.Encoder
	dec      *transcoder.Decoder
	slotSize uint32
	logger   *zap.Logger
	metrics  *Metrics
}

func NewBridge(guest wasmbridge.Guest, opts BridgeOptions) *Bridge {
	if opts.SlotSize == 0 {
		opts.SlotSize = DefaultReturnSlotSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	views := transcoder.NewViews(guest)
	proxy := transcoder.NewProxy(guest, views, opts.Logger)
	return &Bridge{
		guest:    guest,
		views:    views,
		proxy:    proxy,
		enc:      transcoder.NewEncoder(proxy, views, opts.Logger),
		dec:      transcoder.NewDecoder(views),
		slotSize: opts.SlotSize,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Call runs entry(retptr, ptr, len) with input and returns the decoded
// result.
//
// The return slot is released and the result block freed on every path,
// including decode failures. The first error is returned; a cleanup error
// is returned only when nothing failed before it.
func (b *Bridge) Call(ctx context.Context, entry, input string) (out string, err error) {
	reallocs := b.proxy.Reallocs()
	var encoded uint32
	defer func() {
		b.metrics.observe(entry, outcome(err), b.proxy.Reallocs()-reallocs, int(encoded), b.proxy.Outstanding())
	}()

	slot, err := reserveSlot(ctx, b.guest, b.slotSize)
	if err != nil {
		return "", withEntry(err, entry)
	}
	b.enter(entry, phaseSlotReserved)

	var result resultDescriptor
	defer func() {
		if cerr := b.cleanup(ctx, entry, slot, &result); cerr != nil {
			if err == nil {
				out, err = "", withEntry(cerr, entry)
			} else {
				b.logger.Warn("cleanup after failed call",
					zap.String("entry", entry),
					zap.NamedError("call_error", err),
					zap.Error(cerr))
			}
		}
		b.enter(entry, phaseIdle)
	}()

	enc, err := b.enc.Encode(ctx, input)
	if err != nil {
		return "", withEntry(err, entry)
	}
	encoded = enc.Len
	b.enter(entry, phaseEncoded)

	err = b.guest.Invoke(ctx, entry, slot.ptr, enc.Ptr, enc.Len)
	b.views.Invalidate()
	if err != nil {
		return "", b.invokeFailed(ctx, entry, enc, err)
	}
	// The guest owns and frees its input.
	b.proxy.Release(enc.Alloc)
	b.enter(entry, phaseInvoked)

	result, err = b.readResult(slot.ptr)
	if err != nil {
		return "", withEntry(err, entry)
	}
	b.enter(entry, phaseResultRead)

	out, err = b.dec.Decode(result.alloc.Ptr, result.alloc.Size)
	if err != nil {
		b.enter(entry, phaseDecodeFailed)
		return "", withEntry(err, entry)
	}
	b.enter(entry, phaseDecoded)
	return out, nil
}

// readResult reads the (ptr, len) words at retptr and takes ownership of
// the block they describe
func (b *Bridge) readResult(retptr uint32) (resultDescriptor, error) {
	words := b.views.Words()
	ptr, err := words.At(retptr / 4)
	if err != nil {
		return resultDescriptor{}, err
	}
	length, err := words.At(retptr/4 + 1)
	if err != nil {
		return resultDescriptor{}, err
	}
	a := transcoder.Allocation{Ptr: ptr, Size: length}
	b.proxy.Adopt(a)
	return resultDescriptor{alloc: a, valid: true}, nil
}

// invokeFailed classifies a failed entry call. If the entry was rejected
// before the guest ran, the host still owns the input and frees it.
func (b *Bridge) invokeFailed(ctx context.Context, entry string, enc transcoder.EncodedString, err error) error {
	if stderrors.Is(err, &errors.Error{Kind: errors.KindMissingExport}) ||
		stderrors.Is(err, &errors.Error{Kind: errors.KindSignature}) {
		if ferr := b.proxy.Free(ctx, enc.Alloc); ferr != nil {
			b.logger.Warn("free input after rejected call", zap.String("entry", entry), zap.Error(ferr))
		}
		return withEntry(err, entry)
	}
	b.proxy.Release(enc.Alloc)
	return errors.Trap(entry, err)
}

func (b *Bridge) cleanup(ctx context.Context, entry string, slot *returnSlot, result *resultDescriptor) error {
	first := slot.release(ctx, b.logger)
	b.enter(entry, phaseReleased)
	if !result.valid {
		return first
	}
	result.valid = false
	if err := b.proxy.Free(ctx, result.alloc); err != nil {
		if first != nil {
			b.logger.Warn("free result", zap.String("entry", entry), zap.Error(err))
			return first
		}
		return err
	}
	return first
}

func (b *Bridge) enter(entry string, p callPhase) {
	if ce := b.logger.Check(zap.DebugLevel, "call phase"); ce != nil {
		ce.Write(zap.String("entry", entry), zap.Stringer("phase", p))
	}
}

// Outstanding returns the number of guest blocks the host still owns.
// It is zero between calls.
func (b *Bridge) Outstanding() int {
	return b.proxy.Outstanding()
}

// withEntry tags a structured error with the entry point name
func withEntry(err error, entry string) error {
	e, ok := err.(*errors.Error)
	if !ok || e.Entry != "" {
		return err
	}
	c := *e
	c.Entry = entry
	return &c
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.IsGuestAllocation(err):
		return outcomeAllocation
	case errors.IsInvalidEncoding(err):
		return outcomeInvalidUTF8
	case stderrors.Is(err, &errors.Error{Phase: errors.PhaseRelease, Kind: errors.KindTrap}):
		return outcomeCleanupError
	case errors.IsTrap(err):
		return outcomeTrap
	default:
		return outcomeOther
	}
}
