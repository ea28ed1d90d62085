package transcoder

import (
	"context"
	"math"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bessy-lang/wasm-bridge/errors"
)

// EncodedString is a host string written into guest memory.
// Ptr and Len are what the guest receives; Alloc is the underlying block,
// which may be larger than Len.
type EncodedString struct {
	Alloc Allocation
	Ptr   uint32
	Len   uint32
}

// Encoder writes Go strings into guest memory as UTF-8
type Encoder struct {
	proxy  *Proxy
	views  *Views
	logger *zap.Logger
}

func NewEncoder(proxy *Proxy, views *Views, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{proxy: proxy, views: views, logger: logger}
}

// maxEncodable keeps the worst-case realloc size within 32 bits
const maxEncodable = math.MaxUint32 / 3

// Encode copies s into a fresh guest allocation.
//
// The first allocation is len(s) bytes, enough for pure ASCII. At the first
// non-ASCII byte the block is reallocated to the worst case for the rest of
// the string (3 bytes per remaining host byte) and encoding continues in
// the new block. Invalid UTF-8 in s is written as U+FFFD.
//
// On failure no allocation is left outstanding.
func (e *Encoder) Encode(ctx context.Context, s string) (EncodedString, error) {
	if uint64(len(s)) > maxEncodable {
		return EncodedString{}, errors.InvalidInput(errors.PhaseEncode,
			"string too large for 32-bit guest memory")
	}
	if !e.proxy.CanRealloc() {
		return e.encodeExact(ctx, s)
	}

	n := uint32(len(s))
	a, err := e.proxy.Malloc(ctx, n)
	if err != nil {
		return EncodedString{}, withPhase(err, errors.PhaseEncode)
	}

	dst, err := e.views.Range(errors.PhaseEncode, a.Ptr, n)
	if err != nil {
		e.discard(ctx, a)
		return EncodedString{}, err
	}

	k := 0
	for ; k < len(s); k++ {
		c := s[k]
		if c >= utf8.RuneSelf {
			break
		}
		dst[k] = c
	}
	if k == len(s) {
		return EncodedString{Alloc: a, Ptr: a.Ptr, Len: n}, nil
	}

	rest := s[k:]
	newSize := uint32(k) + uint32(len(rest))*3
	grown, err := e.proxy.Realloc(ctx, a, newSize)
	if err != nil {
		e.discard(ctx, a)
		return EncodedString{}, withPhase(err, errors.PhaseEncode)
	}

	// realloc may have replaced the buffer
	dst, err = e.views.Range(errors.PhaseEncode, grown.Ptr+uint32(k), newSize-uint32(k))
	if err != nil {
		e.discard(ctx, grown)
		return EncodedString{}, err
	}
	_, written := EncodeInto(dst, rest)

	e.logger.Debug("encoded non-ASCII string",
		zap.Int("ascii_prefix", k),
		zap.Uint32("reserved", newSize),
		zap.Int("length", k+written))

	return EncodedString{Alloc: grown, Ptr: grown.Ptr, Len: uint32(k + written)}, nil
}

// encodeExact is used when the guest has no realloc: measure, allocate the
// exact size, then copy.
func (e *Encoder) encodeExact(ctx context.Context, s string) (EncodedString, error) {
	n := uint32(EncodedLen(s))
	a, err := e.proxy.Malloc(ctx, n)
	if err != nil {
		return EncodedString{}, withPhase(err, errors.PhaseEncode)
	}
	dst, err := e.views.Range(errors.PhaseEncode, a.Ptr, n)
	if err != nil {
		e.discard(ctx, a)
		return EncodedString{}, err
	}
	EncodeInto(dst, s)
	return EncodedString{Alloc: a, Ptr: a.Ptr, Len: n}, nil
}

func (e *Encoder) discard(ctx context.Context, a Allocation) {
	if err := e.proxy.Free(ctx, a); err != nil {
		e.logger.Warn("failed to free partial string allocation",
			zap.Uint32("ptr", a.Ptr),
			zap.Uint32("size", a.Size),
			zap.Error(err))
	}
}

// EncodeInto writes as many whole runes of s into dst as fit and reports
// the bytes consumed from s and written to dst. Invalid UTF-8 bytes in s
// are written as U+FFFD.
func EncodeInto(dst []byte, s string) (read, written int) {
	for read < len(s) {
		r, size := utf8.DecodeRuneInString(s[read:])
		w := utf8.RuneLen(r)
		if written+w > len(dst) {
			break
		}
		utf8.EncodeRune(dst[written:], r)
		written += w
		read += size
	}
	return read, written
}

// EncodedLen returns the number of bytes EncodeInto writes for s
func EncodedLen(s string) int {
	n := 0
	for _, r := range s {
		n += utf8.RuneLen(r)
	}
	return n
}

// withPhase re-tags a structured error with the phase it surfaced in
func withPhase(err error, phase errors.Phase) error {
	if e, ok := err.(*errors.Error); ok {
		c := *e
		c.Phase = phase
		return &c
	}
	return err
}
