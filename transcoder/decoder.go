package transcoder

import (
	"unsafe"

	"golang.org/x/text/encoding"

	"github.com/bessy-lang/wasm-bridge/errors"
)

// Decoder reads guest UTF-8 into Go strings
type Decoder struct {
	views *Views
}

func NewDecoder(views *Views) *Decoder {
	return &Decoder{views: views}
}

// Decode returns a copy of the length bytes at ptr.
// Malformed UTF-8 is an error, never replaced. A leading BOM is kept.
func (d *Decoder) Decode(ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	src, err := d.views.Range(errors.PhaseDecode, ptr, length)
	if err != nil {
		return "", err
	}

	dst := make([]byte, len(src))
	nDst, nSrc, err := encoding.UTF8Validator.Transform(dst, src, true)
	if err != nil {
		return "", errors.InvalidEncoding(errors.PhaseDecode, nSrc, src[nSrc:])
	}
	return unsafe.String(&dst[0], nDst), nil
}
