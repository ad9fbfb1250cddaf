package geotag

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Diagnostic failures. Extract collapses all of them, except ErrNilBuffer,
// to "no coordinates"; Decode returns them wrapped with the offending offset.
var (
	ErrNilBuffer            = errors.New("geotag: nil buffer")
	ErrNotThisFormat        = errors.New("geotag: not a jpeg stream")
	ErrNoMetadataSegment    = errors.New("geotag: no exif segment")
	ErrMalformedHeader      = errors.New("geotag: malformed tiff header")
	ErrTruncatedBuffer      = errors.New("geotag: truncated buffer")
	ErrMissingGPSTags       = errors.New("geotag: missing gps tags")
	ErrInvalidReference     = errors.New("geotag: invalid hemisphere reference")
	ErrUnsupportedValueType = errors.New("geotag: unsupported value type")
)

// span returns the n bytes of b starting at off.
func span(b []byte, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(b) || n > len(b)-off {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "need %d bytes at %d, have %d", n, off, len(b))
	}
	return b[off : off+n], nil
}

func readUint16(b []byte, order binary.ByteOrder, off int) (uint16, error) {
	p, err := span(b, off, 2)
	if err != nil {
		return 0, err
	}
	return order.Uint16(p), nil
}
