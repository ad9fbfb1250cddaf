package geotag

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	tiffMagic      = 42
	tiffHeaderSize = 8
)

// TiffContext is fixed by the TIFF header and shared by every later read of
// the same extraction. Directory and value offsets are relative to Base.
type TiffContext struct {
	Base  int
	Order binary.ByteOrder
	Root  uint32
}

// parseHeader reads the 8-byte TIFF header at the absolute offset at:
// byte order mark, magic 42, offset of the first directory.
func parseHeader(b []byte, at int) (TiffContext, error) {
	p, err := span(b, at, tiffHeaderSize)
	if err != nil {
		return TiffContext{}, errors.Wrap(err, "tiff header")
	}

	var order binary.ByteOrder
	switch string(p[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return TiffContext{}, errors.Wrapf(ErrMalformedHeader, "byte order mark %q", p[0:2])
	}
	if m := order.Uint16(p[2:4]); m != tiffMagic {
		return TiffContext{}, errors.Wrapf(ErrMalformedHeader, "magic %d", m)
	}

	return TiffContext{
		Base:  at,
		Order: order,
		Root:  order.Uint32(p[4:8]),
	}, nil
}

// resolve turns a Base-relative offset into an absolute one inside b.
func (ctx TiffContext) resolve(b []byte, rel uint32) (int, error) {
	abs := int64(ctx.Base) + int64(rel)
	if abs > int64(len(b)) {
		return 0, errors.Wrapf(ErrTruncatedBuffer, "offset %d past end %d", abs, len(b))
	}
	return int(abs), nil
}
