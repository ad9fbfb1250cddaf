package geotag

import (
	"fmt"

	"github.com/pkg/errors"
)

// An IFD is a 2-byte entry count followed by that many 12-byte entries:
//
//  - the tag,
//  - the value type and the number of values,
//  - the value itself when it fits in 4 bytes, otherwise a pointer to it.
const entrySize = 12

// ValueType is the TIFF field type of a directory entry. Only the types
// listed below are understood; anything else is refused instead of being
// read with a guessed width.
type ValueType uint16

const (
	TypeByte      ValueType = 1
	TypeASCII     ValueType = 2
	TypeShort     ValueType = 3
	TypeLong      ValueType = 4
	TypeRational  ValueType = 5
	TypeUndefined ValueType = 7
	TypeSLong     ValueType = 9
	TypeSRational ValueType = 10
	TypeIFD       ValueType = 13
)

// Size returns the width in bytes of one value of type t.
func (t ValueType) Size() (int, error) {
	switch t {
	case TypeByte, TypeASCII, TypeUndefined:
		return 1, nil
	case TypeShort:
		return 2, nil
	case TypeLong, TypeSLong, TypeIFD:
		return 4, nil
	case TypeRational, TypeSRational:
		return rationalSize, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedValueType, "type %d", uint16(t))
	}
}

func (t ValueType) String() string {
	switch t {
	case TypeByte:
		return "BYTE"
	case TypeASCII:
		return "ASCII"
	case TypeShort:
		return "SHORT"
	case TypeLong:
		return "LONG"
	case TypeRational:
		return "RATIONAL"
	case TypeUndefined:
		return "UNDEFINED"
	case TypeSLong:
		return "SLONG"
	case TypeSRational:
		return "SRATIONAL"
	case TypeIFD:
		return "IFD"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(t))
	}
}

// DirectoryEntry is one raw 12-byte IFD record. Value is kept undecoded:
// whether it holds data or a pointer depends on Type and Count.
type DirectoryEntry struct {
	Tag   uint16
	Type  ValueType
	Count uint32
	Value [4]byte
}

// dataSize is the total encoded size of the entry's values.
func (e DirectoryEntry) dataSize() (int64, error) {
	sz, err := e.Type.Size()
	if err != nil {
		return 0, errors.Wrapf(err, "tag 0x%04x", e.Tag)
	}
	return int64(sz) * int64(e.Count), nil
}

// inline reports whether the values are stored in Value itself.
func (e DirectoryEntry) inline() (bool, error) {
	n, err := e.dataSize()
	if err != nil {
		return false, err
	}
	return n <= 4, nil
}

// readDirectory reads the IFD at the absolute offset abs.
func readDirectory(b []byte, ctx TiffContext, abs int) ([]DirectoryEntry, error) {
	n, err := readUint16(b, ctx.Order, abs)
	if err != nil {
		return nil, errors.Wrap(err, "directory count")
	}

	// All entries are sliced in one chunk so a bogus count fails before
	// anything is allocated.
	p, err := span(b, abs+2, int(n)*entrySize)
	if err != nil {
		return nil, errors.Wrapf(err, "directory at %d with %d entries", abs, n)
	}

	entries := make([]DirectoryEntry, n)
	for i := range entries {
		rec := p[i*entrySize : (i+1)*entrySize]
		e := &entries[i]
		e.Tag = ctx.Order.Uint16(rec[0:2])
		e.Type = ValueType(ctx.Order.Uint16(rec[2:4]))
		e.Count = ctx.Order.Uint32(rec[4:8])
		copy(e.Value[:], rec[8:12])
	}
	return entries, nil
}

// findTag returns the first entry carrying tag.
func findTag(entries []DirectoryEntry, tag uint16) (DirectoryEntry, bool) {
	for _, e := range entries {
		if e.Tag == tag {
			return e, true
		}
	}
	return DirectoryEntry{}, false
}

// valueBytes returns the raw encoded values of e, following the pointer
// when they do not fit inline.
func valueBytes(b []byte, ctx TiffContext, e DirectoryEntry) ([]byte, error) {
	n, err := e.dataSize()
	if err != nil {
		return nil, err
	}
	if n <= 4 {
		return e.Value[:n], nil
	}
	if n > int64(len(b)) {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "tag 0x%04x needs %d bytes", e.Tag, n)
	}
	off, err := ctx.resolve(b, ctx.Order.Uint32(e.Value[:]))
	if err != nil {
		return nil, err
	}
	return span(b, off, int(n))
}

// pointer returns the absolute offset held by an entry whose values live
// out of line.
func (e DirectoryEntry) pointer(b []byte, ctx TiffContext) (int, error) {
	in, err := e.inline()
	if err != nil {
		return 0, err
	}
	if in {
		return 0, errors.Errorf("geotag: tag 0x%04x is stored inline", e.Tag)
	}
	return ctx.resolve(b, ctx.Order.Uint32(e.Value[:]))
}

// readInlineChar returns the single character of a short ASCII entry, such
// as a GPS hemisphere reference ("N\x00"), which always fits in Value.
func readInlineChar(e DirectoryEntry) (byte, error) {
	if e.Type != TypeASCII {
		return 0, errors.Wrapf(ErrUnsupportedValueType, "tag 0x%04x is %s, want ASCII", e.Tag, e.Type)
	}
	in, err := e.inline()
	if err != nil {
		return 0, err
	}
	if e.Count == 0 || !in {
		return 0, errors.Wrapf(ErrMissingGPSTags, "tag 0x%04x holds %d characters", e.Tag, e.Count)
	}
	return e.Value[0], nil
}
