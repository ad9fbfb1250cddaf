// Package geotag reads the GPS position embedded in the EXIF block of a
// JPEG file. It works on an in-memory prefix of the file, performs no I/O
// and keeps no state between calls, so it is safe for concurrent use.
package geotag

import "github.com/pkg/errors"

// WindowSize is how much of a file is examined. EXIF written by cameras and
// phones sits in the first APP segments; an Exif segment starting past this
// window is not found.
const WindowSize = 128 << 10

// Tags used on the way to the coordinates.
const (
	tagGPSInfo      = 0x8825 // in IFD0, points to the GPS IFD
	tagGPSLatRef    = 0x0001
	tagGPSLatitude  = 0x0002
	tagGPSLongRef   = 0x0003
	tagGPSLongitude = 0x0004
)

// Extract returns the GPS position of the JPEG prefix b, or nil when there is
// none. Foreign formats, files without GPS data and corrupt metadata all
// yield nil with a nil error; the only error is ErrNilBuffer for a nil b.
func Extract(b []byte) (*Coordinates, error) {
	c, err := Decode(b)
	if err != nil {
		if errors.Is(err, ErrNilBuffer) {
			return nil, err
		}
		return nil, nil
	}
	return &c, nil
}

// Decode is Extract with the reason of a failure kept, for diagnostics.
// Callers test the cause with errors.Is against the Err* values.
func Decode(b []byte) (Coordinates, error) {
	if b == nil {
		return Coordinates{}, ErrNilBuffer
	}
	if len(b) > WindowSize {
		b = b[:WindowSize]
	}

	seg, err := locateSegment(b)
	if err != nil {
		return Coordinates{}, err
	}
	// Nothing after the segment belongs to the TIFF structure.
	b = b[:seg.End()]

	ctx, err := parseHeader(b, seg.Offset)
	if err != nil {
		return Coordinates{}, err
	}

	gps, err := gpsDirectory(b, ctx)
	if err != nil {
		return Coordinates{}, err
	}

	lat, err := readDMS(b, ctx, gps, tagGPSLatRef, tagGPSLatitude)
	if err != nil {
		return Coordinates{}, errors.Wrap(err, "latitude")
	}
	lng, err := readDMS(b, ctx, gps, tagGPSLongRef, tagGPSLongitude)
	if err != nil {
		return Coordinates{}, errors.Wrap(err, "longitude")
	}
	return Coordinates{Lat: lat, Lng: lng}, nil
}

// gpsDirectory reads IFD0 and then the GPS IFD it points to.
func gpsDirectory(b []byte, ctx TiffContext) ([]DirectoryEntry, error) {
	root, err := ctx.resolve(b, ctx.Root)
	if err != nil {
		return nil, err
	}
	entries, err := readDirectory(b, ctx, root)
	if err != nil {
		return nil, errors.Wrap(err, "IFD0")
	}

	ptr, ok := findTag(entries, tagGPSInfo)
	if !ok {
		return nil, errors.Wrap(ErrMissingGPSTags, "no GPS IFD pointer")
	}
	if (ptr.Type != TypeLong && ptr.Type != TypeIFD) || ptr.Count != 1 {
		return nil, errors.Wrapf(ErrUnsupportedValueType, "GPS IFD pointer is %s[%d]", ptr.Type, ptr.Count)
	}
	raw, err := valueBytes(b, ctx, ptr)
	if err != nil {
		return nil, err
	}
	off, err := ctx.resolve(b, ctx.Order.Uint32(raw))
	if err != nil {
		return nil, err
	}

	gps, err := readDirectory(b, ctx, off)
	if err != nil {
		return nil, errors.Wrap(err, "GPS IFD")
	}
	return gps, nil
}

// readDMS decodes one axis: the reference character and the three
// degree/minute/second rationals.
func readDMS(b []byte, ctx TiffContext, gps []DirectoryEntry, refTag, valTag uint16) (float64, error) {
	refEntry, ok := findTag(gps, refTag)
	if !ok {
		return 0, errors.Wrapf(ErrMissingGPSTags, "tag 0x%04x", refTag)
	}
	valEntry, ok := findTag(gps, valTag)
	if !ok {
		return 0, errors.Wrapf(ErrMissingGPSTags, "tag 0x%04x", valTag)
	}

	ref, err := readInlineChar(refEntry)
	if err != nil {
		return 0, err
	}

	if valEntry.Type != TypeRational {
		return 0, errors.Wrapf(ErrUnsupportedValueType, "tag 0x%04x is %s, want RATIONAL", valTag, valEntry.Type)
	}
	if valEntry.Count != 3 {
		return 0, errors.Wrapf(ErrMissingGPSTags, "tag 0x%04x has %d components", valTag, valEntry.Count)
	}
	off, err := valEntry.pointer(b, ctx)
	if err != nil {
		return 0, err
	}
	v, err := readRationals(b, ctx, off, 3)
	if err != nil {
		return 0, err
	}

	return DMS{Degrees: v[0], Minutes: v[1], Seconds: v[2], Ref: ref}.Decimal()
}

