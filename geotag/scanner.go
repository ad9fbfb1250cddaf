package geotag

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// JPEG markers (second byte, the first one is always 0xFF).
const (
	markerTEM  = 0x01
	markerRST0 = 0xd0
	markerRST7 = 0xd7
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
	markerAPP1 = 0xe1
)

var exifIdent = []byte("Exif\x00\x00")

// MetadataSegment locates the TIFF payload of an APP1/Exif segment: it
// starts right after the identifier. Length is clamped to the buffer when
// the segment runs past the scanned window.
type MetadataSegment struct {
	Offset int
	Length int
}

// End is the absolute offset one past the segment.
func (s MetadataSegment) End() int {
	return s.Offset + s.Length
}

// standalone markers carry no length field.
func standalone(marker byte) bool {
	return marker == markerTEM || marker == markerSOI || (marker >= markerRST0 && marker <= markerRST7)
}

// locateSegment walks the marker/length segments of a JPEG stream up to the
// start of scan and returns the first Exif segment.
func locateSegment(b []byte) (MetadataSegment, error) {
	if len(b) < 2 || b[0] != 0xff || b[1] != markerSOI {
		return MetadataSegment{}, ErrNotThisFormat
	}

	pos := 2
	for {
		m, err := span(b, pos, 2)
		if err != nil {
			return MetadataSegment{}, errors.Wrap(ErrNoMetadataSegment, "end of buffer")
		}
		if m[0] != 0xff {
			return MetadataSegment{}, errors.Wrapf(ErrNoMetadataSegment, "lost marker sync at %d", pos)
		}

		marker := m[1]
		switch {
		case marker == 0xff:
			// Fill byte before a marker.
			pos++
			continue
		case marker == markerSOS, marker == markerEOI:
			return MetadataSegment{}, errors.Wrapf(ErrNoMetadataSegment, "reached marker 0x%02x at %d", marker, pos)
		case standalone(marker):
			pos += 2
			continue
		}

		// The length counts itself but not the marker.
		length, err := readUint16(b, binary.BigEndian, pos+2)
		if err != nil {
			return MetadataSegment{}, errors.Wrap(ErrNoMetadataSegment, "end of buffer")
		}
		if length < 2 {
			return MetadataSegment{}, errors.Wrapf(ErrNoMetadataSegment, "segment length %d at %d", length, pos)
		}

		if marker == markerAPP1 {
			start := pos + 4
			end := start + int(length) - 2
			if end > len(b) {
				end = len(b)
			}
			if bytes.HasPrefix(b[start:end], exifIdent) {
				return MetadataSegment{
					Offset: start + len(exifIdent),
					Length: end - start - len(exifIdent),
				}, nil
			}
		}

		pos += 2 + int(length)
	}
}
