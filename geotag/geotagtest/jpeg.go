// Package geotagtest builds synthetic JPEG streams carrying EXIF GPS data,
// in either byte order, for tests of geotag and of its callers.
package geotagtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Rat is a RATIONAL value: numerator, denominator.
type Rat [2]uint32

// Fixture describes the TIFF structure to write.
type Fixture struct {
	Order  binary.ByteOrder
	Lat    [3]Rat
	Lng    [3]Rat
	LatRef string // at most 3 characters, stored inline
	LngRef string

	OmitGPS       bool // IFD0 has no GPS IFD pointer
	OmitLongitude bool // GPS IFD has no longitude tags
}

// ScenarioA is 57°36'49.89"N 11°52'47.15"E (57.613858, 11.879764).
func ScenarioA(order binary.ByteOrder) Fixture {
	return Fixture{
		Order:  order,
		Lat:    [3]Rat{{57, 1}, {36, 1}, {4989, 100}},
		LatRef: "N",
		Lng:    [3]Rat{{11, 1}, {52, 1}, {4715, 100}},
		LngRef: "E",
	}
}

type entry struct {
	tag, typ uint16
	count    uint32
	value    [4]byte
}

// TIFF returns the TIFF structure: header, IFD0, GPS IFD, then the
// out-of-line rational data.
func (f Fixture) TIFF() []byte {
	o := f.Order
	u32 := func(v uint32) (b [4]byte) { o.PutUint32(b[:], v); return }
	u16 := func(v uint16) (b [4]byte) { o.PutUint16(b[:], v); return }
	ascii := func(s string) (b [4]byte) {
		if len(s) > 3 {
			panic(fmt.Sprintf("geotagtest: reference %q does not fit inline", s))
		}
		copy(b[:], s)
		return
	}

	ifd0 := []entry{{tag: 0x0112, typ: 3, count: 1, value: u16(1)}} // Orientation
	if !f.OmitGPS {
		ifd0 = append(ifd0, entry{tag: 0x8825, typ: 4, count: 1})
	}
	gpsOff := 8 + dirSize(len(ifd0))

	gps := []entry{
		{tag: 0x0000, typ: 1, count: 4, value: [4]byte{2, 3, 0, 0}}, // GPSVersionID
		{tag: 0x0001, typ: 2, count: uint32(len(f.LatRef) + 1), value: ascii(f.LatRef)},
		{tag: 0x0002, typ: 5, count: 3},
	}
	if !f.OmitLongitude {
		gps = append(gps,
			entry{tag: 0x0003, typ: 2, count: uint32(len(f.LngRef) + 1), value: ascii(f.LngRef)},
			entry{tag: 0x0004, typ: 5, count: 3},
		)
	}
	latOff := gpsOff + dirSize(len(gps))
	lngOff := latOff + 24

	if !f.OmitGPS {
		ifd0[1].value = u32(uint32(gpsOff))
	}
	gps[2].value = u32(uint32(latOff))
	if !f.OmitLongitude {
		gps[4].value = u32(uint32(lngOff))
	}

	var buf bytes.Buffer
	if o == binary.BigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	write(&buf, o, uint16(42))
	write(&buf, o, uint32(8))
	writeDir(&buf, o, ifd0)
	writeDir(&buf, o, gps)
	for _, r := range f.Lat {
		write(&buf, o, r)
	}
	if !f.OmitLongitude {
		for _, r := range f.Lng {
			write(&buf, o, r)
		}
	}
	return buf.Bytes()
}

// JPEG wraps the fixture in a JPEG stream: SOI, a JFIF APP0, the Exif APP1
// and a tiny scan.
func (f Fixture) JPEG() []byte {
	return JPEG(
		Segment(0xe0, []byte("JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")),
		ExifSegment(f.TIFF()),
	)
}

func dirSize(n int) int {
	return 2 + 12*n + 4
}

func writeDir(buf *bytes.Buffer, o binary.ByteOrder, entries []entry) {
	write(buf, o, uint16(len(entries)))
	for _, e := range entries {
		write(buf, o, e.tag)
		write(buf, o, e.typ)
		write(buf, o, e.count)
		buf.Write(e.value[:])
	}
	write(buf, o, uint32(0)) // no next IFD
}

func write(buf *bytes.Buffer, o binary.ByteOrder, v interface{}) {
	if err := binary.Write(buf, o, v); err != nil {
		panic(err)
	}
}

// Segment frames payload as a JPEG marker segment 0xFF marker.
func Segment(marker byte, payload []byte) []byte {
	if len(payload) > 0xffff-2 {
		panic("geotagtest: segment payload too large")
	}
	out := []byte{0xff, marker, 0, 0}
	binary.BigEndian.PutUint16(out[2:], uint16(len(payload)+2))
	return append(out, payload...)
}

// ExifSegment frames tiff as an APP1/Exif segment.
func ExifSegment(tiff []byte) []byte {
	return Segment(0xe1, append([]byte("Exif\x00\x00"), tiff...))
}

// JPEG returns SOI, the given segments, a start of scan with a few bytes of
// entropy-coded data, and EOI.
func JPEG(segments ...[]byte) []byte {
	out := []byte{0xff, 0xd8}
	for _, s := range segments {
		out = append(out, s...)
	}
	out = append(out, Segment(0xda, []byte{1, 1, 0, 0, 0x3f, 0})...)
	out = append(out, 0x12, 0x34, 0xff, 0x00, 0x56)
	return append(out, 0xff, 0xd9)
}

// Inject inserts segments right after the SOI of an encoded JPEG, such as
// the output of image/jpeg which carries no metadata.
func Inject(jpeg []byte, segments ...[]byte) []byte {
	out := append([]byte{}, jpeg[:2]...)
	for _, s := range segments {
		out = append(out, s...)
	}
	return append(out, jpeg[2:]...)
}
