package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"marinaManager/geotag/geotagtest"
	"marinaManager/mongo"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := openAndInitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// photoJPEG encodes a small real image and, when f is given, injects its
// Exif segment so both the image decoders and the extractor can read it.
func photoJPEG(t *testing.T, f *geotagtest.Fixture) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	if f == nil {
		return buf.Bytes()
	}
	return geotagtest.Inject(buf.Bytes(), geotagtest.ExifSegment(f.TIFF()))
}

// oversizedCountJPEG is a real image whose big-endian Exif block claims
// 0x80000001 values for the IFD0 Orientation entry. The GPS directory is
// intact.
func oversizedCountJPEG(t *testing.T) []byte {
	t.Helper()
	tiff := geotagtest.ScenarioA(binary.BigEndian).TIFF()
	tiff[14] ^= 0x80
	return geotagtest.Inject(photoJPEG(t, nil), geotagtest.ExifSegment(tiff))
}

// scenarioA is 57°36'49.89"N 11°52'47.15"E.
func scenarioA() *geotagtest.Fixture {
	f := geotagtest.ScenarioA(binary.LittleEndian)
	return &f
}

const (
	scenarioALat = 57.613858
	scenarioALng = 11.879764
)

type recordingMirror struct {
	mu   sync.Mutex
	locs []mongo.Location
	err  error
}

func (m *recordingMirror) UpsertLocation(_ context.Context, loc mongo.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locs = append(m.locs, loc)
	return m.err
}

func (m *recordingMirror) all() []mongo.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mongo.Location(nil), m.locs...)
}

func mustBerth(t *testing.T, db *DB, code string) *Berth {
	t.Helper()
	id, err := db.insertBerth(Berth{Code: code, Pier: "A", LengthM: 12, WidthM: 4})
	require.NoError(t, err)
	b, err := db.getBerth(id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}
