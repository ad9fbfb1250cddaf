package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThumbnailSize(t *testing.T) {
	cases := []struct {
		w, h, want1, want2 int
	}{
		{400, 200, 200, 100},
		{200, 400, 100, 200},
		{300, 300, 200, 200},
		{4000, 10, 200, 1},
		{0, 0, 200, 200},
	}
	for _, tc := range cases {
		w, h := thumbnailSize(tc.w, tc.h, 200)
		assert.Equal(t, tc.want1, w, "%dx%d", tc.w, tc.h)
		assert.Equal(t, tc.want2, h, "%dx%d", tc.w, tc.h)
	}
}

func TestProcessThumbnail(t *testing.T) {
	dataDir := t.TempDir()
	data := photoJPEG(t, scenarioA())

	rel, err := processThumbnail(bytes.NewReader(data), dataDir, "abc")
	require.NoError(t, err)
	assert.Equal(t, ".thumbnails/abc.jpg", rel)

	img, err := imaging.Open(filepath.Join(dataDir, ".thumbnails", "abc.jpg"))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 150, img.Bounds().Dy())

	// An existing thumbnail is reused without decoding the source again.
	again, err := processThumbnail(bytes.NewReader(nil), dataDir, "abc")
	require.NoError(t, err)
	assert.Equal(t, rel, again)
}

func TestProcessThumbnailRejectsGarbage(t *testing.T) {
	dataDir := t.TempDir()
	_, err := processThumbnail(bytes.NewReader([]byte("nope")), dataDir, "bad")
	assert.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dataDir, ".thumbnails", "bad.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, isImageFile("a/B.JPG"))
	assert.True(t, isImageFile("x.jpeg"))
	assert.False(t, isImageFile("x.png"))
	assert.False(t, isImageFile("notes.txt"))
}
