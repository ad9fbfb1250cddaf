package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marinaManager/geotag"
)

func TestBuildMetadataJSON(t *testing.T) {
	window := scenarioA().JPEG()
	c, err := geotag.Extract(window)
	require.NoError(t, err)
	require.NotNil(t, c)

	var md map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(BuildMetadataJSON(window, c)), &md))
	assert.Equal(t, true, md["hasLocation"])
	assert.InDelta(t, scenarioALat, md["latitude"], 1e-6)
	assert.InDelta(t, scenarioALng, md["longitude"], 1e-6)
	assert.EqualValues(t, 1, md["orientation"])
}

func TestBuildMetadataJSONWithoutExif(t *testing.T) {
	assert.Equal(t, "{}", BuildMetadataJSON([]byte("not an image"), nil))
	assert.Equal(t, "{}", BuildMetadataJSON(nil, nil))
}

func TestBuildMetadataJSONOversizedCount(t *testing.T) {
	window := leadingWindow(oversizedCountJPEG(t))
	c, err := geotag.Extract(window)
	require.NoError(t, err)
	require.NotNil(t, c)

	var md map[string]interface{}
	require.NotPanics(t, func() {
		require.NoError(t, json.Unmarshal([]byte(BuildMetadataJSON(window, c)), &md))
	})
	assert.Equal(t, true, md["hasLocation"])
	assert.InDelta(t, scenarioALat, md["latitude"], 1e-6)
	assert.NotContains(t, md, "orientation")

	_, err = readCameraInfo(window)
	assert.ErrorIs(t, err, geotag.ErrTruncatedBuffer)
}

func TestBerthCodeFromName(t *testing.T) {
	cases := map[string]string{
		"a12_bow.jpg":      "A12",
		"B7-2024-05.jpeg":  "B7",
		"dir/C3 stern.jpg": "C3",
		"plain.jpg":        "",
		"_leading.jpg":     "",
	}
	for name, want := range cases {
		assert.Equal(t, want, berthCodeFromName(name), name)
	}
}

func TestParseExifTime(t *testing.T) {
	got, err := parseExifTime("2023:07:14 18:30:05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 7, 14, 18, 30, 5, 0, time.UTC), got)

	_, err = parseExifTime("yesterday")
	assert.Error(t, err)
}
