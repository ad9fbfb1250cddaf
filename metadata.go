package main

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"marinaManager/geotag"
)

// PhotoMetadata is the JSON document stored in photos.metadata.
type PhotoMetadata struct {
	*CameraInfo
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	HasLocation bool     `json:"hasLocation"`
}

// BuildMetadataJSON combines camera fields decoded from window with the
// coordinates found by the geotag extractor. Never returns an empty string;
// defaults to "{}".
func BuildMetadataJSON(window []byte, c *geotag.Coordinates) string {
	var md PhotoMetadata
	if info, err := readCameraInfo(window); err == nil {
		md.CameraInfo = info
	}
	if c != nil {
		lat, lng := c.Lat, c.Lng
		md.Latitude, md.Longitude, md.HasLocation = &lat, &lng, true
	}
	if md.CameraInfo == nil && !md.HasLocation {
		return "{}"
	}
	b, err := json.Marshal(md)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// isImageExt reports whether the extension may carry an EXIF block.
func isImageExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".jpe", ".jfif":
		return true
	default:
		return false
	}
}

// berthCodeFromName returns the berth code a photo file name starts with,
// e.g. "A12" for "a12_bow.jpg". Empty when the name has no separator.
func berthCodeFromName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.IndexAny(base, "_- ")
	if i <= 0 {
		return ""
	}
	return strings.ToUpper(base[:i])
}
