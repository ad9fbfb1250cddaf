package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"

	"marinaManager/geotag"
)

// CameraInfo holds the descriptive EXIF fields shown next to a berth photo.
// Coordinates are not read here; they come from the geotag package.
type CameraInfo struct {
	TakenAt     *time.Time `json:"takenAt,omitempty"`
	CameraMake  string     `json:"cameraMake,omitempty"`
	CameraModel string     `json:"cameraModel,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
}

// readCameraInfo decodes camera fields from the leading bytes of an image.
// Only a TIFF block that passed geotag.Screen reaches the exif decoder, which
// sizes its buffers from the entry counts. Maker notes are not parsed: their
// layout is vendor specific and cannot be screened.
func readCameraInfo(window []byte) (*CameraInfo, error) {
	block, err := geotag.Screen(window)
	if err != nil {
		return nil, errors.Wrap(err, "screen exif")
	}
	x, err := exif.Decode(bytes.NewReader(block))
	if err != nil {
		return nil, err
	}

	var out CameraInfo
	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if s, err2 := tag.StringVal(); err2 == nil {
			if t, perr := parseExifTime(s); perr == nil {
				out.TakenAt = &t
			}
		}
	} else if t, err := x.DateTime(); err == nil {
		out.TakenAt = &t
	}

	out.CameraMake = stringTag(x, exif.Make)
	out.CameraModel = stringTag(x, exif.Model)

	if tag, err := x.Get(exif.Orientation); err == nil {
		if i, err2 := tag.Int(0); err2 == nil {
			out.Orientation = i
		}
	}
	return &out, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func parseExifTime(s string) (time.Time, error) {
	// EXIF time commonly "2006:01:02 15:04:05"
	layouts := []string{
		"2006:01:02 15:04:05",
		time.RFC3339,
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse exif time: %q", s)
}
