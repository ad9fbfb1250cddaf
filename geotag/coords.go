package geotag

import (
	"fmt"

	"github.com/pkg/errors"
)

// Coordinates are signed decimal degrees: north and east are positive.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String formats c as "lat,lng" with six decimals (about 0.1 m).
func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// DMS is an angle in degrees, minutes and seconds with its hemisphere
// reference: one of 'N', 'S', 'E' or 'W'.
type DMS struct {
	Degrees float64
	Minutes float64
	Seconds float64
	Ref     byte
}

// Decimal converts d to signed decimal degrees.
func (d DMS) Decimal() (float64, error) {
	v := d.Degrees + d.Minutes/60 + d.Seconds/3600
	switch d.Ref {
	case 'N', 'E':
		return v, nil
	case 'S', 'W':
		return -v, nil
	default:
		return 0, errors.Wrapf(ErrInvalidReference, "%q", d.Ref)
	}
}
