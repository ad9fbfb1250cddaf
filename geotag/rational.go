package geotag

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const rationalSize = 8 // two uint32: numerator then denominator

// Rational is an unsigned TIFF RATIONAL.
type Rational struct {
	Num uint32
	Den uint32
}

// Float64 returns Num/Den. A zero denominator yields 0 so a damaged
// record never turns into NaN or Inf.
func (r Rational) Float64() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func decodeRational(p []byte, order binary.ByteOrder) Rational {
	return Rational{
		Num: order.Uint32(p[0:4]),
		Den: order.Uint32(p[4:8]),
	}
}

// readRationals decodes count consecutive rationals stored at the absolute
// offset off.
func readRationals(b []byte, ctx TiffContext, off, count int) ([]float64, error) {
	if count < 0 || count > len(b)/rationalSize {
		return nil, errors.Wrapf(ErrTruncatedBuffer, "%d rationals at %d, have %d bytes", count, off, len(b))
	}
	p, err := span(b, off, count*rationalSize)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		out[i] = decodeRational(p[i*rationalSize:], ctx.Order).Float64()
	}
	return out, nil
}
