package geotag

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRationalFloat64(t *testing.T) {
	assert.Equal(t, 2.5, Rational{Num: 5, Den: 2}.Float64())
	assert.Equal(t, 0.0, Rational{Num: 0, Den: 7}.Float64())

	v := Rational{Num: 1, Den: 0}.Float64()
	assert.Equal(t, 0.0, v)
	assert.False(t, math.IsNaN(v))
	assert.False(t, math.IsInf(v, 0))
}

func TestReadRationals(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		b := make([]byte, 4+3*rationalSize)
		put := func(i int, num, den uint32) {
			order.PutUint32(b[4+i*rationalSize:], num)
			order.PutUint32(b[8+i*rationalSize:], den)
		}
		put(0, 5, 2)
		put(1, 1, 0)
		put(2, 4989, 100)

		v, err := readRationals(b, TiffContext{Order: order}, 4, 3)
		require.NoError(t, err, order.String())
		assert.Equal(t, []float64{2.5, 0, 49.89}, v, order.String())
	}
}

func TestReadRationalsTruncated(t *testing.T) {
	ctx := TiffContext{Order: binary.LittleEndian}
	b := make([]byte, 20)

	_, err := readRationals(b, ctx, 0, 3)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	_, err = readRationals(b, ctx, 16, 1)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)

	_, err = readRationals(b, ctx, 0, 1<<30)
	assert.ErrorIs(t, err, ErrTruncatedBuffer)
}
