package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitepointAtNeutralTemperature(t *testing.T) {
	r, g, b := whitepoint(6500)
	assert.InDelta(t, 1.0, r, 1e-6)
	assert.InDelta(t, 1.0, g, 1e-6)
	assert.InDelta(t, 1.0, b, 1e-6)
}

func TestWhitepointClampsOutOfRangeTemperature(t *testing.T) {
	lo := func() (r, g, b float64) { return whitepoint(0) }
	hi := func() (r, g, b float64) { return whitepoint(65535) }
	r1, g1, b1 := lo()
	r2, g2, b2 := whitepoint(MinTemp)
	assert.Equal(t, [3]float64{r2, g2, b2}, [3]float64{r1, g1, b1})
	r3, g3, b3 := hi()
	r4, g4, b4 := whitepoint(MaxTemp)
	assert.Equal(t, [3]float64{r4, g4, b4}, [3]float64{r3, g3, b3})
}

func TestFillDefaultColorMaxesOutChannels(t *testing.T) {
	ramp := NewRamp(256)
	Fill(ramp, Default)

	require.Len(t, ramp.R, 256)
	assert.Equal(t, uint16(0), ramp.R[0])
	assert.Equal(t, uint16(65535), ramp.R[255])
	assert.Equal(t, ramp.R[255], ramp.G[255])
	assert.Equal(t, ramp.R[255], ramp.B[255])
}

func TestFillZeroBrightnessIsAllZero(t *testing.T) {
	ramp := NewRamp(16)
	c := Default
	c.Brightness = 0
	Fill(ramp, c)
	for i := range ramp.R {
		assert.Equal(t, uint16(0), ramp.R[i])
		assert.Equal(t, uint16(0), ramp.G[i])
		assert.Equal(t, uint16(0), ramp.B[i])
	}
}

func TestFillInvertedReversesChannels(t *testing.T) {
	plain := NewRamp(8)
	Fill(plain, Default)

	inverted := NewRamp(8)
	c := Default
	c.Inverted = true
	Fill(inverted, c)

	for i := range plain.R {
		assert.Equal(t, plain.R[i], inverted.R[len(inverted.R)-1-i])
	}
}

func TestFillGammaBelowFloorIsClampedLikeFloor(t *testing.T) {
	a := NewRamp(8)
	c := Default
	c.Gamma = 0.0
	Fill(a, c)

	b := NewRamp(8)
	c.Gamma = MinGamma
	Fill(b, c)

	assert.Equal(t, a.R, b.R)
}

func TestClampRestoresInvariantI1(t *testing.T) {
	c := Clamp(Color{Temp: 0, Gamma: -5, Brightness: 3, Inverted: true})
	assert.Equal(t, uint16(MinTemp), c.Temp)
	assert.Equal(t, MinGamma, c.Gamma)
	assert.Equal(t, MaxBright, c.Brightness)
	assert.True(t, c.Inverted)

	c2 := Clamp(Color{Temp: 65000, Brightness: -1})
	assert.Equal(t, uint16(MaxTemp), c2.Temp)
	assert.Equal(t, MinBright, c2.Brightness)
}
