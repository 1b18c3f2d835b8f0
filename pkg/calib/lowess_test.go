package calib

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFractionTaggedChoice(t *testing.T) {
	fixed := FixedFraction(0.3)
	assert.False(t, fixed.IsCrossValidated())
	assert.Equal(t, 0.3, fixed.Value())
	assert.Equal(t, "0.3", fixed.String())

	cv := CrossValidated()
	assert.True(t, cv.IsCrossValidated())
	assert.Equal(t, "cv", cv.String())
}

func TestFitLowessIdentity(t *testing.T) {
	// Fitting y == x must reproduce the identity mapping in-domain.
	x := make([]float64, 50)
	y := make([]float64, 50)
	for i := range x {
		x[i] = float64(i) * 2
		y[i] = x[i]
	}

	m, err := FitLowess(x, y, FixedFraction(0.3))
	require.NoError(t, err)

	for v := 0.0; v <= 98.0; v += 7.3 {
		assert.InDelta(t, v, m.Apply(v), 1e-6, "identity mapping at %v", v)
	}
}

func TestFitLowessConstantOffset(t *testing.T) {
	// A run shifted by +5 must calibrate back onto the reference.
	rng := rand.New(rand.NewSource(1))
	var x, y []float64
	for i := 0; i < 60; i++ {
		v := rng.Float64() * 100
		x = append(x, v+5)
		y = append(y, v)
	}

	m, err := FitLowess(x, y, FixedFraction(0.3))
	require.NoError(t, err)

	for v := 10.0; v <= 95.0; v += 5 {
		assert.InDelta(t, v-5, m.Apply(v), 1.0, "offset mapping at %v", v)
	}
}

func TestMappingFlatExtrapolation(t *testing.T) {
	x := []float64{10, 20, 30, 40, 50}
	y := []float64{11, 21, 31, 41, 51}

	m, err := FitLowess(x, y, FixedFraction(1.0))
	require.NoError(t, err)

	low, high := m.Domain()
	assert.Equal(t, 10.0, low)
	assert.Equal(t, 50.0, high)

	// Outside the fitted domain the boundary fitted value is reused,
	// never a linear continuation.
	assert.InDelta(t, m.Apply(10), m.Apply(-1000), 1e-12)
	assert.InDelta(t, m.Apply(50), m.Apply(1000), 1e-12)
}

func TestFitLowessNonlinear(t *testing.T) {
	// A smooth monotone warp should be recovered to within a tight
	// tolerance at interior points.
	var x, y []float64
	for i := 0; i < 200; i++ {
		v := float64(i) / 2
		x = append(x, v)
		y = append(y, v+10*math.Sin(v/40))
	}

	m, err := FitLowess(x, y, FixedFraction(0.2))
	require.NoError(t, err)

	for v := 10.0; v <= 90.0; v += 10 {
		want := v + 10*math.Sin(v/40)
		assert.InDelta(t, want, m.Apply(v), 0.5, "warp at %v", v)
	}
}

func TestFitLowessCrossValidated(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	var x, y []float64
	for i := 0; i < 100; i++ {
		v := rng.Float64() * 100
		x = append(x, v)
		y = append(y, v*1.1+rng.NormFloat64()*0.2)
	}

	m, err := FitLowess(x, y, CrossValidated())
	require.NoError(t, err)

	for v := 20.0; v <= 80.0; v += 15 {
		assert.InDelta(t, v*1.1, m.Apply(v), 1.5)
	}
}

func TestFitLowessErrors(t *testing.T) {
	_, err := FitLowess([]float64{1}, []float64{1}, FixedFraction(0.5))
	assert.Error(t, err)

	_, err = FitLowess([]float64{1, 2}, []float64{1}, FixedFraction(0.5))
	assert.Error(t, err)

	_, err = FitLowess([]float64{1, 2, 3}, []float64{1, 2, 3}, FixedFraction(1.5))
	assert.Error(t, err)
}

func TestFitLowessDuplicateX(t *testing.T) {
	x := []float64{1, 1, 2, 3, 4, 5}
	y := []float64{1, 3, 2, 3, 4, 5}

	m, err := FitLowess(x, y, FixedFraction(1.0))
	require.NoError(t, err)

	// Duplicate training positions collapse to a single fitted point.
	low, _ := m.Domain()
	assert.Equal(t, 1.0, low)
	assert.False(t, math.IsNaN(m.Apply(1)))
}
