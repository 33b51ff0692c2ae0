package vectormath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNorm(t *testing.T) {
	require.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-9)
	require.Equal(t, 0.0, Norm(nil))
}

func TestNormalize(t *testing.T) {
	out := Normalize([]float32{3, 4})
	require.InDelta(t, 1.0, Norm(out), 1e-6)
	require.InDelta(t, 0.6, float64(out[0]), 1e-6)
	require.InDelta(t, 0.8, float64(out[1]), 1e-6)
}

func TestNormalize_ZeroOrEmptyUnchanged(t *testing.T) {
	require.Nil(t, Normalize(nil))
	zero := []float32{0, 0, 0}
	require.Equal(t, zero, Normalize(zero))
}

func TestIsUnitNorm(t *testing.T) {
	require.True(t, IsUnitNorm([]float32{1, 0, 0}, 1e-6))
	require.False(t, IsUnitNorm([]float32{2, 0, 0}, 1e-6))
	require.False(t, IsUnitNorm(nil, 1e-6))
}

func TestDot(t *testing.T) {
	require.InDelta(t, 11.0, Dot([]float32{1, 2}, []float32{3, 4}), 1e-9)
}

func TestDot_MismatchedLengthStopsAtShorter(t *testing.T) {
	require.InDelta(t, 3.0, Dot([]float32{1, 2, 99}, []float32{3}), 1e-9)
}

func TestClip(t *testing.T) {
	require.Equal(t, 0.0, Clip(-1, 0, 1))
	require.Equal(t, 1.0, Clip(2, 0, 1))
	require.Equal(t, 0.5, Clip(0.5, 0, 1))
}

func TestNormalize_RoundTripPreservesDirection(t *testing.T) {
	v := []float32{1, 2, 3}
	n := Normalize(v)
	cos := Dot(n, n)
	require.InDelta(t, 1.0, cos, 1e-6)
	require.False(t, math.IsNaN(cos))
}
