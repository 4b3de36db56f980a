package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Empty(t *testing.T) {
	out, T, err := Normalize(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, Identity3(), T)
}

func TestNormalize_CentroidAndScale(t *testing.T) {
	pts := []Point2D{
		{X: 10, Y: 20}, {X: 30, Y: 50}, {X: 15, Y: 40}, {X: 50, Y: 80},
		{X: 25, Y: 35}, {X: 60, Y: 90}, {X: 70, Y: 20}, {X: 80, Y: 40},
	}

	out, T, err := Normalize(pts)
	require.NoError(t, err)
	require.Len(t, out, len(pts))

	c := Centroid(out)
	assert.InDelta(t, 0, c.X, 1e-12)
	assert.InDelta(t, 0, c.Y, 1e-12)
	assert.InDelta(t, math.Sqrt2, MeanDistance(out), 1e-12)

	// Similarity structure: uniform scale, no shear, affine last row.
	assert.Equal(t, T.At(0, 0), T.At(1, 1))
	assert.Zero(t, T.At(0, 1))
	assert.Zero(t, T.At(1, 0))
	assert.Equal(t, [3]float64{0, 0, 1}, [3]float64{T.At(2, 0), T.At(2, 1), T.At(2, 2)})

	for i, p := range pts {
		mapped := T.Apply(p)
		assert.InDelta(t, out[i].X, mapped.X, 1e-12)
		assert.InDelta(t, out[i].Y, mapped.Y, 1e-12)
	}
}

func TestNormalize_DoesNotModifyInput(t *testing.T) {
	pts := []Point2D{{X: 1, Y: 2}, {X: 3, Y: 4}, {X: -5, Y: 6}}
	orig := append([]Point2D(nil), pts...)

	_, _, err := Normalize(pts)
	require.NoError(t, err)
	assert.Equal(t, orig, pts)
}

func TestNormalize_Degenerate(t *testing.T) {
	tests := []struct {
		name string
		pts  []Point2D
	}{
		{name: "single point", pts: []Point2D{{X: 3, Y: 4}}},
		{name: "coincident points", pts: []Point2D{{X: 0.1, Y: 0.7}, {X: 0.1, Y: 0.7}, {X: 0.1, Y: 0.7}}},
		{name: "origin repeated", pts: []Point2D{{}, {}, {}, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, T, err := Normalize(tt.pts)
			require.ErrorIs(t, err, ErrDegenerateInput)
			assert.Nil(t, out)
			assert.True(t, T.IsZero())
		})
	}
}

func TestNormalize_TwoPoints(t *testing.T) {
	out, _, err := Normalize([]Point2D{{X: -1, Y: 0}, {X: 1, Y: 0}})
	require.NoError(t, err)
	assert.InDelta(t, -math.Sqrt2, out[0].X, 1e-12)
	assert.InDelta(t, math.Sqrt2, out[1].X, 1e-12)
}

func TestNormalize_ScaleInvariantOutput(t *testing.T) {
	pts := []Point2D{{X: 12, Y: 7}, {X: 40, Y: 33}, {X: 3, Y: 90}, {X: 77, Y: 51}}
	scaled := make([]Point2D, len(pts))
	for i, p := range pts {
		scaled[i] = Point2D{X: 4 * p.X, Y: 4 * p.Y}
	}

	a, _, err := Normalize(pts)
	require.NoError(t, err)
	b, _, err := Normalize(scaled)
	require.NoError(t, err)

	for i := range a {
		assert.InDelta(t, a[i].X, b[i].X, 1e-12)
		assert.InDelta(t, a[i].Y, b[i].Y, 1e-12)
	}
}
