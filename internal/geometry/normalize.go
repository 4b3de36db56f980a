package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// ErrDegenerateInput is returned when a point set has no spread, so no
// normalizing scale exists.
var ErrDegenerateInput = errors.New("degenerate input")

// Normalize translates pts to zero centroid and scales them isotropically so
// the mean distance from the origin is √2. It returns the normalized points
// and the similarity T that produced them (normalized = T·[x y 1]ᵗ).
//
// An empty set normalizes to an empty set with the identity transform.
func Normalize(pts []Point2D) ([]Point2D, Matrix3, error) {
	if len(pts) == 0 {
		return []Point2D{}, Identity3(), nil
	}

	if Coincident(pts) {
		return nil, Matrix3{}, fmt.Errorf("%w: all %d points coincide", ErrDegenerateInput, len(pts))
	}

	n := float64(len(pts))
	var centroid r2.Point
	for _, p := range pts {
		centroid = centroid.Add(p.R2())
	}
	centroid = centroid.Mul(1 / n)

	var meanDist float64
	for _, p := range pts {
		meanDist += p.R2().Sub(centroid).Norm()
	}
	meanDist /= n

	scale := math.Sqrt2 / meanDist
	if meanDist == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, Matrix3{}, fmt.Errorf("%w: normalization scale is not finite (mean distance %g)",
			ErrDegenerateInput, meanDist)
	}

	t := Matrix3{
		scale, 0, -scale * centroid.X,
		0, scale, -scale * centroid.Y,
		0, 0, 1,
	}

	out := make([]Point2D, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out, t, nil
}

// Centroid returns the mean of pts, or the origin for an empty set.
func Centroid(pts []Point2D) Point2D {
	if len(pts) == 0 {
		return Point2D{}
	}
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p.R2())
	}
	return fromR2(c.Mul(1 / float64(len(pts))))
}

// MeanDistance returns the mean Euclidean distance of pts from the origin.
func MeanDistance(pts []Point2D) float64 {
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.R2().Norm()
	}
	return sum / float64(len(pts))
}
