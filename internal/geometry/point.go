// Package geometry provides the planar primitives shared by the estimators:
// image points, two-view correspondences, 3x3 homogeneous matrices and
// isotropic point normalization.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Point2D is an image point in pixel coordinates.
type Point2D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NewPoint2D creates a new Point2D.
func NewPoint2D(x, y float64) Point2D {
	return Point2D{X: x, Y: y}
}

// R2 returns the point as an r2 vector.
func (p Point2D) R2() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// Homogeneous returns (x, y, 1).
func (p Point2D) Homogeneous() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: 1}
}

// IsFinite reports whether both coordinates are finite.
func (p Point2D) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// fromR2 converts an r2 vector back to a Point2D.
func fromR2(p r2.Point) Point2D {
	return Point2D{X: p.X, Y: p.Y}
}

// Match2D2D is one feature observed in view 1 (P1) and view 2 (P2).
type Match2D2D struct {
	P1 Point2D `json:"p1" yaml:"p1"`
	P2 Point2D `json:"p2" yaml:"p2"`
}

// NewMatch creates a correspondence from raw coordinates.
func NewMatch(x1, y1, x2, y2 float64) Match2D2D {
	return Match2D2D{P1: Point2D{X: x1, Y: y1}, P2: Point2D{X: x2, Y: y2}}
}

// IsFinite reports whether all four coordinates are finite.
func (m Match2D2D) IsFinite() bool {
	return m.P1.IsFinite() && m.P2.IsFinite()
}

// SplitMatches separates correspondences into view-1 and view-2 point slices,
// preserving order.
func SplitMatches(matches []Match2D2D) ([]Point2D, []Point2D) {
	pts1 := make([]Point2D, len(matches))
	pts2 := make([]Point2D, len(matches))
	for i, m := range matches {
		pts1[i] = m.P1
		pts2[i] = m.P2
	}
	return pts1, pts2
}

// SelectMatches returns the correspondences at the given indices, in index order.
func SelectMatches(matches []Match2D2D, indices []int) []Match2D2D {
	out := make([]Match2D2D, len(indices))
	for i, idx := range indices {
		out[i] = matches[idx]
	}
	return out
}

// Coincident reports whether every point in pts sits at the same location.
// An empty or single-point set is coincident.
func Coincident(pts []Point2D) bool {
	for i := 1; i < len(pts); i++ {
		if pts[i] != pts[0] {
			return false
		}
	}
	return true
}
