// Package fundamental estimates the fundamental matrix between two views from
// point correspondences, either with the normalized eight-point algorithm or
// robustly with RANSAC.
package fundamental

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"gonum.org/v1/gonum/mat"
)

// EstimateLinear fits F to all matches with the normalized eight-point
// algorithm and enforces rank 2. The returned matrix is the zero value
// whenever err is non-nil.
func EstimateLinear(matches []geometry.Match2D2D) (geometry.Matrix3, error) {
	if err := requireCorrespondences(len(matches)); err != nil {
		return geometry.Matrix3{}, err
	}

	pts1, pts2 := geometry.SplitMatches(matches)
	n1, t1, err := geometry.Normalize(pts1)
	if err != nil {
		return geometry.Matrix3{}, fmt.Errorf("view 1: %w", err)
	}
	n2, t2, err := geometry.Normalize(pts2)
	if err != nil {
		return geometry.Matrix3{}, fmt.Errorf("view 2: %w", err)
	}

	f, err := nullVector(designMatrix(n1, n2))
	if err != nil {
		return geometry.Matrix3{}, err
	}

	fn, err := EnforceRank2(f)
	if err != nil {
		return geometry.Matrix3{}, err
	}

	return t2.Transpose().Mul(fn).Mul(t1), nil
}

// designMatrix builds one epipolar constraint row per normalized match.
func designMatrix(pts1, pts2 []geometry.Point2D) *mat.Dense {
	a := mat.NewDense(len(pts1), 9, nil)
	for i := range pts1 {
		x1, y1 := pts1[i].X, pts1[i].Y
		x2, y2 := pts2[i].X, pts2[i].Y
		a.SetRow(i, []float64{
			x2 * x1, x2 * y1, x2,
			y2 * x1, y2 * y1, y2,
			x1, y1, 1,
		})
	}
	return a
}

// nullVector returns the right singular vector of a for its smallest singular
// value, reshaped row-major. Only V is computed, full so an 8x9 system still
// yields its null-space column; U would be n x n.
func nullVector(a *mat.Dense) (geometry.Matrix3, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		return geometry.Matrix3{}, errors.New("SVD of design matrix did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)

	var f geometry.Matrix3
	for i := range f {
		f[i] = v.At(i, 8)
	}
	return f, nil
}
