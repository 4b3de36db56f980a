package fundamental

import (
	"fmt"
	"math"
	"strings"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
)

// ResidualMetric selects how a match is scored against a candidate F.
type ResidualMetric string

const (
	// ResidualAlgebraic is |p2ᵗ·F·p1| on homogeneous pixel coordinates.
	ResidualAlgebraic ResidualMetric = "algebraic"
	// ResidualSampson is the first-order geometric error, in squared pixels.
	ResidualSampson ResidualMetric = "sampson"
)

// ParseResidualMetric parses a metric name. The empty string selects the
// algebraic metric.
func ParseResidualMetric(s string) (ResidualMetric, error) {
	switch ResidualMetric(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResidualAlgebraic:
		return ResidualAlgebraic, nil
	case ResidualSampson:
		return ResidualSampson, nil
	default:
		return "", fmt.Errorf("%w: unknown residual metric %q", ErrInvalidParameters, s)
	}
}

// Residual scores a single match against f.
func Residual(f geometry.Matrix3, m geometry.Match2D2D, metric ResidualMetric) float64 {
	x1 := m.P1.Homogeneous()
	x2 := m.P2.Homogeneous()
	fx1 := f.MulVec(x1)
	e := x2.Dot(fx1)

	if metric != ResidualSampson {
		return math.Abs(e)
	}

	ftx2 := f.Transpose().MulVec(x2)
	denom := fx1.X*fx1.X + fx1.Y*fx1.Y + ftx2.X*ftx2.X + ftx2.Y*ftx2.Y
	if denom == 0 {
		if e == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return e * e / denom
}

// Residuals scores every match against f.
func Residuals(f geometry.Matrix3, matches []geometry.Match2D2D, metric ResidualMetric) []float64 {
	out := make([]float64, len(matches))
	for i, m := range matches {
		out[i] = Residual(f, m, metric)
	}
	return out
}

// Inliers returns, in ascending order, the indices of matches whose residual
// is strictly below threshold.
func Inliers(f geometry.Matrix3, matches []geometry.Match2D2D, threshold float64, metric ResidualMetric) []int {
	inliers := make([]int, 0, len(matches))
	for i, m := range matches {
		if Residual(f, m, metric) < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}
