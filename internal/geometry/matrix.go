package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Matrix3 is a 3x3 matrix stored row-major. The zero value is the zero matrix.
type Matrix3 [9]float64

// Identity3 returns the 3x3 identity.
func Identity3() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Matrix3FromDense copies a 3x3 gonum matrix. It panics on any other shape.
func Matrix3FromDense(m mat.Matrix) Matrix3 {
	r, c := m.Dims()
	if r != 3 || c != 3 {
		panic(fmt.Sprintf("geometry: matrix is %dx%d, want 3x3", r, c))
	}
	var out Matrix3
	for i := range 3 {
		for j := range 3 {
			out[3*i+j] = m.At(i, j)
		}
	}
	return out
}

// At returns the element at row r, column c.
func (m Matrix3) At(r, c int) float64 {
	return m[3*r+c]
}

// Dense returns a gonum copy of the matrix.
func (m Matrix3) Dense() *mat.Dense {
	data := make([]float64, 9)
	copy(data, m[:])
	return mat.NewDense(3, 3, data)
}

// Rows returns the three rows as vectors.
func (m Matrix3) Rows() [3]r3.Vector {
	return [3]r3.Vector{
		{X: m[0], Y: m[1], Z: m[2]},
		{X: m[3], Y: m[4], Z: m[5]},
		{X: m[6], Y: m[7], Z: m[8]},
	}
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v r3.Vector) r3.Vector {
	rows := m.Rows()
	return r3.Vector{X: rows[0].Dot(v), Y: rows[1].Dot(v), Z: rows[2].Dot(v)}
}

// Mul returns m·o.
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var out Matrix3
	for i := range 3 {
		for j := range 3 {
			var sum float64
			for k := range 3 {
				sum += m[3*i+k] * o[3*k+j]
			}
			out[3*i+j] = sum
		}
	}
	return out
}

// Transpose returns mᵗ.
func (m Matrix3) Transpose() Matrix3 {
	return Matrix3{
		m[0], m[3], m[6],
		m[1], m[4], m[7],
		m[2], m[5], m[8],
	}
}

// Scale returns s·m.
func (m Matrix3) Scale(s float64) Matrix3 {
	for i := range m {
		m[i] *= s
	}
	return m
}

// Apply maps p through m as a homogeneous transform.
func (m Matrix3) Apply(p Point2D) Point2D {
	v := m.MulVec(p.Homogeneous())
	return Point2D{X: v.X / v.Z, Y: v.Y / v.Z}
}

// IsZero reports whether every element is exactly zero.
func (m Matrix3) IsZero() bool {
	return m == Matrix3{}
}

// IsFinite reports whether every element is finite.
func (m Matrix3) IsFinite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FrobeniusNorm returns the square root of the sum of squared elements.
func (m Matrix3) FrobeniusNorm() float64 {
	var sum float64
	for _, v := range m {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Normalized returns m scaled to unit Frobenius norm, with the sign chosen so
// that the entry of largest magnitude is positive. Matrices that differ only
// by a nonzero scale normalize to the same value.
func (m Matrix3) Normalized() Matrix3 {
	norm := m.FrobeniusNorm()
	if norm == 0 {
		return m
	}
	largest := 0
	for i, v := range m {
		if math.Abs(v) > math.Abs(m[largest]) {
			largest = i
		}
	}
	if m[largest] < 0 {
		norm = -norm
	}
	return m.Scale(1 / norm)
}

// ProportionalTo reports whether m ≈ k·o for some nonzero k, comparing the
// normalized forms element-wise within tol.
func (m Matrix3) ProportionalTo(o Matrix3, tol float64) bool {
	if m.IsZero() || o.IsZero() {
		return false
	}
	a, b := m.Normalized(), o.Normalized()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// SingularValues returns the singular values in descending order.
func (m Matrix3) SingularValues() [3]float64 {
	var svd mat.SVD
	if !svd.Factorize(m.Dense(), mat.SVDNone) {
		return [3]float64{math.NaN(), math.NaN(), math.NaN()}
	}
	var out [3]float64
	copy(out[:], svd.Values(nil))
	return out
}

// Array returns the matrix as nested rows.
func (m Matrix3) Array() [3][3]float64 {
	return [3][3]float64{
		{m[0], m[1], m[2]},
		{m[3], m[4], m[5]},
		{m[6], m[7], m[8]},
	}
}

// String formats the matrix as three bracketed rows.
func (m Matrix3) String() string {
	var b strings.Builder
	for i := range 3 {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[% .6g % .6g % .6g]", m[3*i], m[3*i+1], m[3*i+2])
	}
	return b.String()
}
