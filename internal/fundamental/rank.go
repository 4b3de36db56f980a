package fundamental

import (
	"errors"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"gonum.org/v1/gonum/mat"
)

// EnforceRank2 returns the closest rank-2 matrix to f in Frobenius norm by
// zeroing its smallest singular value.
func EnforceRank2(f geometry.Matrix3) (geometry.Matrix3, error) {
	var svd mat.SVD
	if !svd.Factorize(f.Dense(), mat.SVDFull) {
		return geometry.Matrix3{}, errors.New("SVD of candidate matrix did not converge")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	s[2] = 0

	var us, out mat.Dense
	us.Mul(&u, mat.NewDiagDense(3, s))
	out.Mul(&us, v.T())
	return geometry.Matrix3FromDense(&out), nil
}
