package tracking

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var errIllConditioned = errors.New("tracking: ill-conditioned innovation covariance")

// maxInnovationCond bounds the condition number of H·P·Hᵀ+R.
const maxInnovationCond = 1e12

// kalman is a linear Kalman filter core over a state vector and its
// covariance.
type kalman struct {
	x *mat.VecDense
	p *mat.SymDense
}

func newKalman(n int, variance float64) *kalman {
	k := &kalman{x: mat.NewVecDense(n, nil), p: mat.NewSymDense(n, nil)}
	for i := range n {
		k.p.SetSym(i, i, variance)
	}
	return k
}

func (k *kalman) clone() *kalman {
	p := mat.NewSymDense(k.p.SymmetricDim(), nil)
	p.CopySym(k.p)
	return &kalman{x: mat.VecDenseCopyOf(k.x), p: p}
}

// propagate advances state and covariance: x = F·x, P = F·P·Fᵀ + Q.
func (k *kalman) propagate(f mat.Matrix, q mat.Symmetric) {
	var x mat.VecDense
	x.MulVec(f, k.x)
	k.x.CopyVec(&x)
	k.propagateCovariance(f, q)
}

// propagateCovariance advances only the covariance.
func (k *kalman) propagateCovariance(f mat.Matrix, q mat.Symmetric) {
	var fp, fpf mat.Dense
	fp.Mul(f, k.p)
	fpf.Mul(&fp, f.T())
	fpf.Add(&fpf, q)
	k.p = symmetrize(&fpf)
}

// correct applies a measurement with model H, noise R and innovation y and
// returns the state increment K·y.
func (k *kalman) correct(h mat.Matrix, r mat.Symmetric, y mat.Vector) (*mat.VecDense, error) {
	var hp, s mat.Dense
	hp.Mul(h, k.p)
	s.Mul(&hp, h.T())
	s.Add(&s, r)

	var chol mat.Cholesky
	if ok := chol.Factorize(symmetrize(&s)); !ok {
		return nil, errIllConditioned
	}
	if c := chol.Cond(); math.IsNaN(c) || c > maxInnovationCond {
		return nil, errIllConditioned
	}

	// Kᵀ = S⁻¹·H·P, as both S and P are symmetric.
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		return nil, errIllConditioned
	}

	var dx mat.VecDense
	dx.MulVec(kt.T(), y)
	k.x.AddVec(k.x, &dx)

	// P = (I - K·H)·P = P - K·(H·P)
	var khp, p mat.Dense
	khp.Mul(kt.T(), &hp)
	p.Sub(k.p, &khp)
	k.p = symmetrize(&p)

	return &dx, nil
}

// finite reports whether state and covariance are free of NaN and Inf and
// the covariance diagonal is non-negative.
func (k *kalman) finite() bool {
	for i := range k.x.Len() {
		if v := k.x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	n := k.p.SymmetricDim()
	for i := range n {
		if d := k.p.At(i, i); d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return false
		}
		for j := i + 1; j < n; j++ {
			if v := k.p.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (k *kalman) trace() float64 {
	return mat.Trace(k.p)
}

// inflate scales the covariance by factor.
func (k *kalman) inflate(factor float64) {
	k.p.ScaleSym(factor, k.p)
}

// limit scales the covariance down so its trace does not exceed ceiling.
// Uniform scaling keeps the correlation structure and positive
// definiteness.
func (k *kalman) limit(ceiling float64) {
	if tr := k.trace(); tr > ceiling {
		k.p.ScaleSym(ceiling/tr, k.p)
	}
}

// block returns a copy of the square covariance block starting at off.
func (k *kalman) block(off, n int) *mat.SymDense {
	out := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			out.SetSym(i, j, k.p.At(off+i, off+j))
		}
	}
	return out
}

func symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}

// diagonal returns an n x n symmetric matrix with v on the diagonal.
func diagonal(n int, v float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := range n {
		s.SetSym(i, i, v)
	}
	return s
}
