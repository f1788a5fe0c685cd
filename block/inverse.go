package block

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultMaxCond is the default largest condition number accepted by Inverse.
	DefaultMaxCond = 1e12
)

// Inverse returns the inverse of the square block a.
// ErrSingular is returned if a is singular, or if its condition number exceeds maxCond.
// A non-positive maxCond selects DefaultMaxCond.
func Inverse(a *mat.CDense, maxCond float64) (*mat.CDense, error) {
	n, c := a.Dims()
	if n != c {
		return nil, errors.Wrapf(ErrShape, "inverse of %dx%d", n, c)
	}
	if maxCond <= 0 {
		maxCond = DefaultMaxCond
	}

	var lu mat.LU
	lu.Factorize(embed(a))
	cond := lu.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > maxCond {
		return nil, errors.Wrapf(ErrSingular, "condition number %g of\n%s", cond, String(a))
	}

	eye := mat.NewDiagDense(2*n, nil)
	for i := range 2 * n {
		eye.SetDiag(i, 1)
	}
	var inv mat.Dense
	if err := lu.SolveTo(&inv, false, eye); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}

	// The inverse of the embedding is the embedding of the inverse, so the left half of its columns suffices.
	b := mat.NewCDense(n, n, nil)
	for i := range n {
		for j := range n {
			b.Set(i, j, complex(inv.At(i, j), inv.At(i+n, j)))
		}
	}
	return b, nil
}

// embed returns the real 2n x 2n representation of the complex block a.
func embed(a *mat.CDense) *mat.Dense {
	n, _ := a.Dims()
	e := mat.NewDense(2*n, 2*n, nil)
	for i := range n {
		for j := range n {
			v := a.At(i, j)
			re, im := real(v), imag(v)
			e.Set(i, j, re)
			e.Set(i, j+n, -im)
			e.Set(i+n, j, im)
			e.Set(i+n, j+n, re)
		}
	}
	return e
}
