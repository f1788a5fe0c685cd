// Package block implements the dense complex matrix blocks of a layered Green's function calculation.
//
// Blocks are gonum *mat.CDense values. Every function returns a newly allocated block and never mutates its arguments.
// Products are computed with the complex BLAS level 3 routine, and inverses with a LU factorization of the real embedding
//
//	A = X + iY  ->  [X -Y]
//	                [Y  X]
//
// which is needed since gonum's LAPACK is real only.
package block

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/cblas128"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when the dimensions of blocks are incompatible.
	ErrShape = errors.New("block: dimension mismatch")
	// ErrSingular is returned when an inverse does not exist or is too ill-conditioned to be trusted.
	ErrSingular = errors.New("block: singular matrix")
)

// M creates a block from a dense row major literal.
func M(dense [][]complex128) *mat.CDense {
	rows := len(dense)
	if rows == 0 {
		panic("empty rows")
	}
	cols := len(dense[0])
	m := mat.NewCDense(rows, cols, nil)
	for i, row := range dense {
		if len(row) != cols {
			panic(fmt.Sprintf("row %d has %d columns, expected %d", i, len(row), cols))
		}
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}

// Scalar returns the 1x1 block holding v.
func Scalar(v complex128) *mat.CDense {
	return mat.NewCDense(1, 1, []complex128{v})
}

// Zeros returns a rows x cols block of zeros.
func Zeros(rows, cols int) *mat.CDense {
	return mat.NewCDense(rows, cols, nil)
}

// Identity returns the n x n identity.
func Identity(n int) *mat.CDense {
	m := mat.NewCDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1)
	}
	return m
}

// Clone returns a deep copy of a.
func Clone(a mat.CMatrix) *mat.CDense {
	r, c := a.Dims()
	m := mat.NewCDense(r, c, nil)
	m.Copy(a)
	return m
}

// IsSquare reports whether a is a non-empty square block.
func IsSquare(a mat.CMatrix) bool {
	r, c := a.Dims()
	return r > 0 && r == c
}

// Mul returns the product ms[0] @ ms[1] @ ... taken left to right.
func Mul(ms ...*mat.CDense) *mat.CDense {
	if len(ms) == 0 {
		panic("no operands")
	}
	p := Clone(ms[0])
	for _, m := range ms[1:] {
		p = mul(p, m)
	}
	return p
}

func mul(a, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ac != br {
		panic(fmt.Sprintf("%+v: %dx%d @ %dx%d", ErrShape, ar, ac, br, bc))
	}
	c := mat.NewCDense(ar, bc, nil)
	cblas128.Gemm(blas.NoTrans, blas.NoTrans, 1, a.RawCMatrix(), b.RawCMatrix(), 0, c.RawCMatrix())
	return c
}

// Add returns a + b.
func Add(a, b *mat.CDense) *mat.CDense {
	return axpy(a, 1, b)
}

// Sub returns a - b.
func Sub(a, b *mat.CDense) *mat.CDense {
	return axpy(a, -1, b)
}

// axpy returns a + alpha*b.
func axpy(a *mat.CDense, alpha complex128, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		panic(fmt.Sprintf("%+v: %dx%d + %dx%d", ErrShape, ar, ac, br, bc))
	}
	c := mat.NewCDense(ar, ac, nil)
	for i := range ar {
		for j := range ac {
			c.Set(i, j, a.At(i, j)+alpha*b.At(i, j))
		}
	}
	return c
}

// Scale returns alpha*a.
func Scale(alpha complex128, a *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	s := mat.NewCDense(r, c, nil)
	for i := range r {
		for j := range c {
			s.Set(i, j, alpha*a.At(i, j))
		}
	}
	return s
}

// H returns the conjugate transpose of a.
func H(a *mat.CDense) *mat.CDense {
	return Clone(a.H())
}

// Trace returns the sum of the diagonal of a square block.
func Trace(a *mat.CDense) complex128 {
	r, c := a.Dims()
	if r != c {
		panic(fmt.Sprintf("%+v: trace of %dx%d", ErrShape, r, c))
	}
	var t complex128
	for i := range r {
		t += a.At(i, i)
	}
	return t
}

// MaxAbs returns the largest modulus among the elements of a.
func MaxAbs(a *mat.CDense) float64 {
	r, c := a.Dims()
	var m float64
	for i := range r {
		for j := range c {
			v := cmplx.Abs(a.At(i, j))
			if math.IsNaN(v) {
				return v
			}
			m = max(m, v)
		}
	}
	return m
}

// Equal reports whether a and b have the same shape and elements.
func Equal(a, b mat.CMatrix) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := range ar {
		for j := range ac {
			if a.At(i, j) != b.At(i, j) {
				return false
			}
		}
	}
	return true
}

// EqualApprox reports whether a and b have the same shape and every element differs by at most tol relative to max(|a|, 1).
func EqualApprox(a, b mat.CMatrix, tol float64) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for i := range ar {
		for j := range ac {
			av, bv := a.At(i, j), b.At(i, j)
			if cmplx.Abs(av-bv) > tol*max(cmplx.Abs(av), 1) {
				return false
			}
		}
	}
	return true
}

// String renders a with tab separated columns.
func String(a mat.CMatrix) string {
	r, c := a.Dims()
	lines := make([]string, 0, r)
	for i := range r {
		cs := make([]string, 0, c)
		for j := range c {
			v := a.At(i, j)
			switch {
			case imag(v) == 0:
				cs = append(cs, format(real(v)))
			case real(v) == 0:
				cs = append(cs, format(imag(v))+"i")
			default:
				cs = append(cs, fmt.Sprintf(" %v", v))
			}
		}
		lines = append(lines, strings.Join(cs, "\t"))
	}
	return strings.Join(lines, "\n")
}

func format(v float64) string {
	// If v is 0 or -0, return "0" immediately to avoid returning "-0".
	if v == 0 {
		return " 0"
	}

	s := fmt.Sprintf("%v", v)

	// Add a space before non-negative numbers to align with other negative numbers in the same column.
	if v >= 0 {
		s = " " + s
	}

	return s
}
