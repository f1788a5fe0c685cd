package negf

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/block"
)

// Decimation is the outcome of the decimation of a semi-infinite lead.
type Decimation struct {
	// GF is the surface Green's function.
	GF *mat.CDense
	// Iterations is the number of renormalization steps taken.
	Iterations int
	// Residuals are the values of max|τ1| before each step, followed by the final value.
	Residuals []float64
}

// SurfaceGF computes the retarded surface Green's function of a semi-infinite periodic lead by decimation.
// d00 is the on-site block of the surface layer, d11 that of the bulk layers, and d01 couples a layer to the next one.
// Each step doubles the effective unit cell, so that the coupling τ1 shrinks geometrically inside the bulk band.
// See Equations 9 to 12, M P Lopez Sancho, J M Lopez Sancho, J Rubio.
func SurfaceGF(d00, d11, d01 *mat.CDense, p Params) (Decimation, error) {
	if err := p.validate(); err != nil {
		return Decimation{}, errors.Wrap(err, "")
	}
	if err := checkLead(d00, d11, d01); err != nil {
		return Decimation{}, errors.Wrap(err, "")
	}

	ws := p.resolvent(d00)
	wb := p.resolvent(d11)
	tau1 := block.Clone(d01)
	tau2 := block.H(d01)

	dec := Decimation{Residuals: []float64{block.MaxAbs(tau1)}}
	for {
		residual := dec.Residuals[len(dec.Residuals)-1]
		if math.IsNaN(residual) {
			return Decimation{}, errors.Wrapf(ErrConvergence, "NaN coupling after %d iterations", dec.Iterations)
		}
		if residual <= p.epsilon {
			break
		}
		if dec.Iterations >= p.maxIterations {
			return Decimation{}, errors.Wrapf(ErrConvergence, "max|τ1| %g > %g after %d iterations", residual, p.epsilon, dec.Iterations)
		}

		wbInv, err := block.Inverse(wb, p.maxCond)
		if err != nil {
			return Decimation{}, errors.Wrap(err, fmt.Sprintf("iteration %d", dec.Iterations))
		}
		t1w := block.Mul(tau1, wbInv)
		t2w := block.Mul(tau2, wbInv)
		t1wt2 := block.Mul(t1w, tau2)

		ws = block.Sub(ws, t1wt2)
		wb = block.Sub(block.Sub(wb, t1wt2), block.Mul(t2w, tau1))
		tau1 = block.Mul(t1w, tau1)
		tau2 = block.Mul(t2w, tau2)

		dec.Iterations++
		dec.Residuals = append(dec.Residuals, block.MaxAbs(tau1))
	}

	var err error
	dec.GF, err = block.Inverse(ws, p.maxCond)
	if err != nil {
		return Decimation{}, errors.Wrap(err, "surface")
	}
	return dec, nil
}

func checkLead(d00, d11, d01 *mat.CDense) error {
	for i, d := range []*mat.CDense{d00, d11, d01} {
		if d == nil {
			return errors.Wrapf(ErrShapeMismatch, "nil block %d", i)
		}
		if !block.IsSquare(d) {
			r, c := d.Dims()
			return errors.Wrapf(ErrShapeMismatch, "block %d is %dx%d", i, r, c)
		}
	}
	n, _ := d00.Dims()
	if r, _ := d11.Dims(); r != n {
		return errors.Wrapf(ErrShapeMismatch, "D11 %d, D00 %d", r, n)
	}
	if r, _ := d01.Dims(); r != n {
		return errors.Wrapf(ErrShapeMismatch, "D01 %d, D00 %d", r, n)
	}
	return nil
}

// A Lead is a semi-infinite periodic lead.
// A Lead caches the surface Green's function of its most recent Params, and is not safe for concurrent use.
type Lead struct {
	D00 *mat.CDense
	D11 *mat.CDense
	D01 *mat.CDense

	cache struct {
		ok     bool
		params Params
		dec    Decimation
	}
}

// NewLead creates a lead from its surface on-site block d00, bulk on-site block d11, and inter-layer coupling d01.
func NewLead(d00, d11, d01 *mat.CDense) (*Lead, error) {
	if err := checkLead(d00, d11, d01); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Lead{D00: d00, D11: d11, D01: d01}, nil
}

// Size returns the number of degrees of freedom of a layer of the lead.
func (l *Lead) Size() int {
	n, _ := l.D00.Dims()
	return n
}

// SurfaceGF returns the surface Green's function of the lead.
// The result is recomputed whenever p differs from that of the previous call.
func (l *Lead) SurfaceGF(p Params) (*mat.CDense, error) {
	dec, err := l.Decimate(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return dec.GF, nil
}

// Decimate is like SurfaceGF but returns the details of the decimation.
func (l *Lead) Decimate(p Params) (Decimation, error) {
	if l.cache.ok && l.cache.params == p {
		return l.cache.dec, nil
	}
	l.cache.ok = false

	dec, err := SurfaceGF(l.D00, l.D11, l.D01, p)
	if err != nil {
		return Decimation{}, errors.Wrap(err, "")
	}
	l.cache.ok, l.cache.params, l.cache.dec = true, p, dec
	return dec, nil
}
