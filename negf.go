// Package negf computes transmission through a layered scattering region with the non-equilibrium Green's function method.
//
// A calculation at a single energy proceeds in three steps:
//   - The surface Green's function of each semi-infinite lead is obtained by decimation, see SurfaceGF.
//   - Each lead is embedded into the layer it attaches to as a self-energy, see SelfEnergy.
//   - The blocks of the retarded Green's function of the block-tridiagonal region are computed recursively,
//     from which the Caroli transmission between pairs of leads follows, see System.
//
// The same code serves electrons, where the resolvent is (E + iδ)I - H, and phonons, where it is (ω + iδ)²I - K.
//
// References:
//   - Highly convergent schemes for the calculation of bulk and surface Green functions, M P Lopez Sancho, J M Lopez Sancho, J Rubio
//   - Direct calculation of the tunneling current, C Caroli, R Combescot, P Nozieres, D Saint-James
package negf

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/block"
)

// Order is the order of the dispersion relation in the energy variable.
type Order int

const (
	// First is the electronic case, the resolvent being zI - H.
	First Order = 1
	// Second is the vibrational case, the resolvent being z²I - K.
	Second Order = 2
)

func (o Order) String() string {
	switch o {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return fmt.Sprintf("Order(%d)", int(o))
	}
}

// Params are the parameters of an evaluation at a single energy.
// Cached surface Green's functions and self-energies are valid only for identical Params.
type Params struct {
	e             float64
	order         Order
	delta         float64
	epsilon       float64
	maxIterations int
	maxCond       float64
}

// NewParams returns the default parameters at energy e.
// For Second, e is the frequency ω.
func NewParams(e float64) Params {
	p := Params{e: e}
	p.order = Second
	p.delta = 1e-6
	p.epsilon = 1e-6
	p.maxIterations = 128
	p.maxCond = block.DefaultMaxCond
	return p
}

// Energy sets the energy, or the frequency for Second.
func (p Params) Energy(e float64) Params {
	p.e = e
	return p
}

// Order sets the order of the dispersion relation.
func (p Params) Order(o Order) Params {
	p.order = o
	return p
}

// Delta sets the broadening δ added as an imaginary part to the energy.
func (p Params) Delta(delta float64) Params {
	p.delta = delta
	return p
}

// Epsilon sets the tolerance on the decimation coupling max|τ1|.
func (p Params) Epsilon(epsilon float64) Params {
	p.epsilon = epsilon
	return p
}

// MaxIterations sets the maximum iterations of the decimation.
func (p Params) MaxIterations(i int) Params {
	p.maxIterations = i
	return p
}

// MaxCond sets the largest condition number of an accepted block inverse.
func (p Params) MaxCond(c float64) Params {
	p.maxCond = c
	return p
}

// E returns the energy.
func (p Params) E() float64 { return p.e }

func (p Params) validate() error {
	if p.order != First && p.order != Second {
		return errors.Wrapf(ErrParams, "order %d", int(p.order))
	}
	if !(p.delta > 0) {
		return errors.Wrapf(ErrParams, "delta %g", p.delta)
	}
	if !(p.epsilon > 0) {
		return errors.Wrapf(ErrParams, "epsilon %g", p.epsilon)
	}
	if p.maxIterations <= 0 {
		return errors.Wrapf(ErrParams, "max iterations %d", p.maxIterations)
	}
	return nil
}

// energyTerm returns z for First and z² for Second, where z = E + iδ.
func (p Params) energyTerm() complex128 {
	z := complex(p.e, p.delta)
	if p.order == First {
		return z
	}
	return z * z
}

// resolvent returns energyTerm*I - d for a square block d.
func (p Params) resolvent(d *mat.CDense) *mat.CDense {
	n, _ := d.Dims()
	return block.Sub(block.Scale(p.energyTerm(), block.Identity(n)), d)
}
