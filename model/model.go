// Package model builds block-tridiagonal models of scattering regions with leads attached.
package model

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf"
	"github.com/fumin/negf/block"
)

// LeadSpec describes a semi-infinite lead and where it attaches.
type LeadSpec struct {
	D00 *mat.CDense
	D11 *mat.CDense
	D01 *mat.CDense

	Position int
	// DCouple couples the surface layer of the lead to the layer at Position.
	DCouple *mat.CDense
}

// A Model is a scattering region together with its leads.
// The blocks of a Model are shared read only by every System created from it.
type Model struct {
	Order  negf.Order
	OnSite []*mat.CDense
	Couple []*mat.CDense
	Leads  []LeadSpec
}

// Couplings creates new leads and couplings.
// Since leads and couplings cache their results, each evaluation should own its own set.
func (m Model) Couplings() ([]*negf.Coupling, error) {
	couplings := make([]*negf.Coupling, 0, len(m.Leads))
	for i, ls := range m.Leads {
		lead, err := negf.NewLead(ls.D00, ls.D11, ls.D01)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("lead %d", i))
		}
		c, err := negf.NewCoupling(lead, ls.Position, ls.DCouple)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("lead %d", i))
		}
		couplings = append(couplings, c)
	}
	return couplings, nil
}

// System evaluates the model at the energy of p, overriding the order of p with that of the model.
func (m Model) System(p negf.Params) (*negf.System, error) {
	couplings, err := m.Couplings()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s, err := negf.NewSystem(m.OnSite, m.Couple, couplings, p.Order(m.Order))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

// AtomChain returns a one dimensional chain of n unit masses connected by springs of force constant f,
// with a semi-infinite chain of the same kind attached at each end.
func AtomChain(n int, f float64) Model {
	masses := make([]float64, n)
	for i := range masses {
		masses[i] = 1
	}
	return MassChain(masses, f)
}

// MassChain is like AtomChain, but with the masses of the scattering region given by masses.
// The leads have unit masses.
// The dynamical matrix is K_ij / sqrt(m_i m_j), where K is the force constant matrix.
func MassChain(masses []float64, f float64) Model {
	n := len(masses)
	if n == 0 {
		panic("no sites")
	}
	m := Model{Order: negf.Second}
	for i, mi := range masses {
		m.OnSite = append(m.OnSite, block.Scalar(complex(2*f/mi, 0)))
		if i+1 < n {
			m.Couple = append(m.Couple, block.Scalar(complex(-f/math.Sqrt(mi*masses[i+1]), 0)))
		}
	}

	bulk := block.Scalar(complex(2*f, 0))
	hop := block.Scalar(complex(-f, 0))
	m.Leads = []LeadSpec{
		{D00: bulk, D11: bulk, D01: hop, Position: 0, DCouple: block.Scalar(complex(-f/math.Sqrt(masses[0]), 0))},
		{D00: bulk, D11: bulk, D01: hop, Position: n - 1, DCouple: block.Scalar(complex(-f/math.Sqrt(masses[n-1]), 0))},
	}
	return m
}

// TightBinding returns a tight-binding chain of n sites with on-site energy eps and hopping t,
// with identical semi-infinite chains attached at each end.
func TightBinding(n int, eps, t float64) Model {
	onSite := block.Scalar(complex(eps, 0))
	hop := block.Scalar(complex(-t, 0))
	return periodic(n, onSite, hop)
}

// Ladder returns a two-leg tight-binding ladder of n rungs with hopping t along the legs and tPerp across a rung,
// with identical semi-infinite ladders attached at each end.
// Each layer is a rung, so that blocks are 2x2.
func Ladder(n int, t, tPerp float64) Model {
	onSite := block.M([][]complex128{
		{0, complex(-tPerp, 0)},
		{complex(-tPerp, 0), 0},
	})
	hop := block.Scale(complex(-t, 0), block.Identity(2))
	return periodic(n, onSite, hop)
}

func periodic(n int, onSite, hop *mat.CDense) Model {
	if n <= 0 {
		panic(fmt.Sprintf("%d layers", n))
	}
	m := Model{Order: negf.First}
	for i := range n {
		m.OnSite = append(m.OnSite, onSite)
		if i+1 < n {
			m.Couple = append(m.Couple, hop)
		}
	}
	// The right lead couples its surface to layer n-1 through the transposed hopping,
	// so that it extends the region in the direction of increasing layer index.
	m.Leads = []LeadSpec{
		{D00: onSite, D11: onSite, D01: hop, Position: 0, DCouple: hop},
		{D00: onSite, D11: onSite, D01: hop, Position: n - 1, DCouple: block.H(hop)},
	}
	return m
}

// Defect returns a copy of m in which the on-site block of layer i is shifted by delta times the identity.
func (m Model) Defect(i int, delta float64) Model {
	if i < 0 || i >= len(m.OnSite) {
		panic(fmt.Sprintf("%d %d", i, len(m.OnSite)))
	}
	onSite := append([]*mat.CDense(nil), m.OnSite...)
	r, _ := onSite[i].Dims()
	onSite[i] = block.Add(onSite[i], block.Scale(complex(delta, 0), block.Identity(r)))
	m.OnSite = onSite
	return m
}
