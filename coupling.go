package negf

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/block"
)

// SelfEnergy returns the self-energy Σ = dCouple @ leadGF @ dCouple.H of a lead whose surface Green's function is leadGF.
// dCouple couples the lead's surface layer to the layer it attaches to, so that Σ is sized to the latter.
func SelfEnergy(leadGF, dCouple *mat.CDense) (*mat.CDense, error) {
	if !block.IsSquare(leadGF) {
		r, c := leadGF.Dims()
		return nil, errors.Wrapf(ErrShapeMismatch, "lead GF %dx%d", r, c)
	}
	n, _ := leadGF.Dims()
	if _, c := dCouple.Dims(); c != n {
		r, _ := dCouple.Dims()
		return nil, errors.Wrapf(ErrShapeMismatch, "coupling %dx%d, lead %d", r, c, n)
	}
	return block.Mul(dCouple, leadGF, block.H(dCouple)), nil
}

// A Coupling attaches a Lead to the layer Position of a scattering region through the block DCouple.
// A Coupling caches the self-energy of its most recent Params, and is not safe for concurrent use.
type Coupling struct {
	Lead     *Lead
	Position int
	DCouple  *mat.CDense

	cache struct {
		ok         bool
		params     Params
		selfEnergy *mat.CDense
	}
}

// NewCoupling creates a coupling of lead to the layer position.
func NewCoupling(lead *Lead, position int, dCouple *mat.CDense) (*Coupling, error) {
	if lead == nil || dCouple == nil {
		return nil, errors.Errorf("nil lead %v or coupling block %v", lead == nil, dCouple == nil)
	}
	if position < 0 {
		return nil, errors.Wrapf(ErrIndexOutOfRange, "position %d", position)
	}
	if _, c := dCouple.Dims(); c != lead.Size() {
		r, _ := dCouple.Dims()
		return nil, errors.Wrapf(ErrShapeMismatch, "coupling %dx%d, lead %d", r, c, lead.Size())
	}
	return &Coupling{Lead: lead, Position: position, DCouple: dCouple}, nil
}

// SelfEnergy returns the self-energy injected by the lead, decimating the lead if needed.
// The result is recomputed whenever p differs from that of the previous call.
func (c *Coupling) SelfEnergy(p Params) (*mat.CDense, error) {
	if c.cache.ok && c.cache.params == p {
		return c.cache.selfEnergy, nil
	}
	c.cache.ok = false

	gf, err := c.Lead.SurfaceGF(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	se, err := SelfEnergy(gf, c.DCouple)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.cache.ok, c.cache.params, c.cache.selfEnergy = true, p, se
	return se, nil
}
