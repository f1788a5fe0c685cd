package negf

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf/block"
)

// A System is a finite block-tridiagonal scattering region with leads attached, evaluated at a single energy.
// Creating a System computes the self-energies of all leads and the diagonal blocks of the Green's function.
// Off-diagonal blocks and transmissions are computed on first access and cached.
// A System is not safe for concurrent use.
type System struct {
	onSite    []*mat.CDense
	couple    []*mat.CDense
	couplings []*Coupling
	params    Params

	// leadSigma[c] is the self-energy of couplings[c].
	leadSigma []*mat.CDense
	// selfEnergy[i] is the total self-energy at layer i, nil if no lead attaches there.
	selfEnergy []*mat.CDense

	// g[i] is the left-connected Green's function of layer i, in which the layers to the right of i are absent.
	g []*mat.CDense
	// diag[i] is the block G_ii.
	diag []*mat.CDense
	// offDiag holds G_ij keyed by i < j.
	offDiag map[[2]int]*mat.CDense

	t     *mat.Dense
	tDone map[[2]int]bool
}

// NewSystem creates a scattering region from its on-site blocks and its nearest-neighbor couplings.
// couple[i] couples layer i to layer i+1, so len(couple) must be len(onSite)-1.
func NewSystem(onSite, couple []*mat.CDense, couplings []*Coupling, p Params) (*System, error) {
	if err := p.validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := checkSystem(onSite, couple, couplings); err != nil {
		return nil, errors.Wrap(err, "")
	}

	s := &System{onSite: onSite, couple: couple, couplings: couplings, params: p}
	s.leadSigma = make([]*mat.CDense, len(couplings))
	s.selfEnergy = make([]*mat.CDense, len(onSite))
	s.g = make([]*mat.CDense, len(onSite))
	s.diag = make([]*mat.CDense, len(onSite))
	s.offDiag = make(map[[2]int]*mat.CDense)
	s.t = mat.NewDense(max(len(couplings), 1), max(len(couplings), 1), nil)
	s.tDone = make(map[[2]int]bool)

	for i, c := range couplings {
		se, err := c.SelfEnergy(p)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("lead %d", i))
		}
		s.leadSigma[i] = se

		if prev := s.selfEnergy[c.Position]; prev != nil {
			se = block.Add(prev, se)
		}
		s.selfEnergy[c.Position] = se
	}

	if err := s.diagonal(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func checkSystem(onSite, couple []*mat.CDense, couplings []*Coupling) error {
	if len(onSite) == 0 {
		return errors.Wrap(ErrShapeMismatch, "no layers")
	}
	if len(couple) != len(onSite)-1 {
		return errors.Wrapf(ErrShapeMismatch, "%d couplings for %d layers", len(couple), len(onSite))
	}
	for i, d := range onSite {
		if d == nil || !block.IsSquare(d) {
			return errors.Wrapf(ErrShapeMismatch, "on-site block %d is not square", i)
		}
	}
	for i, d := range couple {
		if d == nil {
			return errors.Wrapf(ErrShapeMismatch, "nil coupling block %d", i)
		}
		r, c := d.Dims()
		ri, _ := onSite[i].Dims()
		rj, _ := onSite[i+1].Dims()
		if r != ri || c != rj {
			return errors.Wrapf(ErrShapeMismatch, "coupling block %d is %dx%d, layers are %d and %d", i, r, c, ri, rj)
		}
	}
	for i, c := range couplings {
		if c == nil {
			return errors.Wrapf(ErrShapeMismatch, "nil coupling %d", i)
		}
		if c.Lead == nil || c.DCouple == nil {
			return errors.Wrapf(ErrShapeMismatch, "lead %d: nil lead %v or coupling block %v", i, c.Lead == nil, c.DCouple == nil)
		}
		if err := checkLead(c.Lead.D00, c.Lead.D11, c.Lead.D01); err != nil {
			return errors.Wrap(err, fmt.Sprintf("lead %d", i))
		}
		if _, cols := c.DCouple.Dims(); cols != c.Lead.Size() {
			return errors.Wrapf(ErrShapeMismatch, "lead %d coupling block has %d columns, lead has %d", i, cols, c.Lead.Size())
		}
		if c.Position < 0 || c.Position >= len(onSite) {
			return errors.Wrapf(ErrIndexOutOfRange, "lead %d at position %d, %d layers", i, c.Position, len(onSite))
		}
		r, _ := c.DCouple.Dims()
		if n, _ := onSite[c.Position].Dims(); r != n {
			return errors.Wrapf(ErrShapeMismatch, "lead %d coupling block has %d rows, layer %d has %d", i, r, c.Position, n)
		}
	}
	return nil
}

// m returns the block (i, j) of the effective operator energyTerm*I - D - Σ.
func (s *System) m(i, j int) *mat.CDense {
	switch {
	case i == j:
		mii := s.params.resolvent(s.onSite[i])
		if se := s.selfEnergy[i]; se != nil {
			mii = block.Sub(mii, se)
		}
		return mii
	case i+1 == j:
		return block.Scale(-1, s.couple[i])
	case i == j+1:
		return block.Scale(-1, block.H(s.couple[j]))
	default:
		panic(fmt.Sprintf("%d %d", i, j))
	}
}

// diagonal computes the diagonal blocks with a forward sweep building the left-connected Green's functions,
// followed by a backward sweep connecting the layers to the right.
func (s *System) diagonal() error {
	n := len(s.onSite)
	maxCond := s.params.maxCond

	var err error
	s.g[0], err = block.Inverse(s.m(0, 0), maxCond)
	if err != nil {
		return errors.Wrap(err, "layer 0")
	}
	for j := 1; j < n; j++ {
		mjj := block.Sub(s.m(j, j), block.Mul(s.m(j, j-1), s.g[j-1], s.m(j-1, j)))
		s.g[j], err = block.Inverse(mjj, maxCond)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("layer %d", j))
		}
	}

	s.diag[n-1] = s.g[n-1]
	for j := n - 2; j >= 0; j-- {
		gj := s.g[j]
		s.diag[j] = block.Add(gj, block.Mul(gj, s.m(j, j+1), s.diag[j+1], s.m(j+1, j), gj))
	}
	return nil
}

// Len returns the number of layers.
func (s *System) Len() int { return len(s.onSite) }

// Params returns the parameters of the evaluation.
func (s *System) Params() Params { return s.params }

// Couplings returns the attached leads.
func (s *System) Couplings() []*Coupling { return s.couplings }

// SelfEnergy returns the total self-energy at layer i, which is zero where no lead attaches.
func (s *System) SelfEnergy(i int) (*mat.CDense, error) {
	if err := s.checkLayer(i); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if se := s.selfEnergy[i]; se != nil {
		return se, nil
	}
	n, _ := s.onSite[i].Dims()
	return block.Zeros(n, n), nil
}

// Diagonal returns the Green's function block G_ii.
func (s *System) Diagonal(i int) (*mat.CDense, error) {
	if err := s.checkLayer(i); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s.diag[i], nil
}

// OffDiagonal returns the Green's function block G_ij, computing it on first access.
// G_ij and G_ji are the same cached block, as for a system with a reciprocal, real symmetric dynamical matrix.
// For i == j it returns the diagonal block.
func (s *System) OffDiagonal(i, j int) (*mat.CDense, error) {
	if err := s.checkLayer(i); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := s.checkLayer(j); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if i == j {
		return s.diag[i], nil
	}
	if i > j {
		i, j = j, i
	}
	key := [2]int{i, j}
	if gij, ok := s.offDiag[key]; ok {
		return gij, nil
	}

	// G_ij = g_i (-M_{i,i+1}) g_{i+1} (-M_{i+1,i+2}) ... g_{j-1} (-M_{j-1,j}) G_jj.
	ni, _ := s.onSite[i].Dims()
	prod := block.Identity(ni)
	for k := i; k < j; k++ {
		prod = block.Mul(prod, s.g[k], block.Scale(-1, s.m(k, k+1)))
	}
	gij := block.Mul(prod, s.diag[j])

	s.offDiag[key] = gij
	return gij, nil
}

// Transmission returns the transmission between the leads couplings[i] and couplings[j], computing it on first access.
// It is given by the Caroli formula Re Tr[Γ_j G^† Γ_i G], where G is the block between the layers of the two leads,
// and Γ = i(Σ - Σ^†) is the broadening of a lead.
func (s *System) Transmission(i, j int) (float64, error) {
	for _, c := range [2]int{i, j} {
		if c < 0 || c >= len(s.couplings) {
			return -1, errors.Wrapf(ErrIndexOutOfRange, "lead %d, %d leads", c, len(s.couplings))
		}
	}
	// Order the leads by layer so that the dimensions of the product chain agree with the stored block.
	if s.couplings[i].Position > s.couplings[j].Position {
		i, j = j, i
	}
	key := [2]int{min(i, j), max(i, j)}
	if s.tDone[key] {
		return s.t.At(i, j), nil
	}

	ic, jc := s.couplings[i].Position, s.couplings[j].Position
	gij, err := s.OffDiagonal(ic, jc)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	gammaI, gammaJ := broadening(s.leadSigma[i]), broadening(s.leadSigma[j])
	t := real(block.Trace(block.Mul(gammaJ, block.H(gij), gammaI, gij)))

	s.t.Set(i, j, t)
	s.t.Set(j, i, t)
	s.tDone[key] = true
	return t, nil
}

// Transmissions computes the transmission between every pair of leads and returns the full transmission matrix.
func (s *System) Transmissions() (*mat.Dense, error) {
	for i := range s.couplings {
		for j := i + 1; j < len(s.couplings); j++ {
			if _, err := s.Transmission(i, j); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%d %d", i, j))
			}
		}
	}
	return s.TransmissionMatrix(), nil
}

// TransmissionMatrix returns a copy of the transmission matrix, whose entries not yet computed are zero.
// A System without leads has a 1x1 zero matrix.
func (s *System) TransmissionMatrix() *mat.Dense {
	return mat.DenseCopyOf(s.t)
}

func (s *System) checkLayer(i int) error {
	if i < 0 || i >= len(s.onSite) {
		return errors.Wrapf(ErrIndexOutOfRange, "layer %d, %d layers", i, len(s.onSite))
	}
	return nil
}

// broadening returns i(Σ - Σ^†).
func broadening(se *mat.CDense) *mat.CDense {
	return block.Scale(1i, block.Sub(se, block.H(se)))
}
