package negf_test

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/cmplx"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/negf"
	"github.com/fumin/negf/block"
	"github.com/fumin/negf/model"
)

// chainLead returns the lead of a unit mass chain with force constant f.
func chainLead(t *testing.T, f float64) *negf.Lead {
	bulk := block.Scalar(complex(2*f, 0))
	lead, err := negf.NewLead(bulk, bulk, block.Scalar(complex(-f, 0)))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return lead
}

func TestSurfaceGF(t *testing.T) {
	t.Parallel()
	tests := []struct {
		omega float64
	}{
		{omega: 0.3},
		{omega: 1},
		{omega: 1.5},
		{omega: 1.9},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%f", test.omega), func(t *testing.T) {
			t.Parallel()
			lead := chainLead(t, 1)
			p := negf.NewParams(test.omega)
			dec, err := lead.Decimate(p)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			// Inside the band, the self-energy of a semi-infinite chain is (ω²-2f)/2 - i sqrt(f² - (ω²-2f)²/4).
			w := test.omega*test.omega - 2
			expected := complex(w/2, -math.Sqrt(1-w*w/4))
			if g := dec.GF.At(0, 0); cmplx.Abs(g-expected) > 1e-4 {
				t.Fatalf("%v, expected %v", g, expected)
			}

			if dec.Iterations >= 40 {
				t.Fatalf("%d iterations", dec.Iterations)
			}
			rs := dec.Residuals
			if len(rs) != dec.Iterations+1 {
				t.Fatalf("%d residuals, %d iterations", len(rs), dec.Iterations)
			}
			if last := rs[len(rs)-1]; last > 1e-6 {
				t.Fatalf("%g", last)
			}
			// Convergence is quadratic once the broadening dominates.
			for i := len(rs) - 3; i < len(rs); i++ {
				if rs[i] >= rs[i-1] {
					t.Fatalf("%d %#v", i, rs)
				}
			}
		})
	}
}

func TestSurfaceGFOutsideBand(t *testing.T) {
	t.Parallel()
	for _, omega := range []float64{2.1, 2.5, 3} {
		t.Run(fmt.Sprintf("%f", omega), func(t *testing.T) {
			t.Parallel()
			dec, err := chainLead(t, 1).Decimate(negf.NewParams(omega))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for i := 1; i < len(dec.Residuals); i++ {
				if dec.Residuals[i] >= dec.Residuals[i-1] {
					t.Fatalf("%d %#v", i, dec.Residuals)
				}
			}
			// The surface Green's function of an evanescent lead is real up to the broadening.
			if g := dec.GF.At(0, 0); math.Abs(imag(g)) > 1e-5 {
				t.Fatalf("%v", g)
			}
		})
	}
}

func TestSurfaceGFConvergenceFailure(t *testing.T) {
	t.Parallel()
	p := negf.NewParams(1.5).MaxIterations(3)
	_, err := chainLead(t, 1).SurfaceGF(p)
	if !errors.Is(err, negf.ErrConvergence) {
		t.Fatalf("%+v, expected %v", err, negf.ErrConvergence)
	}
}

func TestSurfaceGFInvalid(t *testing.T) {
	t.Parallel()
	bulk := block.Scalar(2)
	diag01 := block.M([][]complex128{
		{0, 0},
		{0, 1},
	})
	tests := []struct {
		d00, d11, d01 *mat.CDense
		p             negf.Params
		err           error
	}{
		{d00: bulk, d11: bulk, d01: block.Scalar(-1), p: negf.NewParams(1).Delta(0), err: negf.ErrParams},
		{d00: bulk, d11: bulk, d01: block.Scalar(-1), p: negf.NewParams(1).Epsilon(-1), err: negf.ErrParams},
		{d00: bulk, d11: bulk, d01: block.Scalar(-1), p: negf.NewParams(1).Order(3), err: negf.ErrParams},
		{d00: bulk, d11: block.Identity(2), d01: block.Scalar(-1), p: negf.NewParams(1), err: negf.ErrShapeMismatch},
		{d00: bulk, d11: bulk, d01: block.Zeros(1, 2), p: negf.NewParams(1), err: negf.ErrShapeMismatch},
		// A NaN coupling never converges.
		{d00: bulk, d11: bulk, d01: block.Scalar(cmplx.NaN()), p: negf.NewParams(1), err: negf.ErrConvergence},
		// The bulk resolvent diag(iδ, -1+iδ) is too ill-conditioned to invert inside the decimation.
		{d00: diag01, d11: diag01, d01: block.Identity(2), p: negf.NewParams(0).Order(negf.First).MaxCond(1e3), err: negf.ErrSingular},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			_, err := negf.SurfaceGF(test.d00, test.d11, test.d01, test.p)
			if !errors.Is(err, test.err) {
				t.Fatalf("%+v, expected %v", err, test.err)
			}
		})
	}
}

func TestLeadCache(t *testing.T) {
	t.Parallel()
	lead := chainLead(t, 1)
	p1, p2 := negf.NewParams(1.5), negf.NewParams(0.5)

	g1, err := lead.SurfaceGF(p1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g1Again, err := lead.SurfaceGF(p1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if g1Again != g1 {
		t.Fatalf("%p, expected cached %p", g1Again, g1)
	}

	g2, err := lead.SurfaceGF(p2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if block.EqualApprox(g1, g2, 1e-3) {
		t.Fatalf("%s, expected different from %s", block.String(g2), block.String(g1))
	}
	// A change of any parameter invalidates the cache.
	g3, err := lead.SurfaceGF(p2.Delta(1e-3))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if g3 == g2 || block.Equal(g3, g2) {
		t.Fatalf("stale %s", block.String(g3))
	}

	g1Recomputed, err := lead.SurfaceGF(p1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !block.Equal(g1Recomputed, g1) {
		t.Fatalf("%s, expected %s", block.String(g1Recomputed), block.String(g1))
	}
}

func TestSelfEnergy(t *testing.T) {
	t.Parallel()
	gf := block.M([][]complex128{
		{1i, 0},
		{0, 2},
	})
	dCouple := block.M([][]complex128{{1, 1i}})
	se, err := negf.SelfEnergy(gf, dCouple)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// [1 i] diag(i, 2) [1 -i]^T = i + 2.
	expected := block.Scalar(2 + 1i)
	if !block.Equal(se, expected) {
		t.Fatalf("%s, expected %s", block.String(se), block.String(expected))
	}

	if _, err := negf.SelfEnergy(gf, block.Zeros(1, 3)); !errors.Is(err, negf.ErrShapeMismatch) {
		t.Fatalf("%+v, expected %v", err, negf.ErrShapeMismatch)
	}
}

func TestCouplingCache(t *testing.T) {
	t.Parallel()
	c, err := negf.NewCoupling(chainLead(t, 1), 0, block.Scalar(-1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	p := negf.NewParams(1.5)
	se, err := c.SelfEnergy(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	seAgain, err := c.SelfEnergy(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if se != seAgain {
		t.Fatalf("%p, expected cached %p", seAgain, se)
	}
	seOther, err := c.SelfEnergy(p.Energy(1.4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if block.Equal(se, seOther) {
		t.Fatalf("stale %s", block.String(seOther))
	}
}

func TestNewCouplingInvalid(t *testing.T) {
	t.Parallel()
	lead := chainLead(t, 1)
	if _, err := negf.NewCoupling(lead, -1, block.Scalar(-1)); !errors.Is(err, negf.ErrIndexOutOfRange) {
		t.Fatalf("%+v, expected %v", err, negf.ErrIndexOutOfRange)
	}
	if _, err := negf.NewCoupling(lead, 0, block.Zeros(1, 2)); !errors.Is(err, negf.ErrShapeMismatch) {
		t.Fatalf("%+v, expected %v", err, negf.ErrShapeMismatch)
	}
}

func TestAtomChain(t *testing.T) {
	t.Parallel()
	p := negf.NewParams(1.5).Delta(1e-6).Epsilon(1e-6)
	s, err := model.AtomChain(8, 1).System(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	tr, err := s.Transmission(0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	const expected = 0.9999758105639749
	if math.Abs(tr-expected)/expected > 1e-6 {
		t.Fatalf("%.16f, expected %.16f", tr, expected)
	}

	// The chain is mirror symmetric.
	g00, err := s.Diagonal(0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g77, err := s.Diagonal(7)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !block.EqualApprox(g00, g77, 1e-9) {
		t.Fatalf("%s, expected %s", block.String(g00), block.String(g77))
	}
	g00Expected := complex(9.59909771808265e-08, -0.5039526306783341)
	if v := g00.At(0, 0); cmplx.Abs(v-g00Expected) > 1e-9 {
		t.Fatalf("%v, expected %v", v, g00Expected)
	}
}

func TestTransmission(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		model model.Model
		e     float64
		t     float64
		tol   float64
	}{
		{name: "phonon", model: model.AtomChain(8, 1), e: 0.5, t: 0.9999834754030387, tol: 1e-6},
		{name: "phononUpperBand", model: model.AtomChain(8, 1), e: 1.9, t: 0.999948760274443, tol: 1e-6},
		{name: "phononGap", model: model.AtomChain(8, 1), e: 2.5, t: 0, tol: 1e-10},
		{name: "phononDefect", model: model.AtomChain(8, 1).Defect(3, 1), e: 1.5, t: 0.7974491862101376, tol: 1e-6},
		{name: "electron", model: model.TightBinding(4, 0, 1), e: 0.5, t: 0.9999958688260129, tol: 1e-6},
		{name: "ladderTwoChannels", model: model.Ladder(6, 1, 0.5), e: 0, t: 2, tol: 1e-3},
		{name: "ladderOneChannel", model: model.Ladder(6, 1, 0.5), e: 2, t: 1, tol: 1e-3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			s, err := test.model.System(negf.NewParams(test.e))
			if err != nil {
				t.Fatalf("%+v", err)
			}
			tr, err := s.Transmission(0, 1)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if math.Abs(tr-test.t) > test.tol*max(test.t, 1) {
				t.Fatalf("%.16f, expected %.16f", tr, test.t)
			}
		})
	}
}

func TestTransmissionBounds(t *testing.T) {
	t.Parallel()
	m := model.AtomChain(8, 1)
	for i := 1; i < 40; i++ {
		omega := 2 * float64(i) / 40
		s, err := m.System(negf.NewParams(omega))
		if err != nil {
			t.Fatalf("%f %+v", omega, err)
		}
		tr, err := s.Transmission(0, 1)
		if err != nil {
			t.Fatalf("%f %+v", omega, err)
		}
		if tr < 0 || tr > 1+1e-9 {
			t.Fatalf("%f %f", omega, tr)
		}
	}
}

func TestTransmissionSymmetry(t *testing.T) {
	t.Parallel()
	s, err := model.AtomChain(5, 1).Defect(1, 0.3).System(negf.NewParams(1.2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t01, err := s.Transmission(0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t10, err := s.Transmission(1, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if t01 != t10 {
		t.Fatalf("%f, expected %f", t10, t01)
	}

	tm, err := s.Transmissions()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if tm.At(0, 1) != t01 || tm.At(1, 0) != t01 {
		t.Fatalf("%v, expected %f", mat.Formatted(tm), t01)
	}
}

func TestOffDiagonal(t *testing.T) {
	t.Parallel()
	s, err := model.AtomChain(8, 1).System(negf.NewParams(1.5))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for i := range s.Len() {
		for j := range s.Len() {
			gij, err := s.OffDiagonal(i, j)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			gji, err := s.OffDiagonal(j, i)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if gij != gji {
				t.Fatalf("%d %d %p %p", i, j, gij, gji)
			}
			gijAgain, err := s.OffDiagonal(i, j)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if gijAgain != gij {
				t.Fatalf("%d %d recomputed", i, j)
			}
		}
	}

	g07, err := s.OffDiagonal(0, 7)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	expected := complex(-0.32214007164248754, -0.3875418077729898)
	if v := g07.At(0, 0); cmplx.Abs(v-expected) > 1e-9 {
		t.Fatalf("%v, expected %v", v, expected)
	}
}

// TestFullInverse compares the recursive blocks against the inverse of the full effective operator.
func TestFullInverse(t *testing.T) {
	t.Parallel()
	m := model.Ladder(4, 1, 0.7).Defect(2, 0.4)
	p := negf.NewParams(0.3)
	s, err := m.System(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	const n = 2
	z := complex(0.3, 1e-6)
	full := block.Zeros(n*s.Len(), n*s.Len())
	for i := range s.Len() {
		se, err := s.SelfEnergy(i)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		mii := block.Sub(block.Sub(block.Scale(z, block.Identity(n)), m.OnSite[i]), se)
		setBlock(full, i, i, mii)
		if i+1 < s.Len() {
			setBlock(full, i, i+1, block.Scale(-1, m.Couple[i]))
			setBlock(full, i+1, i, block.Scale(-1, block.H(m.Couple[i])))
		}
	}
	inv, err := block.Inverse(full, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	for i := range s.Len() {
		for j := i; j < s.Len(); j++ {
			gij, err := s.OffDiagonal(i, j)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			expected := getBlock(inv, i, j, n)
			if !block.EqualApprox(gij, expected, 1e-8) {
				t.Fatalf("%d %d\n%s, expected\n%s", i, j, block.String(gij), block.String(expected))
			}
		}
	}
}

func getBlock(src *mat.CDense, i, j, n int) *mat.CDense {
	b := block.Zeros(n, n)
	for y := range n {
		for x := range n {
			b.Set(y, x, src.At(i*n+y, j*n+x))
		}
	}
	return b
}

func setBlock(dst *mat.CDense, i, j int, b *mat.CDense) {
	r, c := b.Dims()
	for y := range r {
		for x := range c {
			dst.Set(i*r+y, j*c+x, b.At(y, x))
		}
	}
}

func TestSingleLayer(t *testing.T) {
	t.Parallel()
	lead := chainLead(t, 1)
	c, err := negf.NewCoupling(lead, 0, block.Scalar(-1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	p := negf.NewParams(1)
	s, err := negf.NewSystem([]*mat.CDense{block.Scalar(2)}, nil, []*negf.Coupling{c}, p)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	se, err := c.SelfEnergy(p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	z := complex(1, 1e-6)
	m00 := block.Sub(block.Scalar(z*z-2), se)
	expected, err := block.Inverse(m00, 0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	g00, err := s.Diagonal(0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !block.EqualApprox(g00, expected, 1e-14) {
		t.Fatalf("%s, expected %s", block.String(g00), block.String(expected))
	}
	// With a single lead, G_00 coincides with the surface Green's function of the lead.
	g00Expected := complex(-0.5, -math.Sqrt(3)/2)
	if v := g00.At(0, 0); cmplx.Abs(v-g00Expected) > 1e-5 {
		t.Fatalf("%v, expected %v", v, g00Expected)
	}
}

func TestSharedLayer(t *testing.T) {
	t.Parallel()
	// Two leads at the same layer add their self-energies.
	lead := chainLead(t, 1)
	c0, err := negf.NewCoupling(lead, 1, block.Scalar(-1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	c1, err := negf.NewCoupling(chainLead(t, 1), 1, block.Scalar(-0.5))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	p := negf.NewParams(1.1)
	onSite := []*mat.CDense{block.Scalar(2), block.Scalar(2)}
	couple := []*mat.CDense{block.Scalar(-1)}
	s, err := negf.NewSystem(onSite, couple, []*negf.Coupling{c0, c1}, p)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	se0, _ := c0.SelfEnergy(p)
	se1, _ := c1.SelfEnergy(p)
	total, err := s.SelfEnergy(1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if expected := block.Add(se0, se1); !block.Equal(total, expected) {
		t.Fatalf("%s, expected %s", block.String(total), block.String(expected))
	}
	zero, err := s.SelfEnergy(0)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !block.Equal(zero, block.Zeros(1, 1)) {
		t.Fatalf("%s", block.String(zero))
	}

	tr, err := s.Transmission(0, 1)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if tr < 0 || tr > 1+1e-9 {
		t.Fatalf("%f", tr)
	}
}

func TestNewSystemInvalid(t *testing.T) {
	t.Parallel()
	onSite := []*mat.CDense{block.Scalar(2), block.Scalar(2), block.Scalar(2)}
	couple := []*mat.CDense{block.Scalar(-1), block.Scalar(-1)}
	outside, err := negf.NewCoupling(chainLead(t, 1), 3, block.Scalar(-1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	wide, err := negf.NewCoupling(negfLead2(t), 0, block.Zeros(2, 2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tests := []struct {
		name      string
		onSite    []*mat.CDense
		couple    []*mat.CDense
		couplings []*negf.Coupling
		err       error
	}{
		{name: "noLayers", err: negf.ErrShapeMismatch},
		{name: "coupleCount", onSite: onSite, couple: couple[:1], err: negf.ErrShapeMismatch},
		{name: "coupleShape", onSite: onSite, couple: []*mat.CDense{block.Scalar(-1), block.Zeros(1, 2)}, err: negf.ErrShapeMismatch},
		{name: "nonSquare", onSite: []*mat.CDense{block.Zeros(1, 2)}, err: negf.ErrShapeMismatch},
		{name: "position", onSite: onSite, couple: couple, couplings: []*negf.Coupling{outside}, err: negf.ErrIndexOutOfRange},
		{name: "leadShape", onSite: onSite, couple: couple, couplings: []*negf.Coupling{wide}, err: negf.ErrShapeMismatch},
		{name: "nilCoupling", onSite: onSite, couple: couple, couplings: []*negf.Coupling{nil}, err: negf.ErrShapeMismatch},
		{name: "nilDCouple", onSite: onSite, couple: couple, couplings: []*negf.Coupling{{Lead: chainLead(t, 1)}}, err: negf.ErrShapeMismatch},
		{name: "nilLead", onSite: onSite, couple: couple, couplings: []*negf.Coupling{{DCouple: block.Scalar(-1)}}, err: negf.ErrShapeMismatch},
		{name: "nilLeadBlock", onSite: onSite, couple: couple, couplings: []*negf.Coupling{{Lead: &negf.Lead{D00: block.Scalar(2)}, DCouple: block.Scalar(-1)}}, err: negf.ErrShapeMismatch},
		{name: "literalShape", onSite: onSite, couple: couple, couplings: []*negf.Coupling{{Lead: negfLead2(t), DCouple: block.Scalar(-1)}}, err: negf.ErrShapeMismatch},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := negf.NewSystem(test.onSite, test.couple, test.couplings, negf.NewParams(1))
			if !errors.Is(err, test.err) {
				t.Fatalf("%+v, expected %v", err, test.err)
			}
		})
	}
}

func negfLead2(t *testing.T) *negf.Lead {
	lead, err := negf.NewLead(block.Identity(2), block.Identity(2), block.Scale(-0.5, block.Identity(2)))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return lead
}

func TestIndexOutOfRange(t *testing.T) {
	t.Parallel()
	s, err := model.AtomChain(3, 1).System(negf.NewParams(1))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := s.Diagonal(3); !errors.Is(err, negf.ErrIndexOutOfRange) {
		t.Fatalf("%+v", err)
	}
	if _, err := s.OffDiagonal(-1, 0); !errors.Is(err, negf.ErrIndexOutOfRange) {
		t.Fatalf("%+v", err)
	}
	if _, err := s.Transmission(0, 2); !errors.Is(err, negf.ErrIndexOutOfRange) {
		t.Fatalf("%+v", err)
	}
}

func TestSingular(t *testing.T) {
	t.Parallel()
	onSite := []*mat.CDense{block.M([][]complex128{
		{0, 0},
		{0, 1},
	})}
	p := negf.NewParams(0).Order(negf.First).MaxCond(1e3)
	if _, err := negf.NewSystem(onSite, nil, nil, p); !errors.Is(err, negf.ErrSingular) {
		t.Fatalf("%+v, expected %v", err, negf.ErrSingular)
	}
}

func TestMain(m *testing.M) {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	m.Run()
}
