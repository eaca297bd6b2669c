// Package hamiltonian builds the second-quantized electronic Hamiltonian
//
//	H = sum t_ij c+_is c_js + 1/2 sum (ij|kl) c+_is c+_kt c_lt c_js - mu N + E_core
//
// on a chain of spatial orbitals, as a deterministic list of operator strings.
package hamiltonian

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/symm"
)

const (
	Up   = 0
	Down = 1
)

// Integrals is the read side of an integral store.
type Integrals interface {
	NSites() int
	T(s, i, j int) float64
	V(sl, sr, i, j, k, l int) float64
	ECore() float64
}

// Op is a single fermionic creation or annihilation operator.
type Op struct {
	Site   int
	Spin   int
	Dagger bool
}

// Mode is the position of the spin orbital in the Jordan-Wigner ordering.
func (o Op) Mode() int { return 2*o.Site + o.Spin }

func (o Op) String() string {
	s := "c"
	if o.Dagger {
		s = "c+"
	}
	spin := "a"
	if o.Spin == Down {
		spin = "b"
	}
	return fmt.Sprintf("%s%d%s", s, o.Site, spin)
}

// Term is Coeff times the ordered product of Ops. A term without ops is a
// multiple of the identity.
type Term struct {
	Coeff float64
	Ops   []Op
}

func (t Term) String() string {
	ss := make([]string, 0, len(t.Ops))
	for _, o := range t.Ops {
		ss = append(ss, o.String())
	}
	return fmt.Sprintf("%+.6g %s", t.Coeff, strings.Join(ss, " "))
}

// Site is the local Hilbert space of one spatial orbital.
type Site struct {
	Dim int
	QNs []symm.QN
}

// Hamiltonian is the grand-canonical Hamiltonian of a chain of spatial orbitals.
type Hamiltonian struct {
	pg        symm.PointGroup
	vacuum    symm.QN
	target    symm.QN
	nSites    int
	orbSym    []uint8
	integrals Integrals
	mu        float64
	tol       float64
}

// Build validates the symmetry setup and returns a Hamiltonian. Unsupported
// point groups and orbital irreps are rejected with a *errs.SymmetryError.
func Build(pointGroup string, vacuum, target symm.QN, nPhysical int, orbSym []int, integrals Integrals) (*Hamiltonian, error) {
	pg, err := symm.ParsePointGroup(pointGroup)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if nPhysical <= 0 || nPhysical != integrals.NSites() {
		return nil, errs.Configf("%d physical sites for %d orbitals", nPhysical, integrals.NSites())
	}
	if len(orbSym) != nPhysical {
		return nil, errs.Configf("%d orbital symmetries for %d sites", len(orbSym), nPhysical)
	}
	irreps, err := pg.Irreps(orbSym)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if int(target.Irrep) >= pg.Order() {
		return nil, errors.WithStack(&errs.SymmetryError{PointGroup: string(pg), Reason: fmt.Sprintf("target irrep %d", target.Irrep)})
	}

	h := &Hamiltonian{
		pg:        pg,
		vacuum:    vacuum,
		target:    target,
		nSites:    nPhysical,
		orbSym:    irreps,
		integrals: integrals,
		tol:       1e-13,
	}
	return h, nil
}

func (h *Hamiltonian) PointGroup() symm.PointGroup { return h.pg }
func (h *Hamiltonian) Vacuum() symm.QN             { return h.vacuum }
func (h *Hamiltonian) Target() symm.QN             { return h.target }
func (h *Hamiltonian) NSites() int                 { return h.nSites }
func (h *Hamiltonian) Mu() float64                 { return h.mu }

// SetMu sets the chemical potential.
func (h *Hamiltonian) SetMu(mu float64) { h.mu = mu }

// Basis returns the local basis of each physical site:
// |0>, |up>, |dn>, |up dn> with |up dn> = c+_up c+_dn |0>.
func (h *Hamiltonian) Basis() []Site {
	sites := make([]Site, 0, h.nSites)
	for _, g := range h.orbSym {
		sites = append(sites, Site{Dim: 4, QNs: LocalQNs(g)})
	}
	return sites
}

// LocalQNs returns the quantum numbers of the local basis of an orbital of irrep g.
func LocalQNs(g uint8) []symm.QN {
	return []symm.QN{
		{N: 0, TwoSz: 0, Irrep: 0},
		{N: 1, TwoSz: 1, Irrep: g},
		{N: 1, TwoSz: -1, Irrep: g},
		{N: 2, TwoSz: 0, Irrep: 0},
	}
}

// Terms returns the operator strings of H - mu N in a fixed order: the
// identity, then one-body terms, then two-body terms, each group sorted by
// spin orbital.
func (h *Hamiltonian) Terms() []Term {
	n := h.nSites
	acc := newAccumulator()
	acc.add(h.integrals.ECore(), nil)

	for s := range 2 {
		for i := range n {
			for j := range n {
				t := h.integrals.T(s, i, j)
				if i == j {
					t -= h.mu
				}
				acc.add(t, []Op{{Site: i, Spin: s, Dagger: true}, {Site: j, Spin: s}})
			}
		}
	}

	for sl := range 2 {
		for sr := range 2 {
			for i := range n {
				for j := range n {
					for k := range n {
						for l := range n {
							v := h.integrals.V(sl, sr, i, j, k, l)
							if v == 0 {
								continue
							}
							acc.add(0.5*v, []Op{
								{Site: i, Spin: sl, Dagger: true},
								{Site: k, Spin: sr, Dagger: true},
								{Site: l, Spin: sr},
								{Site: j, Spin: sl},
							})
						}
					}
				}
			}
		}
	}
	return acc.terms(h.tol)
}

// NumberTerms returns the particle number operator.
func (h *Hamiltonian) NumberTerms() []Term {
	terms := make([]Term, 0, 2*h.nSites)
	for i := range h.nSites {
		for s := range 2 {
			terms = append(terms, Term{Coeff: 1, Ops: []Op{{Site: i, Spin: s, Dagger: true}, {Site: i, Spin: s}}})
		}
	}
	return terms
}

// Norm1 returns the sum of absolute coefficients of non-identity terms, an
// upper bound of the spectral norm of H - E_core.
func Norm1(terms []Term) float64 {
	var norm float64
	for _, t := range terms {
		if len(t.Ops) > 0 {
			norm += math.Abs(t.Coeff)
		}
	}
	return norm
}

// accumulator merges equal operator strings.
type accumulator struct {
	coeffs map[string]float64
	ops    map[string][]Op
}

func newAccumulator() *accumulator {
	return &accumulator{coeffs: make(map[string]float64), ops: make(map[string][]Op)}
}

func (a *accumulator) add(coeff float64, ops []Op) {
	if coeff == 0 {
		return
	}
	sign, canon, ok := Canonicalize(ops)
	if !ok {
		return
	}
	key := opsKey(canon)
	a.coeffs[key] += sign * coeff
	a.ops[key] = canon
}

func (a *accumulator) terms(tol float64) []Term {
	terms := make([]Term, 0, len(a.coeffs))
	for key, c := range a.coeffs {
		if math.Abs(c) < tol {
			continue
		}
		terms = append(terms, Term{Coeff: c, Ops: a.ops[key]})
	}
	slices.SortFunc(terms, func(x, y Term) int { return compareOps(x.Ops, y.Ops) })
	return terms
}

func opsKey(ops []Op) string {
	var b strings.Builder
	for _, o := range ops {
		fmt.Fprintf(&b, "%d,%t;", o.Mode(), o.Dagger)
	}
	return b.String()
}

func compareOps(x, y []Op) int {
	if len(x) != len(y) {
		return len(x) - len(y)
	}
	for i := range x {
		if x[i].Dagger != y[i].Dagger {
			if x[i].Dagger {
				return -1
			}
			return 1
		}
		if d := x[i].Mode() - y[i].Mode(); d != 0 {
			return d
		}
	}
	return 0
}

// Canonicalize rewrites a normal-ordered product of creators followed by
// annihilators so that creators ascend and annihilators descend in mode. It
// returns the permutation sign, and ok=false when the product vanishes
// because a mode repeats.
func Canonicalize(ops []Op) (float64, []Op, bool) {
	var cre, des []Op
	for i, o := range ops {
		if o.Dagger {
			if len(des) > 0 {
				panic(fmt.Sprintf("not normal ordered %d %v", i, ops))
			}
			cre = append(cre, o)
		} else {
			des = append(des, o)
		}
	}
	sign := 1.0
	sortSign := func(s []Op, less func(a, b Op) bool) bool {
		// Insertion sort; every swap of two fermion operators flips the sign.
		for i := 1; i < len(s); i++ {
			for j := i; j > 0; j-- {
				if s[j].Mode() == s[j-1].Mode() {
					return false
				}
				if !less(s[j], s[j-1]) {
					break
				}
				s[j], s[j-1] = s[j-1], s[j]
				sign = -sign
			}
		}
		for i := 1; i < len(s); i++ {
			if s[i].Mode() == s[i-1].Mode() {
				return false
			}
		}
		return true
	}
	if !sortSign(cre, func(a, b Op) bool { return a.Mode() < b.Mode() }) {
		return 0, nil, false
	}
	if !sortSign(des, func(a, b Op) bool { return a.Mode() > b.Mode() }) {
		return 0, nil, false
	}
	return sign, append(cre, des...), true
}
