package mps

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/exactdiag"
	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
)

// integrals are dense integrals; v holds the aa, bb and ab blocks.
type integrals struct {
	n int
	t [2][][]float64
	v [3][][][][]float64
}

func (g integrals) NSites() int    { return g.n }
func (g integrals) ECore() float64 { return 0.5 }

func (g integrals) T(s, i, j int) float64 { return g.t[s][i][j] }

func (g integrals) V(sl, sr, i, j, k, l int) float64 {
	switch {
	case sl == 0 && sr == 0:
		return g.v[0][i][j][k][l]
	case sl == 1 && sr == 1:
		return g.v[1][i][j][k][l]
	case sl == 0:
		return g.v[2][i][j][k][l]
	default:
		return g.v[2][k][l][i][j]
	}
}

func newIntegrals(n int) integrals {
	g := integrals{n: n}
	for s := range g.t {
		g.t[s] = make([][]float64, n)
		for i := range n {
			g.t[s][i] = make([]float64, n)
		}
	}
	for b := range g.v {
		g.v[b] = make([][][][]float64, n)
		for i := range n {
			g.v[b][i] = make([][][]float64, n)
			for j := range n {
				g.v[b][i][j] = make([][]float64, n)
				for k := range n {
					g.v[b][i][j][k] = make([]float64, n)
				}
			}
		}
	}
	return g
}

// randomIntegrals returns integrals with every element allowed by the
// orbital irreps set. Unrestricted integrals differ between the spins.
func randomIntegrals(seed uint64, irreps []uint8, unrestricted bool) integrals {
	n := len(irreps)
	rng := rand.New(rand.NewPCG(seed, 1))
	g := newIntegrals(n)
	nSpin := 1
	if unrestricted {
		nSpin = 2
	}
	for s := range nSpin {
		for i := range n {
			for j := i; j < n; j++ {
				if irreps[i] != irreps[j] {
					continue
				}
				x := rng.Float64()*2 - 1
				g.t[s][i][j], g.t[s][j][i] = x, x
			}
		}
	}
	if !unrestricted {
		g.t[1] = g.t[0]
	}

	nBlock := 1
	if unrestricted {
		nBlock = 3
	}
	for b := range nBlock {
		values := make(map[int]float64)
		for i := range n {
			for j := range n {
				for k := range n {
					for l := range n {
						if irreps[i]^irreps[j]^irreps[k]^irreps[l] != 0 {
							continue
						}
						key := fcidump.Index8(i, j, k, l)
						if b == 2 {
							key = fcidump.Index4(n, i, j, k, l)
						}
						x, ok := values[key]
						if !ok {
							x = (rng.Float64()*2 - 1) / 2
							values[key] = x
						}
						g.v[b][i][j][k][l] = x
					}
				}
			}
		}
	}
	if !unrestricted {
		g.v[1], g.v[2] = g.v[0], g.v[0]
	}
	return g
}

// distantHopping couples only the two ends of a chain of n orbitals.
func distantHopping(n int, u float64) integrals {
	g := newIntegrals(n)
	for s := range 2 {
		g.t[s][0][n-1], g.t[s][n-1][0] = -1, -1
	}
	for b := range g.v {
		for i := range n {
			g.v[b][i][i][i][i] = u
		}
	}
	return g
}

func newModel(t *testing.T, pg string, orbSym []int, g hamiltonian.Integrals) hubbardModel {
	h, err := hamiltonian.Build(pg, symm.Vacuum, symm.QN{N: 2 * g.NSites()}, g.NSites(), orbSym, g)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return hubbardModel{arena: pool.New(1 << 28), h: h}
}

func TestEvolveIntegrals(t *testing.T) {
	t.Parallel()
	d2h := []int{1, 6, 1}
	irreps, err := symm.PointGroup("d2h").Irreps(d2h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	tests := []struct {
		name      string
		pg        string
		orbSym    []int
		integrals integrals
		cutoff    float64
		tol       float64
	}{
		{name: "distant hopping", pg: "c1", orbSym: []int{1, 1, 1}, integrals: distantHopping(3, 4), tol: 1e-5},
		{name: "random", pg: "c1", orbSym: []int{1, 1, 1}, integrals: randomIntegrals(1, []uint8{0, 0, 0}, false), tol: 1e-5},
		{name: "random truncating", pg: "c1", orbSym: []int{1, 1, 1}, integrals: randomIntegrals(2, []uint8{0, 0, 0}, false), cutoff: 1e-10, tol: 5e-3},
		{name: "d2h", pg: "d2h", orbSym: d2h, integrals: randomIntegrals(3, irreps, false), tol: 1e-5},
		{name: "unrestricted", pg: "c1", orbSym: []int{1, 1, 1}, integrals: randomIntegrals(4, []uint8{0, 0, 0}, true), tol: 1e-5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			const n, mu, betaStep, nSteps = 3, 0.3, 0.1, 2
			hm := newModel(t, test.pg, test.orbSym, test.integrals)
			m := hm.thermal(t)
			opt := NewEvolveOptions().NSteps(nSteps).BetaStep(betaStep).Mu(mu).BondDims([]int{1000}).Cutoff(test.cutoff).Threads(2)
			res, err := Evolve(context.Background(), m, hm.h, opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if test.cutoff == 0 {
				require.Equal(t, 0.0, res.DiscardedWeight)
			}

			th := hm.reference(t, mu, 2*nSteps*betaStep)
			want := th.OnePDM(n)
			got, err := OnePDM(context.Background(), m, n, symm.SZ{}, nil, 2)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for s := range got {
				if !mat.EqualApprox(got[s], want[s], test.tol) {
					t.Fatalf("%d %v, expected %v", s, mat.Formatted(got[s]), mat.Formatted(want[s]))
				}
			}
			require.InDelta(t, th.Expectation(exactdiag.Hamiltonian(hm.h.NumberTerms(), n)), res.Particles, test.tol)
			hm.h.SetMu(0)
			require.InDelta(t, th.Expectation(exactdiag.Hamiltonian(hm.h.Terms(), n)), res.Energy, 10*test.tol)
		})
	}
}
