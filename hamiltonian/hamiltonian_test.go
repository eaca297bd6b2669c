package hamiltonian

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/symm"
)

type hubbard struct {
	n    int
	t, u float64
}

func (h hubbard) NSites() int    { return h.n }
func (h hubbard) ECore() float64 { return 0.25 }

func (h hubbard) T(s, i, j int) float64 {
	if i-j == 1 || j-i == 1 {
		return -h.t
	}
	return 0
}

func (h hubbard) V(sl, sr, i, j, k, l int) float64 {
	if i == j && j == k && k == l {
		return h.u
	}
	return 0
}

func TestBuildSymmetry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		pg     string
		orbSym []int
		ok     bool
	}{
		{pg: "d2h", orbSym: []int{1, 5}, ok: true},
		{pg: "c2v", orbSym: []int{1, 4}, ok: true},
		{pg: "c1", orbSym: []int{1, 1}, ok: true},
		{pg: "c3v", orbSym: []int{1, 1}, ok: false},
		{pg: "oh", orbSym: []int{1, 1}, ok: false},
		{pg: "c2", orbSym: []int{1, 3}, ok: false},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s%v", test.pg, test.orbSym), func(t *testing.T) {
			t.Parallel()
			_, err := Build(test.pg, symm.Vacuum, symm.QN{N: 2}, 2, test.orbSym, hubbard{n: 2, t: 1, u: 4})
			if test.ok {
				if err != nil {
					t.Fatalf("%+v", err)
				}
				return
			}
			if !errors.Is(err, errs.ErrConfiguration) {
				t.Fatalf("%+v", err)
			}
			var target *errs.SymmetryError
			require.True(t, errors.As(err, &target))
		})
	}
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ops  []Op
		sign float64
		want []Op
		ok   bool
	}{
		{
			ops:  []Op{{Site: 1, Dagger: true}, {Site: 0, Dagger: true}, {Site: 0}, {Site: 1}},
			sign: 1,
			want: []Op{{Site: 0, Dagger: true}, {Site: 1, Dagger: true}, {Site: 1}, {Site: 0}},
			ok:   true,
		},
		{
			ops:  []Op{{Site: 1, Dagger: true}, {Site: 0, Dagger: true}, {Site: 1}, {Site: 0}},
			sign: -1,
			want: []Op{{Site: 0, Dagger: true}, {Site: 1, Dagger: true}, {Site: 1}, {Site: 0}},
			ok:   true,
		},
		{
			ops: []Op{{Site: 0, Dagger: true}, {Site: 0, Dagger: true}, {Site: 0}, {Site: 1}},
			ok:  false,
		},
		{
			ops:  []Op{{Site: 0, Spin: Down, Dagger: true}, {Site: 0, Spin: Up, Dagger: true}, {Site: 0, Spin: Up}, {Site: 0, Spin: Down}},
			sign: 1,
			want: []Op{{Site: 0, Spin: Up, Dagger: true}, {Site: 0, Spin: Down, Dagger: true}, {Site: 0, Spin: Down}, {Site: 0, Spin: Up}},
			ok:   true,
		},
	}
	for i, test := range tests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			t.Parallel()
			sign, ops, ok := Canonicalize(test.ops)
			require.Equal(t, test.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, test.sign, sign)
			require.Equal(t, test.want, ops)
		})
	}
}

func TestTermsHubbard(t *testing.T) {
	t.Parallel()
	h, err := Build("c1", symm.Vacuum, symm.QN{N: 4}, 2, []int{1, 1}, hubbard{n: 2, t: 1, u: 4})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h.SetMu(2)
	terms := h.Terms()

	// Identity, 4 hoppings, 4 chemical potentials and 2 on-site repulsions.
	require.Len(t, terms, 11)
	require.Empty(t, terms[0].Ops)
	require.InDelta(t, 0.25, terms[0].Coeff, 1e-15)

	var nU, nMu, nHop int
	for _, term := range terms[1:] {
		switch len(term.Ops) {
		case 2:
			if term.Ops[0].Site == term.Ops[1].Site {
				nMu++
				require.InDelta(t, -2, term.Coeff, 1e-15)
			} else {
				nHop++
				require.InDelta(t, -1, term.Coeff, 1e-15)
			}
		case 4:
			nU++
			// 1/2 U (c+a c+b cb ca + c+b c+a ca cb) = U na nb.
			require.InDelta(t, 4, term.Coeff, 1e-15)
		}
	}
	require.Equal(t, 2, nU)
	require.Equal(t, 4, nMu)
	require.Equal(t, 4, nHop)
}

// kron builds the full Fock-space matrix of a term.
func kron(t Term, n int) *mat.Dense {
	var m *mat.Dense
	for _, f := range LocalFactors(t, n) {
		if m == nil {
			m = f
			continue
		}
		var k mat.Dense
		k.Kronecker(m, f)
		m = &k
	}
	return m
}

func TestAnticommutation(t *testing.T) {
	t.Parallel()
	const n = 3
	dim := 1
	for range n {
		dim *= 4
	}
	modes := make([]Op, 0, 2*n)
	for i := range n {
		for s := range 2 {
			modes = append(modes, Op{Site: i, Spin: s})
		}
	}
	for _, a := range modes {
		for _, b := range modes {
			ca := kron(Term{Coeff: 1, Ops: []Op{a}}, n)
			bd := b
			bd.Dagger = true
			cbd := kron(Term{Coeff: 1, Ops: []Op{bd}}, n)

			var x, y mat.Dense
			x.Mul(ca, cbd)
			y.Mul(cbd, ca)
			x.Add(&x, &y)

			want := mat.NewDense(dim, dim, nil)
			if a == b {
				for i := range dim {
					want.Set(i, i, 1)
				}
			}
			if !mat.EqualApprox(&x, want, 1e-14) {
				t.Fatalf("%v %v", a, b)
			}

			// Annihilators anticommute among themselves.
			cb := kron(Term{Coeff: 1, Ops: []Op{b}}, n)
			x.Mul(ca, cb)
			y.Mul(cb, ca)
			x.Add(&x, &y)
			if !mat.EqualApprox(&x, mat.NewDense(dim, dim, nil), 1e-14) {
				t.Fatalf("%v %v", a, b)
			}
		}
	}
}

func TestLocalFactorsNumber(t *testing.T) {
	t.Parallel()
	f := LocalFactors(Term{Coeff: 3, Ops: []Op{{Site: 1, Spin: Down, Dagger: true}, {Site: 1, Spin: Down}}}, 2)
	require.Len(t, f, 2)
	if !mat.EqualApprox(f[0], dense([4][4]float64{{3}, {0, 3}, {0, 0, 3}, {0, 0, 0, 3}}), 1e-15) {
		t.Fatalf("%v", mat.Formatted(f[0]))
	}
	want := dense([4][4]float64{{0}, {0, 0}, {0, 0, 1}, {0, 0, 0, 1}})
	if !mat.EqualApprox(f[1], want, 1e-15) {
		t.Fatalf("%v", mat.Formatted(f[1]))
	}
}
