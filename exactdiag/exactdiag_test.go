package exactdiag

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/mpo"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
)

func hubbard(t *testing.T, n int, u, mu float64) *hamiltonian.Hamiltonian {
	arena := pool.New(1 << 24)
	f, err := fcidump.Hubbard(arena, n, n, 1, u)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(f.Release)
	h, err := hamiltonian.Build("c1", symm.Vacuum, symm.QN{N: 2 * n}, n, f.OrbSym(), f)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h.SetMu(mu)
	return h
}

func TestCOO(t *testing.T) {
	t.Parallel()
	a := M(mat.NewDense(2, 2, []float64{1, 2, 0, 3}))
	a.Kron(COOIdentity(2))
	want := M(mat.NewDense(4, 4, []float64{
		1, 0, 2, 0,
		0, 1, 0, 2,
		0, 0, 3, 0,
		0, 0, 0, 3,
	}))
	if !a.Equal(want) {
		t.Fatalf("%v, expected %v", mat.Formatted(a.Dense()), mat.Formatted(want.Dense()))
	}

	a.Add(-1, want)
	require.Empty(t, a.Data)
}

func TestWriteReadCOO(t *testing.T) {
	t.Parallel()
	h := hubbard(t, 2, 4, 2)
	m := Hamiltonian(h.Terms(), 2)
	dir := t.TempDir()
	if err := m.WriteCOO(dir); err != nil {
		t.Fatalf("%+v", err)
	}
	got, err := ReadCOO(dir)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !got.Equal(m) {
		t.Fatalf("%v, expected %v", mat.Formatted(got.Dense()), mat.Formatted(m.Dense()))
	}
}

func TestHamiltonianMatchesMPO(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("%d", n), func(t *testing.T) {
			t.Parallel()
			h := hubbard(t, n, 4, 1.5)
			w, err := mpo.FromTerms(context.Background(), h.Terms(), n, mpo.NewOptions())
			if err != nil {
				t.Fatalf("%+v", err)
			}
			got := Hamiltonian(h.Terms(), n).Dense()
			if !mat.EqualApprox(got, w.Matrix(), 1e-10) {
				t.Fatalf("%v", mat.Formatted(got))
			}
		})
	}
}

// Without interaction the one-particle density matrix is the Fermi function
// of the hopping matrix.
func TestFreeFermions(t *testing.T) {
	t.Parallel()
	const n, mu, beta = 3, 0.3, 1.2
	h := hubbard(t, n, 0, mu)
	th, err := NewThermal(Hamiltonian(h.Terms(), n), beta)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	dm := th.OnePDM(n)

	hop := mat.NewSymDense(n, nil)
	for i := range n - 1 {
		hop.SetSym(i, i+1, -1)
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(hop, true); !ok {
		t.Fatalf("eigen")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	want := mat.NewDense(n, n, nil)
	for k, e := range eig.Values(nil) {
		occ := 1 / (1 + math.Exp(beta*(e-mu)))
		for i := range n {
			for j := range n {
				want.Set(i, j, want.At(i, j)+occ*vecs.At(i, k)*vecs.At(j, k))
			}
		}
	}
	for s := range dm {
		if !mat.EqualApprox(dm[s], want, 1e-10) {
			t.Fatalf("%d %v, expected %v", s, mat.Formatted(dm[s]), mat.Formatted(want))
		}
	}

	// ln Z of independent modes.
	var logZ float64
	for _, e := range eig.Values(nil) {
		logZ += 2 * math.Log1p(math.Exp(-beta*(e-mu)))
	}
	require.InDelta(t, logZ, th.LogZ, 1e-10)
}

func TestHalfFilling(t *testing.T) {
	t.Parallel()
	const n = 2
	h := hubbard(t, n, 4, 2)
	th, err := NewThermal(Hamiltonian(h.Terms(), n), 0.7)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	number := Hamiltonian(h.NumberTerms(), n)
	require.InDelta(t, float64(n), th.Expectation(number), 1e-10)

	dm := th.OnePDM(n)
	require.InDelta(t, float64(n), mat.Trace(dm[0])+mat.Trace(dm[1]), 1e-10)
}
