package mpo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
)

func hubbardTerms(t *testing.T, n int, mu float64) []hamiltonian.Term {
	arena := pool.New(1 << 24)
	f, err := fcidump.Hubbard(arena, n, n, 1, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Release()
	h, err := hamiltonian.Build("c1", symm.Vacuum, symm.QN{N: 2 * n}, n, f.OrbSym(), f)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	h.SetMu(mu)
	return h.Terms()
}

// termsMatrix sums the full Fock-space matrices of terms.
func termsMatrix(terms []hamiltonian.Term, n int) *mat.Dense {
	var sum *mat.Dense
	for _, term := range terms {
		m := FromTerm(term, n).Matrix()
		if sum == nil {
			sum = mat.DenseCopyOf(m)
			continue
		}
		sum.Add(sum, m)
	}
	return sum
}

func TestFromTerms(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n         int
		batchSize int
		threads   int
	}{
		{n: 1, batchSize: 2, threads: 1},
		{n: 2, batchSize: 1, threads: 1},
		{n: 3, batchSize: 3, threads: 4},
		{n: 4, batchSize: 24, threads: 2},
		{n: 5, batchSize: 2, threads: 4},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#v", test), func(t *testing.T) {
			t.Parallel()
			terms := hubbardTerms(t, test.n, 2)
			opt := NewOptions()
			opt.BatchSize = test.batchSize
			opt.Threads = test.threads
			m, err := FromTerms(context.Background(), terms, test.n, opt)
			if err != nil {
				t.Fatalf("%+v", err)
			}

			want := termsMatrix(terms, test.n)
			got := m.Matrix()
			if !mat.EqualApprox(got, want, 1e-10) {
				t.Fatalf("%v", m.BondDims())
			}

			// Identity, hopping strings in both directions for both spins and
			// the complete left or right part.
			require.LessOrEqual(t, m.MaxBondDim(), 6)
		})
	}
}

func TestFromTermsMerge(t *testing.T) {
	t.Parallel()
	// More terms than a batch holds, so batches are merged over several rounds.
	const n = 8
	terms := hubbardTerms(t, n, 2)
	opt := NewOptions()
	require.Greater(t, len(terms), 2*opt.BatchSize)
	opt.Threads = 4
	m, err := FromTerms(context.Background(), terms, n, opt)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Len(t, m, n)
	require.LessOrEqual(t, m.MaxBondDim(), 6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := FromTerms(ctx, terms, n, opt); !errors.Is(err, context.Canceled) {
		t.Fatalf("%+v", err)
	}
}

func TestSumCompress(t *testing.T) {
	t.Parallel()
	n := 3
	a := FromTerm(hamiltonian.Term{Coeff: 1.5, Ops: []hamiltonian.Op{{Site: 0, Dagger: true}, {Site: 2}}}, n)
	b := FromTerm(hamiltonian.Term{Coeff: 1.5, Ops: []hamiltonian.Op{{Site: 0, Dagger: true}, {Site: 2}}}, n)

	s := Sum(a, b)
	require.Equal(t, []int{1, 2, 2, 1}, s.BondDims())

	c := Compress(s, DefaultCutoff)
	require.Equal(t, []int{1, 1, 1, 1}, c.BondDims())

	want := mat.DenseCopyOf(a.Matrix())
	want.Scale(2, want)
	if !mat.EqualApprox(c.Matrix(), want, 1e-12) {
		t.Fatalf("%v", c.BondDims())
	}
}

func TestWithAncilla(t *testing.T) {
	t.Parallel()
	n := 2
	terms := hubbardTerms(t, n, 0)
	m, err := FromTerms(context.Background(), terms, n, NewOptions())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	a := WithAncilla(m)
	require.Len(t, a, 2*n)

	// The ancilla lattice operator is the physical one with identities interleaved:
	// sites are ordered p0 a0 p1 a1.
	var want mat.Dense
	id := hamiltonian.Identity()
	for _, term := range terms {
		f := hamiltonian.LocalFactors(term, n)
		var k1, k2, k3 mat.Dense
		k1.Kronecker(f[0], id)
		k2.Kronecker(&k1, f[1])
		k3.Kronecker(&k2, id)
		if want.IsEmpty() {
			want.CloneFrom(&k3)
			continue
		}
		want.Add(&want, &k3)
	}
	if !mat.EqualApprox(a.Matrix(), &want, 1e-10) {
		t.Fatalf("%v", a.BondDims())
	}
}
