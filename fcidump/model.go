package fcidump

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/pool"
)

// Hubbard returns the integrals of an open Hubbard chain of n sites with
// nearest-neighbour hopping t and on-site repulsion u, all orbitals in the
// totally symmetric irrep.
func Hubbard(alloc pool.Allocator, n, nElec int, t, u float64) (*FCIDUMP, error) {
	h1e := mat.NewDense(n, n, nil)
	for i := range n - 1 {
		h1e.Set(i, i+1, -t)
		h1e.Set(i+1, i, -t)
	}
	g2e := make([]float64, Len8(n))
	for i := range n {
		g2e[Index8(i, i, i, i)] = u
	}
	orbSym := make([]int, n)
	for i := range orbSym {
		orbSym[i] = 1
	}

	twoS := nElec % 2
	f, err := InitializeSU2(alloc, n, nElec, twoS, 1, orbSym, 0, h1e, g2e, DefaultTol)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}
