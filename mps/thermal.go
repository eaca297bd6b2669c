package mps

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

// complement maps a local state to the ancilla state that fills the orbital:
// |0> <-> |up dn>, |up> <-> |dn>.
var complement = [4]int{3, 2, 1, 0}

// InitializeThermal returns the infinite-temperature state of h on the
// ancilla lattice. Physical site i sits at lattice site 2i and its ancilla at
// 2i+1, and every pair is in the equal superposition of a local state and its
// complement, so tracing out the ancillas leaves the identity.
// The state is normalized and right-canonical around site 0.
func InitializeThermal(alloc pool.Allocator, h *hamiltonian.Hamiltonian) (*MPS, error) {
	n := h.NSites()
	if want := (symm.QN{N: 2 * n}); h.Target() != want {
		return nil, errs.Configf("ancilla target %v, want %v", h.Target(), want)
	}

	basis := h.Basis()
	sites := make([]*tensor.Dense, 0, 2*n)
	phys := make([][]symm.QN, 0, 2*n)
	labels := make([][]symm.QN, 0, 2*n+1)
	for i, b := range basis {
		if b.Dim != len(complement) {
			panic(fmt.Sprintf("%d %#v", i, b))
		}
		left := symm.QN{N: 2 * i}

		p := tensor.Zeros(1, b.Dim, b.Dim)
		mid := make([]symm.QN, 0, b.Dim)
		for s, q := range b.QNs {
			p.SetAt(0.5, 0, s, s)
			mid = append(mid, left.Add(q))
		}

		a := tensor.Zeros(b.Dim, b.Dim, 1)
		for s := range b.Dim {
			a.SetAt(1, s, complement[s], 0)
		}

		sites = append(sites, p, a)
		phys = append(phys, b.QNs, b.QNs)
		labels = append(labels, []symm.QN{left}, mid)
	}
	labels = append(labels, []symm.QN{{N: 2 * n}})

	m, err := New(alloc, sites, phys, labels, 0)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := m.Canonicalize(0); err != nil {
		m.Release()
		return nil, errors.Wrap(err, "")
	}
	m.SetTag(TagInit)
	return m, nil
}
