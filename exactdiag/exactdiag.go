// Package exactdiag computes grand-canonical thermal properties of small
// fermionic systems by full diagonalization of the Fock-space Hamiltonian.
// It is the reference the tensor network results are validated against.
package exactdiag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/hamiltonian"
)

// Operator returns the Fock-space matrix of an operator string on n orbitals.
// The first orbital is the most significant index.
func Operator(t hamiltonian.Term, n int) *COO {
	op := COOIdentity(1)
	for _, f := range hamiltonian.LocalFactors(t, n) {
		op.Kron(M(f))
	}
	return op
}

// Hamiltonian returns the Fock-space matrix of a sum of operator strings.
func Hamiltonian(terms []hamiltonian.Term, n int) *COO {
	dim := 1 << (2 * n)
	h := COOZeros(dim, dim)
	for _, t := range terms {
		h.Add(1, Operator(t, n))
	}
	return h
}

// Thermal is the density matrix exp(-beta*H)/Z.
type Thermal struct {
	Rho *mat.SymDense
	// LogZ is the logarithm of the partition function.
	LogZ float64
}

// NewThermal diagonalizes h and returns its thermal density matrix at beta.
func NewThermal(h *COO, beta float64) (*Thermal, error) {
	n := h.Rows()
	dense := h.Dense()
	sym := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, dense.At(i, j))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, errors.Errorf("eigen decomposition failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Boltzmann weights relative to the ground state.
	e0 := vals[0]
	for _, v := range vals {
		e0 = min(e0, v)
	}
	weights := make([]float64, len(vals))
	var z float64
	for i, v := range vals {
		weights[i] = math.Exp(-beta * (v - e0))
		z += weights[i]
	}

	rho := mat.NewSymDense(n, nil)
	for k, w := range weights {
		if w/z < 1e-300 {
			continue
		}
		col := vecs.ColView(k)
		rho.SymRankOne(rho, w/z, col)
	}
	return &Thermal{Rho: rho, LogZ: math.Log(z) - beta*e0}, nil
}

// Expectation returns Tr(rho O).
func (th *Thermal) Expectation(o *COO) float64 {
	var tr float64
	for _, v := range o.Data {
		tr += th.Rho.At(v.col, v.row) * v.v
	}
	return tr
}

// OnePDM returns dm[s][i][j] = Tr(rho c+_{i s} c_{j s}) on n orbitals.
func (th *Thermal) OnePDM(n int) [2]*mat.Dense {
	var dm [2]*mat.Dense
	for s := range dm {
		dm[s] = mat.NewDense(n, n, nil)
		for i := range n {
			for j := range n {
				t := hamiltonian.Term{Coeff: 1, Ops: []hamiltonian.Op{
					{Site: i, Spin: s, Dagger: true},
					{Site: j, Spin: s},
				}}
				dm[s].Set(i, j, th.Expectation(Operator(t, n)))
			}
		}
	}
	return dm
}
