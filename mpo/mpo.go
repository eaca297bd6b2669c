// Package mpo builds matrix product operators from second-quantized operator
// strings and compresses them.
//
// Site tensors are indexed W[left, right, up, down], where up is the output
// (bra) leg and down the input (ket) leg.
package mpo

import (
	"context"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

const (
	LeftAxis  = 0
	RightAxis = 1
	UpAxis    = 2
	DownAxis  = 3

	// DefaultCutoff is the relative singular value cutoff of Compress. Only
	// directions that are numerically zero are removed.
	DefaultCutoff = 1e-12

	physD = 4
)

// MPO is a matrix product operator.
type MPO []*tensor.Dense

// BondDims returns the dimensions of the L+1 bonds, boundaries included.
func (m MPO) BondDims() []int {
	dims := make([]int, 0, len(m)+1)
	for _, w := range m {
		dims = append(dims, w.Shape()[LeftAxis])
	}
	return append(dims, m[len(m)-1].Shape()[RightAxis])
}

// MaxBondDim returns the largest bond dimension.
func (m MPO) MaxBondDim() int { return slices.Max(m.BondDims()) }

// Clone returns a deep copy.
func (m MPO) Clone() MPO {
	c := make(MPO, 0, len(m))
	for _, w := range m {
		c = append(c, w.Clone())
	}
	return c
}

// Options control MPO construction.
type Options struct {
	// Threads bounds the number of batches built concurrently.
	Threads int
	// BatchSize is the number of terms summed before a compression.
	BatchSize int
	// Cutoff is the relative singular value cutoff of the compressions.
	Cutoff float64
}

// NewOptions returns the default options.
func NewOptions() Options {
	return Options{Threads: 1, BatchSize: 24, Cutoff: DefaultCutoff}
}

// FromTerms builds the MPO of a sum of operator strings on nSites physical
// sites. Terms are summed in batches, each batch is compressed, and batches
// are then summed pairwise with compression. Batches are built concurrently.
func FromTerms(ctx context.Context, terms []hamiltonian.Term, nSites int, opt Options) (MPO, error) {
	if len(terms) == 0 {
		return FromTerm(hamiltonian.Term{}, nSites), nil
	}
	batchSize := max(opt.BatchSize, 1)

	nBatch := (len(terms) + batchSize - 1) / batchSize
	parts := make([]MPO, nBatch)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opt.Threads, 1))
	for b := range nBatch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return errors.Wrap(err, "")
			}
			batch := terms[b*batchSize : min((b+1)*batchSize, len(terms))]
			var sum MPO
			for _, t := range batch {
				w := FromTerm(t, nSites)
				if sum == nil {
					sum = w
					continue
				}
				sum = Sum(sum, w)
			}
			parts[b] = Compress(sum, opt.Cutoff)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	for len(parts) > 1 {
		next := make([]MPO, (len(parts)+1)/2)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(opt.Threads, 1))
		for i := range next {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return errors.Wrap(err, "")
				}
				if 2*i+1 == len(parts) {
					next[i] = parts[2*i]
					return nil
				}
				next[i] = Compress(Sum(parts[2*i], parts[2*i+1]), opt.Cutoff)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, errors.Wrap(err, "")
		}
		parts = next
	}
	return parts[0], nil
}

// FromTerm returns the bond dimension 1 MPO of a single operator string.
func FromTerm(t hamiltonian.Term, nSites int) MPO {
	m := make(MPO, 0, nSites)
	for _, f := range hamiltonian.LocalFactors(t, nSites) {
		m = append(m, tensor.FromMatrix(f, 1, 1, physD, physD))
	}
	return m
}

// Sum returns the MPO of a + b, whose bond dimensions are the sums of theirs.
func Sum(a, b MPO) MPO {
	if len(a) != len(b) {
		panic(fmt.Sprintf("%d %d", len(a), len(b)))
	}
	if len(a) == 1 {
		return MPO{a[0].Clone().AddScaled(1, b[0])}
	}

	s := make(MPO, 0, len(a))
	for i := range a {
		as, bs := a[i].Shape(), b[i].Shape()
		if as[UpAxis] != bs[UpAxis] || as[DownAxis] != bs[DownAxis] {
			panic(fmt.Sprintf("%d %#v %#v", i, as, bs))
		}

		// Offsets of b inside the sum.
		lOff, rOff := as[LeftAxis], as[RightAxis]
		l, r := as[LeftAxis]+bs[LeftAxis], as[RightAxis]+bs[RightAxis]
		switch i {
		case 0:
			lOff, l = 0, 1
		case len(a) - 1:
			rOff, r = 0, 1
		}

		w := tensor.Zeros(l, r, as[UpAxis], as[DownAxis])
		place(w, a[i], 0, 0)
		place(w, b[i], lOff, rOff)
		s = append(s, w)
	}
	return s
}

// place copies src into dst at the given bond offsets.
func place(dst, src *tensor.Dense, lOff, rOff int) {
	ss := src.Shape()
	for l := range ss[LeftAxis] {
		for r := range ss[RightAxis] {
			for u := range ss[UpAxis] {
				for d := range ss[DownAxis] {
					dst.SetAt(src.At(l, r, u, d), l+lOff, r+rOff, u, d)
				}
			}
		}
	}
}

// Compress reduces the bond dimensions of m with a left-to-right QR sweep
// followed by a right-to-left truncated SVD sweep.
func Compress(m MPO, cutoff float64) MPO {
	m = m.Clone()
	if len(m) == 1 {
		return m
	}

	for k := range len(m) - 1 {
		s := m[k].Shape()
		// w is of shape {left, up, down, right}.
		w := m[k].Transpose(LeftAxis, UpAxis, DownAxis, RightAxis)
		qr := tensor.BlockQR(w.Matrix(s[LeftAxis]*s[UpAxis]*s[DownAxis]), zeroLabels(s[LeftAxis]*s[UpAxis]*s[DownAxis]), zeroLabels(s[RightAxis]), 1)
		q := tensor.FromMatrix(qr.Left, s[LeftAxis], s[UpAxis], s[DownAxis], -1)
		m[k] = q.Transpose(0, 3, 1, 2)

		_, kd := qr.Left.Dims()
		r := tensor.FromMatrix(qr.Right, kd, s[RightAxis])
		m[k+1] = tensor.Product(r, m[k+1], [][2]int{{1, LeftAxis}})
	}

	for k := len(m) - 1; k >= 1; k-- {
		s := m[k].Shape()
		svd := tensor.SVD(m[k].Matrix(s[LeftAxis]), tensor.TruncateOptions{Cutoff: cutoff})
		kd := len(svd.Values)
		m[k] = tensor.FromMatrix(svd.Right, kd, s[RightAxis], s[UpAxis], s[DownAxis])

		us := tensor.FromMatrix(svd.ScaledLeft(), s[LeftAxis], kd)
		// prev is of shape {left, up, down, k}.
		prev := tensor.Product(m[k-1], us, [][2]int{{RightAxis, 0}})
		m[k-1] = prev.Transpose(0, 3, 1, 2)
	}
	return m
}

func zeroLabels(n int) []symm.QN { return make([]symm.QN, n) }

// WithAncilla interleaves identity sites after every physical site, so that
// the operator acts on the physical sites of an ancilla lattice.
func WithAncilla(m MPO) MPO {
	out := make(MPO, 0, 2*len(m))
	for _, w := range m {
		out = append(out, w)
		r := w.Shape()[RightAxis]
		id := tensor.Zeros(r, r, physD, physD)
		for b := range r {
			for s := range physD {
				id.SetAt(1, b, b, s, s)
			}
		}
		out = append(out, id)
	}
	return out
}

// Matrix returns the full operator as a dense matrix. The first site is the
// most significant index. Only feasible for small chains.
func (m MPO) Matrix() *mat.Dense {
	// o is of shape {right, up, down}.
	w0 := m[0].Shape()
	if w0[LeftAxis] != 1 {
		panic(fmt.Sprintf("%#v", w0))
	}
	o := m[0].Reshape(w0[RightAxis], w0[UpAxis], w0[DownAxis])
	for _, w := range m[1:] {
		oShape, ws := o.Shape(), w.Shape()
		// ow is of shape {up, down, right, up', down'}.
		ow := tensor.Product(o, w, [][2]int{{0, LeftAxis}})
		o = ow.Transpose(2, 0, 3, 1, 4).Reshape(ws[RightAxis], oShape[1]*ws[UpAxis], oShape[2]*ws[DownAxis])
	}
	s := o.Shape()
	if s[0] != 1 {
		panic(fmt.Sprintf("%#v", s))
	}
	return mat.NewDense(s[1], s[2], o.Data())
}
