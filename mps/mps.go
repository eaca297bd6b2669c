// Package mps implements matrix product states on the ancilla lattice and the
// finite-temperature algorithms on them: the infinite-temperature initial
// state, canonicalization, imaginary-time evolution and the one-particle
// density matrix.
//
// References:
//   - The density-matrix renormalization group in the age of matrix product states, Ulrich Schollwock
//   - Unifying time evolution and optimization with matrix product states, Jutho Haegeman et al.
//   - Finite-temperature density matrix renormalization using an enlarged Hilbert space, Adrian E. Feiguin and Steven R. White
package mps

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

const (
	// mpsLeftAxis is the axis of a_{l-1} in Figure 6.
	mpsLeftAxis  = 0
	mpsUpAxis    = 1
	mpsRightAxis = 2
	// mpoLeftAxis is the axis of b_{l-1} in Figure 35.
	mpoLeftAxis  = 0
	mpoRightAxis = 1
	mpoUpAxis    = 2
	mpoDownAxis  = 3
)

// Tags of persisted states.
const (
	TagInit  = "INIT"
	TagFinal = "FINAL"
)

// MPS is a matrix product state whose site tensors A[l, s, r] live in arena
// storage. Every bond state carries the quantum number of the sites to its
// left, so that A[l, s, r] may be nonzero only if label(l) + q(s) = label(r).
type MPS struct {
	alloc pool.Allocator

	shapes  [][]int
	handles []*pool.Handle
	// phys[i] are the quantum numbers of the local basis of site i.
	phys [][]symm.QN
	// labels[b] are the quantum numbers of bond b; bond 0 is the left boundary.
	labels [][]symm.QN
	center int

	tag   string
	tau   float64
	steps int

	// threads bounds the sectors factorized concurrently by Canonicalize.
	threads int

	released bool
}

// New returns a MPS holding copies of sites.
func New(alloc pool.Allocator, sites []*tensor.Dense, phys, labels [][]symm.QN, center int) (*MPS, error) {
	if len(phys) != len(sites) || len(labels) != len(sites)+1 {
		panic(fmt.Sprintf("%d %d %d", len(sites), len(phys), len(labels)))
	}
	m := &MPS{
		alloc:   alloc,
		shapes:  make([][]int, len(sites)),
		handles: make([]*pool.Handle, len(sites)),
		phys:    phys,
		labels:  labels,
		center:  center,
	}
	for i, s := range sites {
		if err := m.SetSite(i, s); err != nil {
			m.Release()
			return nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}
	return m, nil
}

// SetThreads sets the number of sectors factorized concurrently.
func (m *MPS) SetThreads(n int) { m.threads = n }

// Len returns the number of sites.
func (m *MPS) Len() int { return len(m.shapes) }

// Site returns a view of the tensor of site i. The view is invalidated by
// SetSite and Release.
func (m *MPS) Site(i int) *tensor.Dense {
	return tensor.New(m.handles[i].Floats(), m.shapes[i]...)
}

// SetSite replaces the tensor of site i with a copy of t.
func (m *MPS) SetSite(i int, t *tensor.Dense) error {
	if m.released {
		panic(&pool.LifecycleError{Op: "mps use after release", Handle: -1})
	}
	s := t.Shape()
	if len(s) != 3 || s[mpsUpAxis] != len(m.phys[i]) {
		panic(fmt.Sprintf("%d %#v %d", i, s, len(m.phys[i])))
	}
	h, err := m.alloc.Floats(t.Size())
	if err != nil {
		return errors.Wrap(err, "")
	}
	copy(h.Floats(), t.Data())
	if old := m.handles[i]; old != nil {
		old.Release()
	}
	m.handles[i] = h
	m.shapes[i] = slices.Clone(s)
	return nil
}

// Release returns the site storage to the arena.
func (m *MPS) Release() {
	if m.released {
		panic(&pool.LifecycleError{Op: "mps double release", Handle: -1})
	}
	m.released = true
	for _, h := range m.handles {
		if h != nil {
			h.Release()
		}
	}
}

// Clone returns a deep copy in arena storage.
func (m *MPS) Clone() (*MPS, error) {
	sites := make([]*tensor.Dense, 0, m.Len())
	for i := range m.Len() {
		sites = append(sites, m.Site(i))
	}
	labels := make([][]symm.QN, 0, len(m.labels))
	for _, l := range m.labels {
		labels = append(labels, slices.Clone(l))
	}
	c, err := New(m.alloc, sites, m.phys, labels, m.center)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	c.tag, c.tau, c.steps, c.threads = m.tag, m.tau, m.steps, m.threads
	return c, nil
}

func (m *MPS) Center() int               { return m.center }
func (m *MPS) Labels(bond int) []symm.QN { return m.labels[bond] }
func (m *MPS) Phys(i int) []symm.QN      { return m.phys[i] }
func (m *MPS) Tag() string               { return m.tag }
func (m *MPS) SetTag(tag string)         { m.tag = tag }

// Tau returns the accumulated imaginary time applied to the ket.
func (m *MPS) Tau() float64 { return m.tau }

// Steps returns the number of completed evolution macro-steps.
func (m *MPS) Steps() int { return m.steps }

// SetProgress sets the accumulated imaginary time and completed macro-steps.
func (m *MPS) SetProgress(tau float64, steps int) { m.tau, m.steps = tau, steps }

// BondDims returns the dimensions of the L+1 bonds.
func (m *MPS) BondDims() []int {
	dims := make([]int, 0, len(m.labels))
	for _, l := range m.labels {
		dims = append(dims, len(l))
	}
	return dims
}

// MaxBondDim returns the largest bond dimension.
func (m *MPS) MaxBondDim() int { return slices.Max(m.BondDims()) }

// Norm returns the norm of the state, read off the canonical center.
func (m *MPS) Norm() float64 { return m.Site(m.center).Norm() }

// Canonicalize moves the state into mixed canonical form around center:
// sites left of it are left-normalized and sites right of it right-normalized.
// See Section 4.4 Canonical form, Ulrich Schollwock.
func (m *MPS) Canonicalize(center int) error {
	if center < 0 || center >= m.Len() {
		panic(fmt.Sprintf("%d %d", center, m.Len()))
	}
	for i := range center {
		if err := m.leftNormalize(i); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}
	for i := m.Len() - 1; i > center; i-- {
		if err := m.rightNormalize(i); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", i))
		}
	}
	m.center = center
	return nil
}

// leftRowLabels returns the labels of the rows of site i reshaped to (l*d, r).
func (m *MPS) leftRowLabels(i int) []symm.QN {
	qs := make([]symm.QN, 0, len(m.labels[i])*len(m.phys[i]))
	for _, l := range m.labels[i] {
		for _, q := range m.phys[i] {
			qs = append(qs, l.Add(q))
		}
	}
	return qs
}

// rightColLabels returns the labels of the columns of site i reshaped to (l, d*r).
func (m *MPS) rightColLabels(i int) []symm.QN {
	qs := make([]symm.QN, 0, len(m.phys[i])*len(m.labels[i+1]))
	for _, q := range m.phys[i] {
		for _, r := range m.labels[i+1] {
			qs = append(qs, r.Sub(q))
		}
	}
	return qs
}

// leftNormalize decomposes site i = q @ r and multiplies r into site i+1.
// See Section 4.4.1 Generation of a left-canonical MPS, Ulrich Schollwock.
func (m *MPS) leftNormalize(i int) error {
	s := m.shapes[i]
	dLeft, dUp := s[mpsLeftAxis], s[mpsUpAxis]

	qr := tensor.BlockQR(m.Site(i).Matrix(dLeft*dUp), m.leftRowLabels(i), m.labels[i+1], m.threads)
	if qr.Left == nil {
		return errors.Errorf("site %d has no allowed block", i)
	}
	_, k := qr.Left.Dims()

	// ms[i+1] = r @ ms[i+1].
	r := tensor.FromMatrix(qr.Right, k, s[mpsRightAxis])
	next := tensor.Product(r, m.Site(i+1), [][2]int{{1, mpsLeftAxis}})
	if err := m.SetSite(i+1, next); err != nil {
		return errors.Wrap(err, "")
	}

	// ms[i] = q.
	if err := m.SetSite(i, tensor.FromMatrix(qr.Left, dLeft, dUp, k)); err != nil {
		return errors.Wrap(err, "")
	}
	m.labels[i+1] = qr.Labels
	return nil
}

// rightNormalize decomposes site i = l @ q and multiplies l into site i-1.
// See Section 4.4.2 Generation of a right-canonical MPS, Ulrich Schollwock.
func (m *MPS) rightNormalize(i int) error {
	s := m.shapes[i]
	dUp, dRight := s[mpsUpAxis], s[mpsRightAxis]

	lq := tensor.BlockLQ(m.Site(i).Matrix(s[mpsLeftAxis]), m.labels[i], m.rightColLabels(i), m.threads)
	if lq.Left == nil {
		return errors.Errorf("site %d has no allowed block", i)
	}
	_, k := lq.Left.Dims()

	// ms[i-1] = ms[i-1] @ l.
	l := tensor.FromMatrix(lq.Left, s[mpsLeftAxis], k)
	prev := tensor.Product(m.Site(i-1), l, [][2]int{{mpsRightAxis, 0}})
	if err := m.SetSite(i-1, prev); err != nil {
		return errors.Wrap(err, "")
	}

	// ms[i] = q.
	if err := m.SetSite(i, tensor.FromMatrix(lq.Right, k, dUp, dRight)); err != nil {
		return errors.Wrap(err, "")
	}
	m.labels[i] = lq.Labels
	return nil
}

// project zeroes the entries of t, shaped like a site tensor between bonds
// left and right of the given physical basis, that violate symmetry.
func project(t *tensor.Dense, left, right, phys []symm.QN) {
	s := t.Shape()
	data := t.Data()
	for a := range s[0] {
		for p := range s[1] {
			q := left[a].Add(phys[p])
			for b := range s[2] {
				if q != right[b] {
					data[(a*s[1]+p)*s[2]+b] = 0
				}
			}
		}
	}
}

// InnerProduct computes the inner product between x and y.
// See Section 4.2.1 Efficient evaluation of contractions, Ulrich Schollwock.
func InnerProduct(x, y *MPS) float64 {
	if x.Len() != y.Len() {
		panic(fmt.Sprintf("%d %d", x.Len(), y.Len()))
	}

	const fTopAxis, fBottomAxis = 0, 1
	f := tensor.Ones(1, 1)
	for i := range x.Len() {
		xi, yi := x.Site(i), y.Site(i)
		fyi := tensor.Product(f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		f = tensor.Product(xi, fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}

	if !slices.Equal(f.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

// Vector contracts the state into a dense vector over the full Hilbert space,
// first site most significant. Only feasible for small lattices.
func (m *MPS) Vector() *mat.VecDense {
	v := m.Site(0)
	s := v.Shape()
	v = v.Reshape(s[mpsUpAxis], s[mpsRightAxis])
	for i := 1; i < m.Len(); i++ {
		vs := v.Shape()
		v = tensor.Product(v, m.Site(i), [][2]int{{1, mpsLeftAxis}})
		v = v.Reshape(vs[0]*m.shapes[i][mpsUpAxis], m.shapes[i][mpsRightAxis])
	}
	return mat.NewVecDense(v.Size(), v.Data())
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
