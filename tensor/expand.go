package tensor

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/symm"
)

// ExpandOptions bound a basis expansion.
type ExpandOptions struct {
	// MaxAdd is the maximum number of added states.
	MaxAdd int
	// Tol drops directions of the source whose singular value is not above Tol.
	Tol float64
	// Limit caps the number of states of a sector, the existing ones
	// included. A nil Limit caps a sector at its number of rows.
	Limit func(symm.QN) int
	// Pad fills the remaining budget with directions that the source does
	// not reach, so that a sector may be completed to its limit.
	Pad bool
	// Threads bounds the number of sectors processed concurrently.
	Threads int
}

// Expand enlarges the orthonormal columns of basis, labeled basisQ over rows
// labeled rowQ. The added columns are the dominant left singular vectors of
// the part of p orthogonal to basis, computed sector by sector and ranked
// globally by singular value. p may be nil, in which case only padding is
// added. The returned basis starts with the columns of basis.
func Expand(basis *mat.Dense, basisQ []symm.QN, p mat.Matrix, rowQ []symm.QN, opt ExpandOptions) (*mat.Dense, []symm.QN) {
	rows := len(rowQ)
	k := len(basisQ)

	byQ := make(map[symm.QN]*sectorBlock)
	sector := func(q symm.QN) *sectorBlock {
		b, ok := byQ[q]
		if !ok {
			b = &sectorBlock{q: q}
			byQ[q] = b
		}
		return b
	}
	for i, q := range rowQ {
		b := sector(q)
		b.rows = append(b.rows, i)
	}
	for j, q := range basisQ {
		b := sector(q)
		b.cols = append(b.cols, j)
	}
	bs := make([]sectorBlock, 0, len(byQ))
	for _, b := range byQ {
		bs = append(bs, *b)
	}
	slices.SortFunc(bs, func(a, b sectorBlock) int { return symm.Compare(a.q, b.q) })

	type piece struct {
		vectors *mat.Dense
		values  []float64
	}
	pieces := make([]piece, len(bs))
	parallel(len(bs), opt.Threads, func(i int) {
		b := bs[i]
		r, kb := len(b.rows), len(b.cols)
		limit := r
		if opt.Limit != nil {
			limit = min(limit, opt.Limit(b.q))
		}
		room := min(limit-kb, r-kb)
		if room <= 0 {
			return
		}
		comp := complement(basis, b.rows, b.cols)

		values := make([]float64, r-kb)
		vectors := comp
		if _, c := dims(p); c > 0 {
			x := mat.NewDense(r-kb, c, nil)
			x.Mul(comp.T(), subMatrix(p, b.rows, allIndices(c)))
			var svd mat.SVD
			if ok := svd.Factorize(x, mat.SVDFullU); ok {
				var u mat.Dense
				svd.UTo(&u)
				copy(values, svd.Values(nil))
				vectors = mat.NewDense(r, r-kb, nil)
				vectors.Mul(comp, &u)
			}
		}
		pieces[i] = piece{vectors: vectors, values: values[:room]}
	})

	type candidate struct {
		piece int
		j     int
		s     float64
	}
	cands := make([]candidate, 0)
	for pi, pc := range pieces {
		for j, s := range pc.values {
			if s > opt.Tol || opt.Pad {
				cands = append(cands, candidate{piece: pi, j: j, s: s})
			}
		}
	}
	slices.SortStableFunc(cands, func(x, y candidate) int { return cmp.Compare(y.s, x.s) })
	cands = cands[:min(len(cands), max(opt.MaxAdd, 0))]
	slices.SortFunc(cands, func(x, y candidate) int {
		if c := cmp.Compare(x.piece, y.piece); c != 0 {
			return c
		}
		return cmp.Compare(x.j, y.j)
	})

	if rows == 0 || k+len(cands) == 0 {
		return nil, nil
	}
	out := mat.NewDense(rows, k+len(cands), nil)
	labels := slices.Grow(slices.Clone(basisQ), len(cands))
	if k > 0 {
		out.Slice(0, rows, 0, k).(*mat.Dense).Copy(basis)
	}
	for n, c := range cands {
		b := bs[c.piece]
		v := pieces[c.piece].vectors
		for i, row := range b.rows {
			out.Set(row, k+n, v.At(i, c.j))
		}
		labels = append(labels, b.q)
	}
	return out, labels
}

// complement returns an orthonormal basis, over rows, of the complement of
// the given columns of basis.
func complement(basis *mat.Dense, rows, cols []int) *mat.Dense {
	r := len(rows)
	if len(cols) == 0 {
		return eye(r)
	}
	var svd mat.SVD
	if ok := svd.Factorize(subMatrix(basis, rows, cols), mat.SVDFullU); !ok {
		panic("complement svd failed")
	}
	var u mat.Dense
	svd.UTo(&u)
	return mat.DenseCopyOf(u.Slice(0, r, len(cols), r))
}

func dims(a mat.Matrix) (int, int) {
	if a == nil {
		return 0, 0
	}
	return a.Dims()
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := range n {
		m.Set(i, i, 1)
	}
	return m
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
