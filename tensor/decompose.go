package tensor

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/symm"
)

// Split is the result of a sector-blocked factorization. For QR and LQ,
// a = Left @ Right. For SVD, Left = U, Right = V^T and a ~ U diag(Values) V^T.
// Every kept bond state carries exactly one sector label.
type Split struct {
	Left   *mat.Dense
	Right  *mat.Dense
	Values []float64
	Labels []symm.QN
	// Discarded is the discarded weight: the squared norm of the dropped
	// singular values relative to the total.
	Discarded float64
}

// sectorBlock lists the rows and columns of one symmetry sector.
type sectorBlock struct {
	q    symm.QN
	rows []int
	cols []int
}

// blocks groups rows and columns by label. Only sectors present on both
// sides can carry weight; the rest is structurally zero.
func blocks(rowQ, colQ []symm.QN) []sectorBlock {
	byQ := make(map[symm.QN]*sectorBlock)
	for i, q := range rowQ {
		b, ok := byQ[q]
		if !ok {
			b = &sectorBlock{q: q}
			byQ[q] = b
		}
		b.rows = append(b.rows, i)
	}
	for j, q := range colQ {
		if b, ok := byQ[q]; ok {
			b.cols = append(b.cols, j)
		}
	}

	bs := make([]sectorBlock, 0, len(byQ))
	for _, b := range byQ {
		if len(b.rows) > 0 && len(b.cols) > 0 {
			bs = append(bs, *b)
		}
	}
	slices.SortFunc(bs, func(a, b sectorBlock) int { return symm.Compare(a.q, b.q) })
	return bs
}

// parallel calls f for every sector index on at most threads goroutines.
func parallel(n, threads int, f func(i int)) {
	if threads <= 1 || n <= 1 {
		for i := range n {
			f(i)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(threads)
	for i := range n {
		g.Go(func() error {
			f(i)
			return nil
		})
	}
	g.Wait()
}

func subMatrix(a mat.Matrix, rows, cols []int) *mat.Dense {
	s := mat.NewDense(len(rows), len(cols), nil)
	for i, r := range rows {
		for j, c := range cols {
			s.Set(i, j, a.At(r, c))
		}
	}
	return s
}

// BlockQR factorizes a = Q @ R block by block, where row i of a carries
// rowQ[i] and column j carries colQ[j]. Q has orthonormal columns and the
// diagonal of each R block is made non-negative, so factorizing a matrix
// that already has orthonormal sector-grouped columns returns it unchanged.
// Sectors are factorized on at most threads goroutines.
func BlockQR(a mat.Matrix, rowQ, colQ []symm.QN, threads int) Split {
	rows, cols := a.Dims()
	if rows != len(rowQ) || cols != len(colQ) {
		panic(fmt.Sprintf("%d %d %d %d", rows, cols, len(rowQ), len(colQ)))
	}

	type piece struct {
		b    sectorBlock
		q, r *mat.Dense
	}
	bs := blocks(rowQ, colQ)
	pieces := make([]piece, len(bs))
	parallel(len(bs), threads, func(i int) {
		q, r := thinQR(subMatrix(a, bs[i].rows, bs[i].cols))
		pieces[i] = piece{b: bs[i], q: q, r: r}
	})
	k := 0
	for _, p := range pieces {
		_, kb := p.q.Dims()
		k += kb
	}

	s := Split{Labels: make([]symm.QN, 0, k)}
	if k == 0 {
		return s
	}
	s.Left = mat.NewDense(rows, k, nil)
	s.Right = mat.NewDense(k, cols, nil)
	off := 0
	for _, p := range pieces {
		_, kb := p.q.Dims()
		for i, row := range p.b.rows {
			for j := range kb {
				s.Left.Set(row, off+j, p.q.At(i, j))
			}
		}
		for i := range kb {
			for j, col := range p.b.cols {
				s.Right.Set(off+i, col, p.r.At(i, j))
			}
			s.Labels = append(s.Labels, p.b.q)
		}
		off += kb
	}
	return s
}

// BlockLQ factorizes a = L @ Q block by block with Q having orthonormal rows.
func BlockLQ(a mat.Matrix, rowQ, colQ []symm.QN, threads int) Split {
	t := BlockQR(a.T(), colQ, rowQ, threads)
	if t.Left == nil {
		return t
	}
	l := mat.DenseCopyOf(t.Right.T())
	q := mat.DenseCopyOf(t.Left.T())
	return Split{Left: l, Right: q, Labels: t.Labels}
}

// thinQR returns q (m x k) with orthonormal columns and r (k x n), k = min(m, n).
func thinQR(a *mat.Dense) (*mat.Dense, *mat.Dense) {
	m, n := a.Dims()
	if m < n {
		// Householder QR needs m >= n; fall back to an SVD, q = U, r = S V^T.
		var svd mat.SVD
		if ok := svd.Factorize(a, mat.SVDThin); !ok {
			panic(fmt.Sprintf("svd failed %d %d", m, n))
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		values := svd.Values(nil)
		r := mat.NewDense(len(values), n, nil)
		for i, sv := range values {
			for j := range n {
				r.Set(i, j, sv*v.At(j, i))
			}
		}
		return &u, r
	}

	var qr mat.QR
	qr.Factorize(a)
	var qFull, rFull mat.Dense
	qr.QTo(&qFull)
	qr.RTo(&rFull)
	q := mat.DenseCopyOf(qFull.Slice(0, m, 0, n))
	r := mat.DenseCopyOf(rFull.Slice(0, n, 0, n))

	for i := range n {
		if r.At(i, i) >= 0 {
			continue
		}
		for j := range n {
			r.Set(i, j, -r.At(i, j))
		}
		for j := range m {
			q.Set(j, i, -q.At(j, i))
		}
	}
	return q, r
}

// TruncateOptions bound a truncated factorization.
type TruncateOptions struct {
	// MaxD is the maximum number of kept states; 0 means unbounded.
	MaxD int
	// Cutoff drops singular values below Cutoff times the largest one.
	// With Cutoff 0 every state of every sector is kept, zero ones included.
	Cutoff float64
	// Threads bounds the number of sectors decomposed concurrently.
	Threads int
}

// BlockSVD computes a truncated singular value decomposition block by block.
// Singular values from all sectors compete for the MaxD budget; sectors are
// never merged.
func BlockSVD(a mat.Matrix, rowQ, colQ []symm.QN, opt TruncateOptions) Split {
	rows, cols := a.Dims()
	if rows != len(rowQ) || cols != len(colQ) {
		panic(fmt.Sprintf("%d %d %d %d", rows, cols, len(rowQ), len(colQ)))
	}

	type piece struct {
		b      sectorBlock
		u, v   mat.Dense
		values []float64
	}
	type candidate struct {
		piece int
		j     int
		s     float64
	}
	bs := blocks(rowQ, colQ)
	pieces := make([]*piece, len(bs))
	parallel(len(bs), opt.Threads, func(i int) {
		p := &piece{b: bs[i]}
		var svd mat.SVD
		if ok := svd.Factorize(subMatrix(a, p.b.rows, p.b.cols), mat.SVDThin); !ok {
			panic(fmt.Sprintf("svd failed %v %d %d", p.b.q, len(p.b.rows), len(p.b.cols)))
		}
		svd.UTo(&p.u)
		svd.VTo(&p.v)
		p.values = svd.Values(nil)
		pieces[i] = p
	})
	cands := make([]candidate, 0)
	var total, sMax float64
	for pi, p := range pieces {
		for j, s := range p.values {
			cands = append(cands, candidate{piece: pi, j: j, s: s})
			total += s * s
			sMax = max(sMax, s)
		}
	}

	// Global selection by singular value; ties resolved by sector order.
	slices.SortStableFunc(cands, func(x, y candidate) int { return cmp.Compare(y.s, x.s) })
	keep := len(cands)
	if opt.Cutoff > 0 {
		keep = 0
		for keep < len(cands) && cands[keep].s > opt.Cutoff*sMax {
			keep++
		}
		keep = max(keep, min(1, len(cands)))
	}
	if opt.MaxD > 0 {
		keep = min(keep, opt.MaxD)
	}

	var dropped float64
	for _, c := range cands[keep:] {
		dropped += c.s * c.s
	}
	kept := cands[:keep]
	slices.SortFunc(kept, func(x, y candidate) int {
		if c := cmp.Compare(x.piece, y.piece); c != 0 {
			return c
		}
		return cmp.Compare(x.j, y.j)
	})

	s := Split{Values: make([]float64, 0, keep), Labels: make([]symm.QN, 0, keep)}
	if total > 0 {
		s.Discarded = dropped / total
	}
	if keep == 0 {
		return s
	}
	s.Left = mat.NewDense(rows, keep, nil)
	s.Right = mat.NewDense(keep, cols, nil)
	for k, c := range kept {
		p := pieces[c.piece]
		for i, row := range p.b.rows {
			s.Left.Set(row, k, p.u.At(i, c.j))
		}
		for i, col := range p.b.cols {
			s.Right.Set(k, col, p.v.At(i, c.j))
		}
		s.Values = append(s.Values, c.s)
		s.Labels = append(s.Labels, p.b.q)
	}
	return s
}

// SVD computes an unblocked truncated factorization with the same conventions
// as BlockSVD. It is used for operators, which carry no
// sector labels.
func SVD(a mat.Matrix, opt TruncateOptions) Split {
	rows, cols := a.Dims()
	rowQ := make([]symm.QN, rows)
	colQ := make([]symm.QN, cols)
	return BlockSVD(a, rowQ, colQ, opt)
}

// ScaledLeft returns U diag(Values).
func (s Split) ScaledLeft() *mat.Dense {
	l := mat.DenseCopyOf(s.Left)
	for k, v := range s.Values {
		col := l.ColView(k).(*mat.VecDense)
		col.ScaleVec(v, col)
	}
	return l
}

// ScaledRight returns diag(Values) V^T.
func (s Split) ScaledRight() *mat.Dense {
	r := mat.DenseCopyOf(s.Right)
	for k, v := range s.Values {
		row := r.RowView(k).(*mat.VecDense)
		row.ScaleVec(v, row)
	}
	return r
}

// Entropy returns the von Neumann entropy of normalized squared singular values.
func Entropy(values []float64) float64 {
	var total float64
	for _, s := range values {
		total += s * s
	}
	if total == 0 {
		return 0
	}
	var e float64
	for _, s := range values {
		p := s * s / total
		if p > 0 {
			e -= p * math.Log(p)
		}
	}
	return e
}
