// Package fcidump holds one- and two-electron integrals and reads and writes
// them in the FCIDUMP format.
//
// Integrals live in arena storage. One-electron integrals are packed lower
// triangular, two-electron integrals of equal spins are packed with the 8-fold
// permutation symmetry and the alpha-beta block with the 4-fold one.
package fcidump

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/pool"
)

// DefaultTol is the default symmetry tolerance of one-electron integrals.
const DefaultTol = 1e-13

// FCIDUMP is an immutable set of molecular integrals.
type FCIDUMP struct {
	nSites       int
	nElec        int
	twoS         int
	iSym         int
	eCore        float64
	unrestricted bool

	orbSym *pool.Handle
	// h1e[s] is the packed one-electron matrix of spin s.
	h1e []*pool.Handle
	// g2e holds aa, bb and ab two-electron integrals for unrestricted
	// integrals, and a single block otherwise.
	g2e []*pool.Handle

	released bool
}

// Pair packs the symmetric index pair (i, j).
func Pair(i, j int) int {
	if i < j {
		i, j = j, i
	}
	return i*(i+1)/2 + j
}

// Len1 is the packed length of a symmetric n x n matrix.
func Len1(n int) int { return n * (n + 1) / 2 }

// Len8 is the packed length of an 8-fold symmetric four-index array.
func Len8(n int) int {
	p := Len1(n)
	return p * (p + 1) / 2
}

// Len4 is the packed length of a 4-fold symmetric four-index array.
func Len4(n int) int {
	p := Len1(n)
	return p * p
}

// Index8 returns the packed position of (ij|kl) with 8-fold symmetry.
func Index8(i, j, k, l int) int {
	return Pair(Pair(i, j), Pair(k, l))
}

// Index4 returns the packed position of (ij|kl) with 4-fold symmetry, that is
// symmetric within ij and within kl only.
func Index4(n, i, j, k, l int) int {
	return Pair(i, j)*Len1(n) + Pair(k, l)
}

// InitializeSU2 builds spin-restricted integrals. h1e is an n x n matrix and
// g2e is the 8-fold packed array of (ij|kl).
func InitializeSU2(alloc pool.Allocator, n, nElec, twoS, iSym int, orbSym []int, eCore float64, h1e mat.Matrix, g2e []float64, tol float64) (*FCIDUMP, error) {
	f, err := newFCIDUMP(alloc, n, nElec, twoS, iSym, orbSym, eCore, false)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := f.init(alloc, []mat.Matrix{h1e}, [][]float64{g2e}, tol); err != nil {
		f.Release()
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}

// InitializeSZ builds spin-unrestricted integrals from the alpha and beta
// one-electron matrices and the aa, bb (8-fold packed) and ab (4-fold packed)
// two-electron arrays.
func InitializeSZ(alloc pool.Allocator, n, nElec, twoS, iSym int, orbSym []int, eCore float64, h1e [2]mat.Matrix, g2e [3][]float64, tol float64) (*FCIDUMP, error) {
	f, err := newFCIDUMP(alloc, n, nElec, twoS, iSym, orbSym, eCore, true)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := f.init(alloc, h1e[:], g2e[:], tol); err != nil {
		f.Release()
		return nil, errors.Wrap(err, "")
	}
	return f, nil
}

func newFCIDUMP(alloc pool.Allocator, n, nElec, twoS, iSym int, orbSym []int, eCore float64, unrestricted bool) (*FCIDUMP, error) {
	if n <= 0 {
		return nil, errs.Configf("number of orbitals %d", n)
	}
	if nElec < 0 || nElec > 2*n {
		return nil, errs.Configf("%d electrons in %d orbitals", nElec, n)
	}
	if twoS < 0 || twoS > nElec || (nElec-twoS)%2 != 0 {
		return nil, errs.Configf("spin 2S=%d incompatible with %d electrons", twoS, nElec)
	}
	if len(orbSym) != n {
		return nil, errs.Configf("%d orbital symmetries for %d orbitals", len(orbSym), n)
	}

	f := &FCIDUMP{nSites: n, nElec: nElec, twoS: twoS, iSym: iSym, eCore: eCore, unrestricted: unrestricted}
	h, err := alloc.Ints(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	copy(h.Ints(), orbSym)
	f.orbSym = h
	return f, nil
}

func (f *FCIDUMP) allocate(alloc pool.Allocator) error {
	nSpin := 1
	if f.unrestricted {
		nSpin = 2
	}
	for range nSpin {
		h, err := alloc.Floats(Len1(f.nSites))
		if err != nil {
			return errors.Wrap(err, "")
		}
		f.h1e = append(f.h1e, h)
	}

	lens := []int{Len8(f.nSites)}
	if f.unrestricted {
		lens = []int{Len8(f.nSites), Len8(f.nSites), Len4(f.nSites)}
	}
	for _, l := range lens {
		h, err := alloc.Floats(l)
		if err != nil {
			return errors.Wrap(err, "")
		}
		f.g2e = append(f.g2e, h)
	}
	return nil
}

func (f *FCIDUMP) init(alloc pool.Allocator, h1e []mat.Matrix, g2e [][]float64, tol float64) error {
	n := f.nSites
	for s, h := range h1e {
		if r, c := h.Dims(); r != n || c != n {
			return errs.Configf("h1e[%d] is %dx%d, want %dx%d", s, r, c, n, n)
		}
		for i := range n {
			for j := range i {
				if d := math.Abs(h.At(i, j) - h.At(j, i)); d >= tol {
					return errors.WithStack(&errs.NumericalInconsistencyError{I: i, J: j, Diff: d, Tol: tol})
				}
			}
		}
	}
	for b, g := range g2e {
		want := Len8(n)
		if b == 2 {
			want = Len4(n)
		}
		if len(g) != want {
			return errs.Configf("g2e[%d] has %d elements, want %d", b, len(g), want)
		}
	}

	if err := f.allocate(alloc); err != nil {
		return errors.Wrap(err, "")
	}
	for s, h := range h1e {
		dst := f.h1e[s].Floats()
		for i := range n {
			for j := range i + 1 {
				dst[Pair(i, j)] = zeroSmall(h.At(i, j), tol)
			}
		}
	}
	for b, g := range g2e {
		dst := f.g2e[b].Floats()
		for i, v := range g {
			dst[i] = zeroSmall(v, tol)
		}
	}
	return nil
}

func zeroSmall(v, tol float64) float64 {
	if math.Abs(v) < tol {
		return 0
	}
	return v
}

// Release returns the integral storage to the arena.
func (f *FCIDUMP) Release() {
	if f.released {
		panic(&pool.LifecycleError{Op: "fcidump double release", Handle: -1})
	}
	f.released = true
	for _, h := range f.g2e {
		h.Release()
	}
	for _, h := range f.h1e {
		h.Release()
	}
	f.orbSym.Release()
}

func (f *FCIDUMP) NSites() int        { return f.nSites }
func (f *FCIDUMP) NElec() int         { return f.nElec }
func (f *FCIDUMP) TwoS() int          { return f.twoS }
func (f *FCIDUMP) ISym() int          { return f.iSym }
func (f *FCIDUMP) ECore() float64     { return f.eCore }
func (f *FCIDUMP) Unrestricted() bool { return f.unrestricted }
func (f *FCIDUMP) OrbSym() []int      { return append([]int(nil), f.orbSym.Ints()...) }

func (f *FCIDUMP) String() string {
	return fmt.Sprintf("FCIDUMP{n=%d nelec=%d 2S=%d isym=%d uhf=%t}", f.nSites, f.nElec, f.twoS, f.iSym, f.unrestricted)
}

// T returns the one-electron integral t_ij of spin s.
func (f *FCIDUMP) T(s, i, j int) float64 {
	if !f.unrestricted {
		s = 0
	}
	return f.h1e[s].Floats()[Pair(i, j)]
}

// V returns the two-electron integral (ij|kl) where i, j carry spin sl and
// k, l carry spin sr.
func (f *FCIDUMP) V(sl, sr, i, j, k, l int) float64 {
	if !f.unrestricted {
		return f.g2e[0].Floats()[Index8(i, j, k, l)]
	}
	switch {
	case sl == 0 && sr == 0:
		return f.g2e[0].Floats()[Index8(i, j, k, l)]
	case sl == 1 && sr == 1:
		return f.g2e[1].Floats()[Index8(i, j, k, l)]
	case sl == 0:
		return f.g2e[2].Floats()[Index4(f.nSites, i, j, k, l)]
	default:
		return f.g2e[2].Floats()[Index4(f.nSites, k, l, i, j)]
	}
}

// H1E returns the one-electron matrix of spin s as a dense matrix.
func (f *FCIDUMP) H1E(s int) *mat.SymDense {
	h := mat.NewSymDense(f.nSites, nil)
	for i := range f.nSites {
		for j := i; j < f.nSites; j++ {
			h.SetSym(i, j, f.T(s, i, j))
		}
	}
	return h
}
