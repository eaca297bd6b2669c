package mps

import (
	"fmt"
	"slices"

	"github.com/fumin/ftdmrg/mpo"
	"github.com/fumin/ftdmrg/tensor"
)

// Axes of the environments, in Figure 38 of Ulrich Schollwock.
const (
	fTopAxis = 0
	fMidAxis = 1
	fBotAxis = 2
)

// lExpression extends the left environment f over one more site.
// See Equation 192, Ulrich Schollwock.
func lExpression(f, w, a *tensor.Dense) *tensor.Dense {
	// fm is of shape {top, mid, up, right}.
	fm := tensor.Product(f, a, [][2]int{{fBotAxis, mpsLeftAxis}})
	// wfm is of shape {wRight, wUp, top, right}.
	wfm := tensor.Product(w, fm, [][2]int{{mpoDownAxis, 2}, {mpoLeftAxis, fMidAxis}})
	return tensor.Product(a, wfm, [][2]int{{mpsLeftAxis, 2}, {mpsUpAxis, 1}})
}

// rExpression extends the right environment f over one more site.
// See Equation 193, Ulrich Schollwock.
func rExpression(f, w, b *tensor.Dense) *tensor.Dense {
	// fm is of shape {top, mid, left, up}.
	fm := tensor.Product(f, b, [][2]int{{fBotAxis, mpsRightAxis}})
	// wfm is of shape {wLeft, wUp, top, left}.
	wfm := tensor.Product(w, fm, [][2]int{{mpoDownAxis, 3}, {mpoRightAxis, fMidAxis}})
	return tensor.Product(b, wfm, [][2]int{{mpsRightAxis, 2}, {mpsUpAxis, 1}})
}

// Environment holds the partial contractions of <psi|W|psi>.
// L[k] covers sites 0..k-1 and R[k] covers sites k..len-1, so that the
// effective operator of site k is built from L[k], W[k] and R[k+1].
type Environment struct {
	L []*tensor.Dense
	R []*tensor.Dense
}

func newEnvironment(n int) *Environment {
	env := &Environment{L: make([]*tensor.Dense, n+1), R: make([]*tensor.Dense, n+1)}
	env.L[0] = tensor.Ones(1, 1, 1)
	env.R[n] = tensor.Ones(1, 1, 1)
	return env
}

// buildRight fills R[k] for k > center, which requires the sites right of the
// center to be right-normalized.
func (env *Environment) buildRight(m *MPS, w mpo.MPO) {
	for k := m.Len() - 1; k > m.Center(); k-- {
		env.R[k] = rExpression(env.R[k+1], w[k], m.Site(k))
	}
}

// Expectation returns <m|w|m>/<m|m>.
func Expectation(m *MPS, w mpo.MPO) float64 {
	if len(w) != m.Len() {
		panic(fmt.Sprintf("%d %d", len(w), m.Len()))
	}
	f := tensor.Ones(1, 1, 1)
	for i := range m.Len() {
		f = lExpression(f, w[i], m.Site(i))
	}
	if !slices.Equal(f.Shape(), []int{1, 1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0, 0) / InnerProduct(m, m)
}

// applyTwoSite applies the effective operator of sites k, k+1 to theta of
// shape {left, up1, up2, right}.
func applyTwoSite(l, w1, w2, r, theta *tensor.Dense) *tensor.Dense {
	x1 := tensor.Product(l, theta, [][2]int{{fBotAxis, 0}})
	x2 := tensor.Product(w1, x1, [][2]int{{mpoLeftAxis, fMidAxis}, {mpoDownAxis, 2}})
	x3 := tensor.Product(w2, x2, [][2]int{{mpoLeftAxis, 0}, {mpoDownAxis, 3}})
	x4 := tensor.Product(r, x3, [][2]int{{fMidAxis, 0}, {fBotAxis, 4}})
	return x4.Transpose(3, 2, 1, 0)
}

// applyOneSite applies the effective operator of a single site to c of shape
// {left, up, right}.
func applyOneSite(l, w, r, c *tensor.Dense) *tensor.Dense {
	x1 := tensor.Product(l, c, [][2]int{{fBotAxis, mpsLeftAxis}})
	x2 := tensor.Product(w, x1, [][2]int{{mpoLeftAxis, fMidAxis}, {mpoDownAxis, 2}})
	x3 := tensor.Product(r, x2, [][2]int{{fMidAxis, 0}, {fBotAxis, 3}})
	return x3.Transpose(2, 1, 0)
}
