package mps

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

// Axes of the norm environment.
const (
	nTopAxis = 0
	nBotAxis = 1
)

// applySite extends the norm environment f over site a, with the operator o
// acting on it. A nil o is the identity.
func applySite(f, a *tensor.Dense, o *mat.Dense) *tensor.Dense {
	// x is of shape {top, up, right}.
	x := tensor.Product(f, a, [][2]int{{nBotAxis, mpsLeftAxis}})
	if o != nil {
		// x is of shape {up, top, right}.
		x = tensor.Product(tensor.FromMatrix(o, 4, 4), x, [][2]int{{1, 1}})
		return tensor.Product(a, x, [][2]int{{mpsLeftAxis, 1}, {mpsUpAxis, 0}})
	}
	return tensor.Product(a, x, [][2]int{{mpsLeftAxis, 0}, {mpsUpAxis, 1}})
}

func trace(f *tensor.Dense) float64 {
	s := f.Shape()
	if s[0] != s[1] {
		panic(fmt.Sprintf("%#v", s))
	}
	var tr float64
	for i := range s[0] {
		tr += f.At(i, i)
	}
	return tr
}

// OnePDM returns the spin-resolved one-particle density matrices
// dm[s][i][j] = <c+_{i s} c_{j s}> / <psi|psi> of the physical orbitals of
// an ancilla lattice state. With the spin-adapted representation both
// channels hold the spin-averaged matrix. A non-nil reorder is applied to
// both channels as dm[reorder][:, reorder].
// The state is not modified.
func OnePDM(ctx context.Context, state *MPS, nPhysical int, rep symm.Representation, reorder []int, threads int) ([2]*mat.Dense, error) {
	if state.Len() != 2*nPhysical {
		return [2]*mat.Dense{}, errs.Configf("state of %d sites for %d orbitals", state.Len(), nPhysical)
	}
	if reorder != nil {
		if err := CheckPermutation(reorder, nPhysical); err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
	}
	// The state is left untouched; a copy is canonicalized if needed.
	if state.Center() != 0 {
		clone, err := state.Clone()
		if err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
		defer clone.Release()
		if err := clone.Canonicalize(0); err != nil {
			return [2]*mat.Dense{}, errors.Wrap(err, "")
		}
		state = clone
	}
	c := state.Site(0)
	norm2 := tensor.Dot(c, c)
	if !(norm2 > 0) {
		return [2]*mat.Dense{}, errors.Errorf("norm %f", norm2)
	}

	// Sites right of the center are right-normalized, so only the part left
	// of an operator string needs an environment.
	envs := make([]*tensor.Dense, 0, state.Len())
	envs = append(envs, tensor.Ones(1, 1))
	for k := range state.Len() - 1 {
		envs = append(envs, applySite(envs[k], state.Site(k), nil))
	}

	rows := make([][][]float64, 2)
	for s := range rows {
		rows[s] = make([][]float64, nPhysical)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(threads, 1))
	for s := range 2 {
		for i := range nPhysical {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return errors.Wrap(err, "")
				}
				rows[s][i] = densityRow(state, envs[2*i], s, i, nPhysical)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return [2]*mat.Dense{}, errors.Wrap(err, "")
	}

	var dm [2]*mat.Dense
	for s := range dm {
		dm[s] = mat.NewDense(nPhysical, nPhysical, nil)
		for i, row := range rows[s] {
			for k, v := range row {
				j := i + k
				dm[s].Set(i, j, v/norm2)
				dm[s].Set(j, i, v/norm2)
			}
		}
	}

	if _, ok := rep.(symm.SU2); ok {
		var avg mat.Dense
		avg.Add(dm[0], dm[1])
		avg.Scale(0.5, &avg)
		dm = [2]*mat.Dense{mat.DenseCopyOf(&avg), mat.DenseCopyOf(&avg)}
	}
	if reorder != nil {
		dm = [2]*mat.Dense{Permute(dm[0], reorder), Permute(dm[1], reorder)}
	}
	return dm, nil
}

// densityRow returns <c+_{i s} c_{j s}> for j = i..n-1, unnormalized.
// The Jordan-Wigner string of c_j leaves parity factors on the physical sites
// i..j-1, while ancilla sites only carry the identity.
func densityRow(state *MPS, env *tensor.Dense, s, i, n int) []float64 {
	cre, ann := hamiltonian.Local(s, true), hamiltonian.Local(s, false)
	parity := hamiltonian.Parity()
	row := make([]float64, 0, n-i)

	var number mat.Dense
	number.Mul(cre, ann)
	diag := applySite(env, state.Site(2*i), &number)
	row = append(row, trace(diag))
	if i == n-1 {
		return row
	}

	var creP mat.Dense
	creP.Mul(cre, parity)
	f := applySite(env, state.Site(2*i), &creP)
	f = applySite(f, state.Site(2*i+1), nil)
	for j := i + 1; j < n; j++ {
		row = append(row, trace(applySite(f, state.Site(2*j), ann)))
		if j == n-1 {
			break
		}
		f = applySite(f, state.Site(2*j), parity)
		f = applySite(f, state.Site(2*j+1), nil)
	}
	return row
}

// CheckPermutation reports whether p is a permutation of n orbitals.
func CheckPermutation(p []int, n int) error {
	if len(p) != n {
		return errs.Configf("reorder of length %d for %d orbitals", len(p), n)
	}
	seen := make([]bool, n)
	for _, v := range p {
		if v < 0 || v >= n || seen[v] {
			return errs.Configf("reorder %v is not a permutation", p)
		}
		seen[v] = true
	}
	return nil
}

// Permute returns dm[p][:, p].
func Permute(dm mat.Matrix, p []int) *mat.Dense {
	out := mat.NewDense(len(p), len(p), nil)
	for a, pa := range p {
		for b, pb := range p {
			out.Set(a, b, dm.At(pa, pb))
		}
	}
	return out
}

// InversePermutation returns q with q[p[i]] = i.
func InversePermutation(p []int) []int {
	q := make([]int, len(p))
	for i, v := range p {
		q[v] = i
	}
	return q
}
