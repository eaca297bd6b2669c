package hamiltonian

import (
	"gonum.org/v1/gonum/mat"
)

// Local operator matrices in the basis |0>, |up>, |dn>, |up dn>, indexed as
// M[out][in].
var (
	identity = [4][4]float64{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	// parity is (-1)^n, the Jordan-Wigner string factor.
	parity = [4][4]float64{
		{1, 0, 0, 0},
		{0, -1, 0, 0},
		{0, 0, -1, 0},
		{0, 0, 0, 1},
	}
	creUp = [4][4]float64{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 1, 0},
	}
	creDn = [4][4]float64{
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, -1, 0, 0},
	}
)

func dense(a [4][4]float64) *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := range 4 {
		for j := range 4 {
			m.Set(i, j, a[i][j])
		}
	}
	return m
}

// Identity returns the local identity.
func Identity() *mat.Dense { return dense(identity) }

// Parity returns the local fermion parity.
func Parity() *mat.Dense { return dense(parity) }

// Local returns the on-site matrix of a creation or annihilation operator.
func Local(spin int, dagger bool) *mat.Dense {
	m := dense(creUp)
	if spin == Down {
		m = dense(creDn)
	}
	if !dagger {
		return mat.DenseCopyOf(m.T())
	}
	return m
}

// LocalFactors returns, for each of the nSites physical sites, the local
// factor of the term under the Jordan-Wigner mapping. The operator of mode m
// on site p acts as parity on sites before p, as its local matrix on p and as
// the identity after p; the term is the site-wise ordered product of these
// factors. The coefficient is multiplied into the first site.
func LocalFactors(t Term, nSites int) []*mat.Dense {
	factors := make([]*mat.Dense, 0, nSites)
	for k := range nSites {
		f := Identity()
		for _, o := range t.Ops {
			var g *mat.Dense
			switch {
			case k < o.Site:
				g = Parity()
			case k == o.Site:
				g = Local(o.Spin, o.Dagger)
			default:
				continue
			}
			var prod mat.Dense
			prod.Mul(f, g)
			f = &prod
		}
		factors = append(factors, f)
	}
	factors[0].Scale(t.Coeff, factors[0])
	return factors
}
