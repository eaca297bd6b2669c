package mps

import (
	"fmt"
	"slices"

	ctensor "github.com/fumin/tensor"

	"github.com/fumin/ftdmrg/tensor"
)

// Overlap computes <x|y> in single precision complex arithmetic. It is an
// independent check of InnerProduct and of states read back from disk.
func Overlap(x, y *MPS) complex64 {
	if x.Len() != y.Len() {
		panic(fmt.Sprintf("%d %d", x.Len(), y.Len()))
	}

	bufs := [2]*ctensor.Dense{ctensor.Zeros(1), ctensor.Zeros(1)}
	f := bufs[0].Reset(1, 1)
	for ijk := range f.All() {
		f.SetAt(ijk, 1)
	}
	const fTopAxis, fBottomAxis = 0, 1
	for i := range x.Len() {
		xi, yi := toComplex(x.Site(i)), toComplex(y.Site(i))
		fyi := ctensor.Contract(bufs[1], f, yi, [][2]int{{fBottomAxis, mpsLeftAxis}})
		ctensor.Contract(f, xi.Conj(), fyi, [][2]int{{mpsLeftAxis, fTopAxis}, {mpsUpAxis, mpsUpAxis}})
	}

	if !slices.Equal(f.Shape(), []int{1, 1}) {
		panic(fmt.Sprintf("%#v", f.Shape()))
	}
	return f.At(0, 0)
}

func toComplex(t *tensor.Dense) *ctensor.Dense {
	c := ctensor.Zeros(t.Shape()...)
	for ijk := range c.All() {
		c.SetAt(ijk, complex(float32(t.At(ijk...)), 0))
	}
	return c
}
