// Package tensor implements real dense tensors and the contractions used by
// the MPS and MPO code, on top of gonum.
package tensor

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a row-major dense tensor.
type Dense struct {
	shape []int
	data  []float64
}

// Zeros returns a zero tensor of the given shape.
func Zeros(shape ...int) *Dense {
	return &Dense{shape: slices.Clone(shape), data: make([]float64, size(shape))}
}

// New wraps data, which must have exactly the number of elements of shape.
func New(data []float64, shape ...int) *Dense {
	if len(data) != size(shape) {
		panic(fmt.Sprintf("%d %#v", len(data), shape))
	}
	return &Dense{shape: slices.Clone(shape), data: data}
}

// Ones returns a tensor filled with ones.
func Ones(shape ...int) *Dense {
	t := Zeros(shape...)
	for i := range t.data {
		t.data[i] = 1
	}
	return t
}

func (t *Dense) Shape() []int    { return t.shape }
func (t *Dense) Data() []float64 { return t.data }
func (t *Dense) Size() int       { return len(t.data) }

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", idx, t.shape))
	}
	off := 0
	for i, d := range t.shape {
		if idx[i] < 0 || idx[i] >= d {
			panic(fmt.Sprintf("%#v %#v", idx, t.shape))
		}
		off = off*d + idx[i]
	}
	return off
}

func (t *Dense) At(idx ...int) float64 { return t.data[t.offset(idx)] }

func (t *Dense) SetAt(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// Reshape returns a view with a new shape. At most one dimension may be -1.
func (t *Dense) Reshape(shape ...int) *Dense {
	shape = slices.Clone(shape)
	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			if infer >= 0 {
				panic(fmt.Sprintf("%#v", shape))
			}
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 {
			panic(fmt.Sprintf("%#v", shape))
		}
		shape[infer] = len(t.data) / known
	}
	if size(shape) != len(t.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, shape))
	}
	return &Dense{shape: shape, data: t.data}
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Transpose returns a copy whose axis i is axis perm[i] of t.
func (t *Dense) Transpose(perm ...int) *Dense {
	if len(perm) != len(t.shape) {
		panic(fmt.Sprintf("%#v %#v", perm, t.shape))
	}
	identity := true
	for i, p := range perm {
		if p != i {
			identity = false
		}
	}
	if identity {
		return t.Clone()
	}

	shape := make([]int, len(perm))
	for i, p := range perm {
		shape[i] = t.shape[p]
	}
	out := Zeros(shape...)
	if len(out.data) == 0 {
		return out
	}

	// srcStrides[i] is the stride in t of output axis i.
	strides := stridesOf(t.shape)
	srcStrides := make([]int, len(perm))
	for i, p := range perm {
		srcStrides[i] = strides[p]
	}

	idx := make([]int, len(shape))
	src := 0
	last := len(shape) - 1
	for dst := range out.data {
		out.data[dst] = t.data[src]

		// Advance the output multi-index and the source offset together.
		for ax := last; ax >= 0; ax-- {
			idx[ax]++
			src += srcStrides[ax]
			if idx[ax] < shape[ax] {
				break
			}
			src -= srcStrides[ax] * shape[ax]
			idx[ax] = 0
		}
	}
	return out
}

// Scale multiplies t in place by c and returns t.
func (t *Dense) Scale(c float64) *Dense {
	floats.Scale(c, t.data)
	return t
}

// AddScaled sets t = t + c*u in place and returns t.
func (t *Dense) AddScaled(c float64, u *Dense) *Dense {
	if len(t.data) != len(u.data) {
		panic(fmt.Sprintf("%#v %#v", t.shape, u.shape))
	}
	floats.AddScaled(t.data, c, u.data)
	return t
}

// Norm returns the Frobenius norm.
func (t *Dense) Norm() float64 {
	if len(t.data) == 0 {
		return 0
	}
	return floats.Norm(t.data, 2)
}

// Normalize scales t to unit norm and returns the previous norm.
func (t *Dense) Normalize() float64 {
	n := t.Norm()
	if n > 0 {
		t.Scale(1 / n)
	}
	return n
}

// Dot returns the sum of elementwise products.
func Dot(a, b *Dense) float64 {
	if len(a.data) != len(b.data) {
		panic(fmt.Sprintf("%#v %#v", a.shape, b.shape))
	}
	if len(a.data) == 0 {
		return 0
	}
	return floats.Dot(a.data, b.data)
}

// MaxAbsDiff returns the largest elementwise difference between a and b.
func MaxAbsDiff(a, b *Dense) float64 {
	if !slices.Equal(a.shape, b.shape) {
		return math.Inf(1)
	}
	var d float64
	for i, v := range a.data {
		d = max(d, math.Abs(v-b.data[i]))
	}
	return d
}

// Product contracts a and b over the axis pairs in axes. The result carries
// the free axes of a in order, followed by the free axes of b in order.
func Product(a, b *Dense, axes [][2]int) *Dense {
	contractedA := make([]bool, len(a.shape))
	contractedB := make([]bool, len(b.shape))
	k := 1
	for _, ab := range axes {
		if a.shape[ab[0]] != b.shape[ab[1]] {
			panic(fmt.Sprintf("%#v %#v %#v", a.shape, b.shape, axes))
		}
		contractedA[ab[0]] = true
		contractedB[ab[1]] = true
		k *= a.shape[ab[0]]
	}

	permA := make([]int, 0, len(a.shape))
	shape := make([]int, 0, len(a.shape)+len(b.shape)-2*len(axes))
	m := 1
	for i, d := range a.shape {
		if !contractedA[i] {
			permA = append(permA, i)
			shape = append(shape, d)
			m *= d
		}
	}
	permB := make([]int, 0, len(b.shape))
	for _, ab := range axes {
		permA = append(permA, ab[0])
		permB = append(permB, ab[1])
	}
	n := 1
	for i, d := range b.shape {
		if !contractedB[i] {
			permB = append(permB, i)
			shape = append(shape, d)
			n *= d
		}
	}

	c := Zeros(shape...)
	if m == 0 || n == 0 || k == 0 {
		return c
	}
	at := transposeIfNeeded(a, permA)
	bt := transposeIfNeeded(b, permB)
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas64.General{Rows: m, Cols: k, Stride: k, Data: at.data},
		blas64.General{Rows: k, Cols: n, Stride: n, Data: bt.data},
		0,
		blas64.General{Rows: m, Cols: n, Stride: n, Data: c.data})
	return c
}

func transposeIfNeeded(t *Dense, perm []int) *Dense {
	for i, p := range perm {
		if p != i {
			return t.Transpose(perm...)
		}
	}
	return t
}

// Matrix returns a gonum view of t as a rows x (size/rows) matrix sharing storage.
func (t *Dense) Matrix(rows int) *mat.Dense {
	if rows <= 0 || len(t.data)%rows != 0 || len(t.data) == 0 {
		panic(fmt.Sprintf("%d %#v", rows, t.shape))
	}
	return mat.NewDense(rows, len(t.data)/rows, t.data)
}

// FromMatrix copies m into a tensor of the given shape.
func FromMatrix(m mat.Matrix, shape ...int) *Dense {
	r, c := m.Dims()
	t := Zeros(r, c)
	for i := range r {
		for j := range c {
			t.data[i*c+j] = m.At(i, j)
		}
	}
	return t.Reshape(shape...)
}

func (t *Dense) String() string {
	shapeStrs := make([]string, 0, len(t.shape))
	for _, d := range t.shape {
		shapeStrs = append(shapeStrs, strconv.Itoa(d))
	}
	ss := make([]string, 0, len(t.data))
	for _, v := range t.data {
		ss = append(ss, strconv.FormatFloat(v, 'g', 6, 64))
	}
	return fmt.Sprintf("[%s][%s]", strings.Join(shapeStrs, ","), strings.Join(ss, ","))
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("%#v", shape))
		}
		n *= d
	}
	return n
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}
