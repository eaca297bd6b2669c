package exactdiag

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	FnameShape = "shape.csv"
	FnameCOO   = "coo.csv"
)

type vRowCol struct {
	v   float64
	row int
	col int
}

// COO is a sparse matrix in coordinate format, kept in row major order.
type COO struct {
	rows int
	cols int
	Data []vRowCol

	m map[[2]int]float64
}

// M returns the sparse form of a dense matrix.
func M(dense mat.Matrix) *COO {
	rows, cols := dense.Dims()
	m := &COO{rows: rows, cols: cols, Data: make([]vRowCol, 0), m: make(map[[2]int]float64)}
	for i := range rows {
		for j := range cols {
			v := dense.At(i, j)
			if v == 0 {
				continue
			}
			m.Data = append(m.Data, vRowCol{v: v, row: i, col: j})
		}
	}
	return m
}

func COOZeros(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols, Data: make([]vRowCol, 0), m: make(map[[2]int]float64)}
}

func COOIdentity(rows int) *COO {
	m := COOZeros(rows, rows)
	for i := range rows {
		m.Data = append(m.Data, vRowCol{v: 1, row: i, col: i})
	}
	return m
}

func (m *COO) Rows() int { return m.rows }
func (m *COO) Cols() int { return m.cols }

func (a *COO) Equal(b *COO) bool {
	if a.rows != b.rows || a.cols != b.cols {
		return false
	}
	return slices.Equal(a.Data, b.Data)
}

// Add sets a = a + c*b.
func (a *COO) Add(c float64, b *COO) {
	if a.rows != b.rows || a.cols != b.cols {
		panic(fmt.Sprintf("%d %d %d %d", a.rows, a.cols, b.rows, b.cols))
	}
	clear(b.m)
	for _, v := range b.Data {
		b.m[[2]int{v.row, v.col}] = v.v
	}

	for i, av := range a.Data {
		byx := [2]int{av.row, av.col}
		bv := b.m[byx]
		delete(b.m, byx)

		a.Data[i].v = av.v + c*bv
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	for yx, bv := range b.m {
		a.Data = append(a.Data, vRowCol{v: c * bv, row: yx[0], col: yx[1]})
	}
	slices.SortFunc(a.Data, rowMajor)
	clear(b.m)
}

// Kron sets a to the Kronecker product of a and b.
func (a *COO) Kron(b *COO) {
	rows := a.rows * b.rows
	cols := a.cols * b.cols
	a.rows, a.cols = rows, cols

	prevElemNum := len(a.Data)
	for i := prevElemNum - 1; i >= 0; i-- {
		av := a.Data[i]
		a.Data[i].v = 0
		for _, bv := range b.Data {
			ky := av.row*b.rows + bv.row
			kx := av.col*b.cols + bv.col
			a.Data = append(a.Data, vRowCol{v: av.v * bv.v, row: ky, col: kx})
		}
	}

	a.Data = slices.DeleteFunc(a.Data, func(v vRowCol) bool {
		return v.v == 0
	})
	slices.SortFunc(a.Data, rowMajor)
}

// Dense returns the dense form of m.
func (m *COO) Dense() *mat.Dense {
	dense := mat.NewDense(m.rows, m.cols, nil)
	for _, v := range m.Data {
		dense.Set(v.row, v.col, v.v)
	}
	return dense
}

// WriteCOO writes the shape of m to FnameShape and its nonzero elements, one
// value,row,col line each, to FnameCOO in dir.
func (m *COO) WriteCOO(dir string) error {
	shapePath := filepath.Join(dir, FnameShape)
	if err := os.WriteFile(shapePath, []byte(fmt.Sprintf("%d,%d", m.rows, m.cols)), 0644); err != nil {
		return errors.Wrap(err, "")
	}

	cooPath := filepath.Join(dir, FnameCOO)
	cooF, err := os.Create(cooPath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	w := csv.NewWriter(cooF)
	for _, v := range m.Data {
		if err1 := w.Write([]string{strconv.FormatFloat(v.v, 'g', -1, 64), strconv.Itoa(v.row), strconv.Itoa(v.col)}); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}
	w.Flush()
	if err1 := w.Error(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}

	if err1 := cooF.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

// ReadCOO reads a matrix written by WriteCOO.
func ReadCOO(dir string) (*COO, error) {
	rows, cols, err := readShape(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := COOZeros(rows, cols)

	f, err := os.Open(filepath.Join(dir, FnameCOO))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	r := csv.NewReader(f)
	for i := 0; ; i++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", i))
		}
		if len(record) != 3 {
			return nil, errors.Errorf("%d %#v", i, record)
		}

		var vrc vRowCol
		if vrc.v, err = strconv.ParseFloat(record[0], 64); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d %#v", i, record))
		}
		if vrc.row, err = strconv.Atoi(record[1]); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d %#v", i, record))
		}
		if vrc.col, err = strconv.Atoi(record[2]); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d %#v", i, record))
		}
		m.Data = append(m.Data, vrc)
	}
	slices.SortFunc(m.Data, rowMajor)
	return m, nil
}

func readShape(dir string) (int, int, error) {
	f, err := os.Open(filepath.Join(dir, FnameShape))
	if err != nil {
		return -1, -1, errors.Wrap(err, "")
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return -1, -1, errors.Wrap(err, "")
	}
	if len(records) == 0 {
		return -1, -1, errors.Errorf("empty")
	}
	row := records[0]

	if len(row) != 2 {
		return -1, -1, errors.Errorf("%#v", row)
	}
	i, err := strconv.Atoi(row[0])
	if err != nil {
		return -1, -1, errors.Wrap(err, fmt.Sprintf("%#v", row))
	}
	j, err := strconv.Atoi(row[1])
	if err != nil {
		return -1, -1, errors.Wrap(err, fmt.Sprintf("%#v", row))
	}

	return i, j, nil
}

func rowMajor(a, b vRowCol) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}
