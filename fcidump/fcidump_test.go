package fcidump

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/pool"
)

const h2 = ` &FCI NORB=  2,NELEC= 2,MS2=0,
  ORBSYM=1,5,
  ISYM=1,
 &END
  0.6744931033260E+00   1   1   1   1
  0.1810270593E+00   2   1   2   1
  0.6634720448D+00   2   2   1   1
  0.6973979494E+00   2   2   2   2
 -0.1252477303E+01   1   1   0   0
 -0.4759344611E+00   2   2   0   0
  0.7137758743E+00   0   0   0   0
`

func TestParseRestricted(t *testing.T) {
	t.Parallel()
	arena := pool.New(1 << 20)
	f, err := Parse(arena, strings.NewReader(h2))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Release()

	require.Equal(t, 2, f.NSites())
	require.Equal(t, 2, f.NElec())
	require.Equal(t, 0, f.TwoS())
	require.Equal(t, []int{1, 5}, f.OrbSym())
	require.False(t, f.Unrestricted())
	require.InDelta(t, 0.7137758743, f.ECore(), 1e-12)
	require.InDelta(t, -1.252477303, f.T(0, 0, 0), 1e-12)
	require.InDelta(t, -1.252477303, f.T(1, 0, 0), 1e-12)
	require.Equal(t, 0.0, f.T(0, 0, 1))

	// Every permutation of (21|21) is the same integral.
	for _, ijkl := range [][4]int{{1, 0, 1, 0}, {0, 1, 1, 0}, {1, 0, 0, 1}, {0, 1, 0, 1}} {
		require.InDelta(t, 0.1810270593, f.V(0, 1, ijkl[0], ijkl[1], ijkl[2], ijkl[3]), 1e-12)
	}
	require.InDelta(t, 0.6634720448, f.V(0, 0, 0, 0, 1, 1), 1e-12)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		unrestricted bool
	}{
		{unrestricted: false},
		{unrestricted: true},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%t", test.unrestricted), func(t *testing.T) {
			t.Parallel()
			arena := pool.New(1 << 20)
			n := 3
			h := func(shift float64) *mat.Dense {
				m := mat.NewDense(n, n, nil)
				for i := range n {
					for j := range n {
						m.Set(i, j, shift+float64(i+j)/10)
					}
				}
				return m
			}
			g8 := func(shift float64) []float64 {
				g := make([]float64, Len8(n))
				for i := range g {
					g[i] = shift + float64(i)/100
				}
				return g
			}
			orbSym := []int{1, 1, 4}

			var f *FCIDUMP
			var err error
			if test.unrestricted {
				g4 := make([]float64, Len4(n))
				for i := range g4 {
					g4[i] = 0.5 + float64(i)/1000
				}
				f, err = InitializeSZ(arena, n, 4, 2, 1, orbSym, 1.5, [2]mat.Matrix{h(-1), h(-2)}, [3][]float64{g8(0.1), g8(0.2), g4}, DefaultTol)
			} else {
				f, err = InitializeSU2(arena, n, 4, 0, 1, orbSym, 1.5, h(-1), g8(0.1), DefaultTol)
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			defer f.Release()

			var buf bytes.Buffer
			if err := Write(&buf, f); err != nil {
				t.Fatalf("%+v", err)
			}
			g, err := Parse(arena, &buf)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			defer g.Release()

			require.Equal(t, f.Unrestricted(), g.Unrestricted())
			require.Equal(t, f.OrbSym(), g.OrbSym())
			require.Equal(t, f.TwoS(), g.TwoS())
			require.InDelta(t, f.ECore(), g.ECore(), 1e-15)
			for sl := range 2 {
				for i := range n {
					for j := range n {
						require.InDelta(t, f.T(sl, i, j), g.T(sl, i, j), 1e-15)
					}
				}
				for sr := range 2 {
					for i := range n {
						for j := range n {
							for k := range n {
								for l := range n {
									require.InDelta(t, f.V(sl, sr, i, j, k, l), g.V(sl, sr, i, j, k, l), 1e-15)
								}
							}
						}
					}
				}
			}
		})
	}
}

func TestAsymmetricH1E(t *testing.T) {
	t.Parallel()
	arena := pool.New(1 << 20)
	h := mat.NewDense(2, 2, []float64{1, 0.5, 0.5 + 1e-9, 2})
	_, err := InitializeSU2(arena, 2, 2, 0, 1, []int{1, 1}, 0, h, make([]float64, Len8(2)), DefaultTol)
	if !errors.Is(err, errs.ErrNumericalInconsistency) {
		t.Fatalf("%+v", err)
	}
	var target *errs.NumericalInconsistencyError
	require.True(t, errors.As(err, &target))
	require.Equal(t, 1, target.I)
	require.Equal(t, 0, target.J)

	// Nothing leaks on the error path.
	require.NoError(t, arena.Close())
}

func TestZeroBelowTolerance(t *testing.T) {
	t.Parallel()
	arena := pool.New(1 << 20)
	h := mat.NewDense(2, 2, []float64{1, 1e-15, 1e-15, 2})
	f, err := InitializeSU2(arena, 2, 2, 0, 1, []int{1, 1}, 0, h, make([]float64, Len8(2)), DefaultTol)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer f.Release()
	require.Equal(t, 0.0, f.T(0, 0, 1))
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		line int
	}{
		{name: "noheader", text: "  1.0 1 1 1 1\n", line: 1},
		{name: "fields", text: " &FCI NORB=1,NELEC=2,\n &END\n 1.0 1 1 1\n", line: 3},
		{name: "range", text: " &FCI NORB=1,NELEC=2,\n &END\n 1.0 2 1 1 1\n", line: 3},
		{name: "value", text: " &FCI NORB=1,NELEC=2,\n &END\n x 1 1 1 1\n", line: 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			arena := pool.New(1 << 20)
			_, err := Parse(arena, strings.NewReader(test.text))
			if !errors.Is(err, errs.ErrFormat) {
				t.Fatalf("%+v", err)
			}
			var target *errs.FormatError
			require.True(t, errors.As(err, &target))
			require.Equal(t, test.line, target.Line)
		})
	}
}

func TestSpinConfiguration(t *testing.T) {
	t.Parallel()
	arena := pool.New(1 << 20)
	h := mat.NewDense(2, 2, nil)
	_, err := InitializeSU2(arena, 2, 3, 0, 1, []int{1, 1}, 0, h, make([]float64, Len8(2)), DefaultTol)
	if !errors.Is(err, errs.ErrConfiguration) {
		t.Fatalf("%+v", err)
	}
}
