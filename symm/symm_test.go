package symm

import (
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumin/ftdmrg/errs"
)

func TestQN(t *testing.T) {
	t.Parallel()
	a := QN{N: 1, TwoSz: 1, Irrep: 3}
	b := QN{N: 2, TwoSz: -1, Irrep: 5}
	c := a.Add(b)
	require.Equal(t, QN{N: 3, TwoSz: 0, Irrep: 6}, c)
	require.Equal(t, a, c.Sub(b))
	require.Equal(t, b, c.Sub(a))
	require.Equal(t, "<N=3 2Sz=0 g=6>", c.String())

	qs := []QN{c, a, b, Vacuum, {N: 1, TwoSz: -1}}
	slices.SortFunc(qs, Compare)
	require.Equal(t, []QN{Vacuum, {N: 1, TwoSz: -1}, a, b, c}, qs)
}

func TestPointGroup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		order int
	}{
		{name: "c1", order: 1},
		{name: "D2h", order: 8},
		{name: " c2v ", order: 4},
		{name: "cs", order: 2},
	}
	for _, test := range tests {
		pg, err := ParsePointGroup(test.name)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		require.Equal(t, test.order, pg.Order())
	}

	_, err := ParsePointGroup("c3v")
	require.True(t, errors.Is(err, errs.ErrConfiguration), "%+v", err)

	// B3u x B2u = B1g in the Molpro numbering of d2h.
	g, err := D2h.Irreps([]int{2, 3, 4})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Equal(t, g[2], g[0]^g[1])

	_, err = C2v.Irrep(5)
	require.True(t, errors.Is(err, errs.ErrConfiguration), "%+v", err)
	_, err = C1.Irreps([]int{1, 0})
	require.True(t, errors.Is(err, errs.ErrConfiguration), "%+v", err)
}

func TestParseRepresentation(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]Representation{"": SU2{}, "SU2": SU2{}, "sz": SZ{}} {
		rep, err := ParseRepresentation(s)
		if err != nil {
			t.Fatalf("%+v", err)
		}
		require.Equal(t, want, rep)
		require.Equal(t, want.String(), rep.String())
	}
	_, err := ParseRepresentation("u1")
	require.True(t, errors.Is(err, errs.ErrConfiguration), "%+v", err)
}
