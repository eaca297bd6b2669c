package store

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/fcidump"
	"github.com/fumin/ftdmrg/hamiltonian"
	"github.com/fumin/ftdmrg/mps"
	"github.com/fumin/ftdmrg/pool"
	"github.com/fumin/ftdmrg/symm"
	"github.com/fumin/ftdmrg/tensor"
)

func evolved(t *testing.T, arena *pool.Arena, n int) *mps.MPS {
	f, err := fcidump.Hubbard(arena, n, n, 1, 4)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(f.Release)
	h, err := hamiltonian.Build("c1", symm.Vacuum, symm.QN{N: 2 * n}, n, f.OrbSym(), f)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	m, err := mps.InitializeThermal(arena, h)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	t.Cleanup(m.Release)
	opt := mps.NewEvolveOptions().NSteps(2).BetaStep(0.1).Mu(2).BondDims([]int{16})
	if _, err := mps.Evolve(context.Background(), m, h, opt); err != nil {
		t.Fatalf("%+v", err)
	}
	m.SetTag(mps.TagFinal)
	return m
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arena := pool.New(1 << 26)
	m := evolved(t, arena, 3)

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()
	if err := s.Save(ctx, m, "run", false); err != nil {
		t.Fatalf("%+v", err)
	}
	// Saving again replaces the previous rows.
	if err := s.Save(ctx, m, "run", true); err != nil {
		t.Fatalf("%+v", err)
	}

	got, info, err := s.Load(ctx, arena, mps.TagFinal)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer got.Release()
	require.Equal(t, "run", info.RunID)
	require.True(t, info.Complete)
	require.Equal(t, 2, info.Steps)
	require.Equal(t, m.Len(), info.Len)
	require.False(t, info.Updated.IsZero())

	require.Equal(t, mps.TagFinal, got.Tag())
	require.Equal(t, m.Center(), got.Center())
	require.Equal(t, m.Tau(), got.Tau())
	require.Equal(t, m.Steps(), got.Steps())
	for b := range m.Len() + 1 {
		require.Equal(t, m.Labels(b), got.Labels(b))
	}
	for i := range m.Len() {
		require.Equal(t, m.Phys(i), got.Phys(i))
		require.Equal(t, m.Site(i).Shape(), got.Site(i).Shape())
		if d := tensor.MaxAbsDiff(m.Site(i), got.Site(i)); d != 0 {
			t.Fatalf("%d %g", i, d)
		}
	}
}

func TestLoadUnnormalized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arena := pool.New(1 << 26)
	m := evolved(t, arena, 2)
	c := m.Site(m.Center()).Clone()
	c.Scale(2)
	if err := m.SetSite(m.Center(), c); err != nil {
		t.Fatalf("%+v", err)
	}

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()
	if err := s.Save(ctx, m, "run", true); err != nil {
		t.Fatalf("%+v", err)
	}
	live := arena.Stats().Live
	_, _, err = s.Load(ctx, arena, mps.TagFinal)
	require.True(t, errors.Is(err, errs.ErrFormat), "%+v", err)
	require.Equal(t, live, arena.Stats().Live)
}

func TestTagsDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arena := pool.New(1 << 26)
	m := evolved(t, arena, 2)

	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()

	_, _, err = s.Load(ctx, arena, mps.TagInit)
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)

	for _, tag := range []string{mps.TagInit, mps.TagFinal} {
		m.SetTag(tag)
		if err := s.Save(ctx, m, "run", true); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	tags, err := s.Tags(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Equal(t, []string{mps.TagFinal, mps.TagInit}, tags)

	if err := s.Delete(ctx, mps.TagInit); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("%+v", err)
	}
	tags, err = s.Tags(ctx)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Equal(t, []string{mps.TagFinal}, tags)
	_, err = s.Info(ctx, mps.TagInit)
	require.True(t, errors.Is(err, ErrNotFound), "%+v", err)

	m.SetTag("")
	require.Error(t, s.Save(ctx, m, "run", true))
}

func TestReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	arena := pool.New(1 << 26)
	m := evolved(t, arena, 2)
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Save(ctx, m, "run", false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("%+v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	defer s.Close()
	info, err := s.Info(ctx, mps.TagFinal)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.False(t, info.Complete)
	require.Equal(t, m.Tau(), info.Tau)
}
