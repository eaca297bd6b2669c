package pool

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	t.Parallel()
	a := New(1000)
	s := a.Stats()
	require.Equal(t, int64(100), s.IndexCap)
	require.Equal(t, int64(900), s.DataCap)

	f, err := a.Floats(100)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Len(t, f.Floats(), 100)
	i, err := a.Ints(10)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	require.Len(t, i.Ints(), 10)

	_, err = a.Floats(20)
	require.True(t, errors.Is(err, ErrExhausted), "%+v", err)
	_, err = a.Ints(3)
	require.True(t, errors.Is(err, ErrExhausted), "%+v", err)

	s = a.Stats()
	require.Equal(t, int64(800), s.DataUsed)
	require.Equal(t, int64(80), s.IndexUsed)
	require.Equal(t, 2, s.Live)

	f.Release()
	require.False(t, f.Live())
	require.Panics(t, func() { f.Floats() })
	require.Panics(t, f.Release)
	s = a.Stats()
	require.Equal(t, int64(0), s.DataUsed)
	require.Equal(t, int64(800), s.DataPeak)

	// The remaining handle is a leak.
	err = a.Close()
	var le *LifecycleError
	require.True(t, errors.As(err, &le), "%+v", err)
	require.Equal(t, 1, le.Leaked)
	require.Panics(t, func() { a.Floats(1) })
}

func TestScope(t *testing.T) {
	t.Parallel()
	a := New(1 << 20)
	s := a.Scope()
	for range 3 {
		if _, err := s.Floats(10); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	h, err := s.Ints(10)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Handles released early are skipped.
	h.Release()
	require.Equal(t, 3, a.Stats().Live)

	s.Release()
	require.Equal(t, 0, a.Stats().Live)
	require.NoError(t, a.Close())
}
