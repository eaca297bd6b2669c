// Package pool implements the fixed-size memory arena that backs integral and
// MPS tensor storage.
//
// An Arena is created once per computation with a total byte budget, split
// 10% for index data and 90% for floating point data. Every allocation is a
// Handle that must be released exactly once. Releasing twice, or reading a
// released handle, panics with a *LifecycleError: a corrupted pool would
// otherwise silently produce wrong numbers downstream.
package pool

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

const (
	// IndexFraction is the share of the budget reserved for index data.
	IndexFraction = 0.1

	floatBytes = 8
	intBytes   = 8
)

// ErrExhausted is returned when an allocation does not fit in the remaining budget.
var ErrExhausted = errors.New("pool exhausted")

// LifecycleError reports a double release, a use after release, or leaked handles.
type LifecycleError struct {
	Op     string
	Handle int
	Leaked int
}

func (e *LifecycleError) Error() string {
	if e.Leaked > 0 {
		return fmt.Sprintf("pool: %s: %d handles never released", e.Op, e.Leaked)
	}
	return fmt.Sprintf("pool: %s: handle %d", e.Op, e.Handle)
}

// Allocator hands out pooled storage.
type Allocator interface {
	Floats(n int) (*Handle, error)
	Ints(n int) (*Handle, error)
}

// Stats is a snapshot of arena usage in bytes.
type Stats struct {
	IndexCap, IndexUsed int64
	DataCap, DataUsed   int64
	DataPeak            int64
	Live                int
}

// Arena is a bounded allocator with explicit handle lifecycles.
type Arena struct {
	mu sync.Mutex

	indexCap, dataCap   int64
	indexUsed, dataUsed int64
	dataPeak            int64

	next   int
	live   map[int]*Handle
	closed bool
}

// New returns an arena with a total budget of total bytes.
func New(total int64) *Arena {
	index := int64(float64(total) * IndexFraction)
	a := &Arena{
		indexCap: index,
		dataCap:  total - index,
		live:     make(map[int]*Handle),
	}
	return a
}

// Floats allocates n float64 values from the data part of the arena.
func (a *Arena) Floats(n int) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkOpen("floats")

	size := int64(n) * floatBytes
	if a.dataUsed+size > a.dataCap {
		return nil, errors.Wrap(ErrExhausted, fmt.Sprintf("data %d+%d > %d", a.dataUsed, size, a.dataCap))
	}
	a.dataUsed += size
	a.dataPeak = max(a.dataPeak, a.dataUsed)

	h := &Handle{arena: a, id: a.next, floats: make([]float64, n), size: size}
	a.next++
	a.live[h.id] = h
	return h, nil
}

// Ints allocates n int values from the index part of the arena.
func (a *Arena) Ints(n int) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkOpen("ints")

	size := int64(n) * intBytes
	if a.indexUsed+size > a.indexCap {
		return nil, errors.Wrap(ErrExhausted, fmt.Sprintf("index %d+%d > %d", a.indexUsed, size, a.indexCap))
	}
	a.indexUsed += size

	h := &Handle{arena: a, id: a.next, ints: make([]int, n), size: size, index: true}
	a.next++
	a.live[h.id] = h
	return h, nil
}

// Stats returns the current usage.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		IndexCap: a.indexCap, IndexUsed: a.indexUsed,
		DataCap: a.dataCap, DataUsed: a.dataUsed,
		DataPeak: a.dataPeak,
		Live:     len(a.live),
	}
}

// Close tears the arena down. Handles still alive at this point are leaks and
// are reported as a *LifecycleError; they are reclaimed regardless.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkOpen("close")
	a.closed = true

	leaked := len(a.live)
	for id, h := range a.live {
		h.released = true
		h.floats, h.ints = nil, nil
		delete(a.live, id)
	}
	a.indexUsed, a.dataUsed = 0, 0
	if leaked > 0 {
		return errors.WithStack(&LifecycleError{Op: "close", Leaked: leaked})
	}
	return nil
}

// Scope returns an allocator whose handles are all released by Scope.Release.
func (a *Arena) Scope() *Scope {
	return &Scope{alloc: a}
}

func (a *Arena) checkOpen(op string) {
	if a.closed {
		panic(&LifecycleError{Op: op + " after close", Handle: -1})
	}
}

func (a *Arena) release(h *Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h.released {
		panic(&LifecycleError{Op: "double release", Handle: h.id})
	}
	h.released = true
	h.floats, h.ints = nil, nil
	delete(a.live, h.id)
	if h.index {
		a.indexUsed -= h.size
	} else {
		a.dataUsed -= h.size
	}
}

func (a *Arena) isLive(h *Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !h.released
}

// Handle is one pooled allocation.
type Handle struct {
	arena *Arena
	id    int
	size  int64
	index bool

	floats   []float64
	ints     []int
	released bool
}

// Floats returns the storage of a float handle.
func (h *Handle) Floats() []float64 {
	if !h.arena.isLive(h) {
		panic(&LifecycleError{Op: "use after release", Handle: h.id})
	}
	return h.floats
}

// Ints returns the storage of an index handle.
func (h *Handle) Ints() []int {
	if !h.arena.isLive(h) {
		panic(&LifecycleError{Op: "use after release", Handle: h.id})
	}
	return h.ints
}

// Live reports whether the handle has not been released yet.
func (h *Handle) Live() bool { return h.arena.isLive(h) }

// Release returns the handle's storage to the arena.
func (h *Handle) Release() { h.arena.release(h) }

// Scope tracks handles so that a single deferred Release frees all of them,
// on error paths included.
type Scope struct {
	alloc   Allocator
	handles []*Handle
}

func (s *Scope) Floats(n int) (*Handle, error) {
	h, err := s.alloc.Floats(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *Scope) Ints(n int) (*Handle, error) {
	h, err := s.alloc.Ints(n)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	s.handles = append(s.handles, h)
	return h, nil
}

// Release frees, in reverse order, every handle of the scope that is still alive.
func (s *Scope) Release() {
	for i := len(s.handles) - 1; i >= 0; i-- {
		if h := s.handles[i]; h.Live() {
			h.Release()
		}
	}
	s.handles = s.handles[:0]
}
