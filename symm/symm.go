// Package symm holds quantum numbers, abelian point groups and the choice of
// spin representation.
package symm

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/fumin/ftdmrg/errs"
)

// QN labels a symmetry sector: particle number, twice the spin projection and
// the irreducible representation of an abelian point group. Irreps are encoded
// so that the direct product is a bitwise XOR.
type QN struct {
	N     int   `json:"n"`
	TwoSz int   `json:"twosz"`
	Irrep uint8 `json:"irrep"`
}

// Vacuum is the empty sector.
var Vacuum = QN{}

func (q QN) Add(o QN) QN {
	return QN{N: q.N + o.N, TwoSz: q.TwoSz + o.TwoSz, Irrep: q.Irrep ^ o.Irrep}
}

// Sub returns the sector x such that o.Add(x) == q.
func (q QN) Sub(o QN) QN {
	return QN{N: q.N - o.N, TwoSz: q.TwoSz - o.TwoSz, Irrep: q.Irrep ^ o.Irrep}
}

func (q QN) String() string {
	return fmt.Sprintf("<N=%d 2Sz=%d g=%d>", q.N, q.TwoSz, q.Irrep)
}

// Compare orders sectors by N, then 2Sz, then irrep.
func Compare(a, b QN) int {
	if c := cmp.Compare(a.N, b.N); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TwoSz, b.TwoSz); c != 0 {
		return c
	}
	return cmp.Compare(a.Irrep, b.Irrep)
}

// PointGroup is one of d2h and its subgroups, or c1.
type PointGroup string

const (
	C1  PointGroup = "c1"
	Ci  PointGroup = "ci"
	C2  PointGroup = "c2"
	Cs  PointGroup = "cs"
	C2v PointGroup = "c2v"
	C2h PointGroup = "c2h"
	D2  PointGroup = "d2"
	D2h PointGroup = "d2h"
)

var groupOrder = map[PointGroup]int{
	C1: 1, Ci: 2, C2: 2, Cs: 2,
	C2v: 4, C2h: 4, D2: 4, D2h: 8,
}

// ParsePointGroup validates a point group name.
func ParsePointGroup(name string) (PointGroup, error) {
	pg := PointGroup(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := groupOrder[pg]; !ok {
		return "", &errs.SymmetryError{PointGroup: name, Reason: "only d2h, its subgroups and c1 are supported"}
	}
	return pg, nil
}

// Order returns the number of irreps of the group.
func (pg PointGroup) Order() int { return groupOrder[pg] }

// Irrep converts a 1-based FCIDUMP (Molpro) irrep label into its XOR
// encoding. Molpro numbers irreps so that the product of i and j is
// ((i-1) xor (j-1)) + 1 in every abelian group.
func (pg PointGroup) Irrep(label int) (uint8, error) {
	if label < 1 || label > pg.Order() {
		return 0, &errs.SymmetryError{PointGroup: string(pg), Reason: fmt.Sprintf("irrep %d out of range 1..%d", label, pg.Order())}
	}
	return uint8(label - 1), nil
}

// Irreps converts a slice of FCIDUMP labels.
func (pg PointGroup) Irreps(labels []int) ([]uint8, error) {
	out := make([]uint8, 0, len(labels))
	for _, l := range labels {
		g, err := pg.Irrep(l)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// Representation selects how spin is carried. It is a closed variant: the only
// implementations are SU2 and SZ.
type Representation interface {
	isRepresentation()
	String() string
}

// SU2 is the spin-adapted representation. It requires spin-restricted
// integrals and reports a spin-averaged one-particle density matrix.
type SU2 struct{}

// SZ is the spin-explicit representation. It accepts restricted or
// unrestricted integrals and reports each spin channel separately.
type SZ struct{}

func (SU2) isRepresentation() {}
func (SZ) isRepresentation()  {}

func (SU2) String() string { return "su2" }
func (SZ) String() string  { return "sz" }

// ParseRepresentation accepts "su2" or "sz".
func ParseRepresentation(s string) (Representation, error) {
	switch strings.ToLower(s) {
	case "su2", "":
		return SU2{}, nil
	case "sz":
		return SZ{}, nil
	default:
		return nil, errs.Configf("unknown representation %q", s)
	}
}
