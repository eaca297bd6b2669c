package fcidump

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ftdmrg/errs"
	"github.com/fumin/ftdmrg/pool"
)

// Sections of an unrestricted file, each closed by a line with all indices zero.
const (
	sectionAA = iota
	sectionBB
	sectionAB
	sectionA
	sectionB
	sectionCore
)

// Header is the namelist at the top of a FCIDUMP file.
type Header struct {
	NOrb   int
	NElec  int
	MS2    int
	ISym   int
	IUHF   bool
	OrbSym []int
}

// Read reads a FCIDUMP file.
func Read(alloc pool.Allocator, filename string) (*FCIDUMP, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()

	fd, err := Parse(alloc, f)
	if err != nil {
		return nil, errors.Wrap(err, filename)
	}
	return fd, nil
}

// Parse parses FCIDUMP content.
func Parse(alloc pool.Allocator, r io.Reader) (*FCIDUMP, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	var headerText strings.Builder
	ended := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		upper := strings.ToUpper(line)
		if strings.HasSuffix(upper, "&END") || strings.HasSuffix(upper, "/") {
			end := len(line) - len("/")
			if strings.HasSuffix(upper, "&END") {
				end = len(line) - len("&END")
			}
			headerText.WriteString(" ")
			headerText.WriteString(line[:end])
			ended = true
			break
		}
		headerText.WriteString(" ")
		headerText.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if !ended {
		return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Reason: "namelist header is not terminated"})
	}
	h, err := ParseHeader(headerText.String())
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	n := h.NOrb
	nSpin := 1
	if h.IUHF {
		nSpin = 2
	}
	h1e := make([]*mat.Dense, nSpin)
	for s := range h1e {
		h1e[s] = mat.NewDense(n, n, nil)
	}
	g2e := [][]float64{make([]float64, Len8(n))}
	if h.IUHF {
		g2e = [][]float64{make([]float64, Len8(n)), make([]float64, Len8(n)), make([]float64, Len4(n))}
	}
	var eCore float64

	section := sectionAA
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 5 {
			return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: "want a value and four indices"})
		}
		v, err := parseFloat(fields[0])
		if err != nil {
			return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: err.Error()})
		}
		var idx [4]int
		for a := range idx {
			idx[a], err = strconv.Atoi(fields[a+1])
			if err != nil {
				return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: err.Error()})
			}
			if idx[a] < 0 || idx[a] > n {
				return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: fmt.Sprintf("index %d out of range 0..%d", idx[a], n)})
			}
		}
		i, j, k, l := idx[0]-1, idx[1]-1, idx[2]-1, idx[3]-1

		switch {
		case idx == [4]int{}:
			if h.IUHF && section < sectionCore {
				section++
				continue
			}
			eCore = v
		case k >= 0 && l >= 0 && i >= 0 && j >= 0:
			switch {
			case !h.IUHF:
				g2e[0][Index8(i, j, k, l)] = v
			case section == sectionAA || section == sectionBB:
				g2e[section][Index8(i, j, k, l)] = v
			case section == sectionAB:
				g2e[2][Index4(n, i, j, k, l)] = v
			default:
				return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: fmt.Sprintf("two-electron integral in section %d", section)})
			}
		case i >= 0 && j >= 0 && k < 0 && l < 0:
			s := 0
			if h.IUHF {
				switch section {
				case sectionA:
				case sectionB:
					s = 1
				default:
					return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: fmt.Sprintf("one-electron integral in section %d", section)})
				}
			}
			h1e[s].Set(i, j, v)
			h1e[s].Set(j, i, v)
		default:
			return nil, errors.WithStack(&errs.FormatError{Line: lineNo, Text: text, Reason: "unsupported index pattern"})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	if !h.IUHF {
		fd, err := InitializeSU2(alloc, n, h.NElec, h.MS2, h.ISym, h.OrbSym, eCore, h1e[0], g2e[0], DefaultTol)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		return fd, nil
	}
	fd, err := InitializeSZ(alloc, n, h.NElec, h.MS2, h.ISym, h.OrbSym, eCore, [2]mat.Matrix{h1e[0], h1e[1]}, [3][]float64{g2e[0], g2e[1], g2e[2]}, DefaultTol)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return fd, nil
}

// parseFloat accepts Fortran D exponents.
func parseFloat(s string) (float64, error) {
	s = strings.NewReplacer("D", "E", "d", "e").Replace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrap(err, "")
	}
	return v, nil
}

// ParseHeader parses the namelist text between &FCI and &END.
func ParseHeader(text string) (Header, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(strings.ToUpper(text), "&FCI") {
		return Header{}, errors.WithStack(&errs.FormatError{Line: 1, Text: firstN(text, 40), Reason: "missing &FCI"})
	}
	text = text[len("&FCI"):]
	text = strings.NewReplacer(",", " ", "=", " = ").Replace(text)
	tokens := strings.Fields(text)

	values := make(map[string][]string)
	key := ""
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) && tokens[i+1] == "=" {
			key = strings.ToUpper(tokens[i])
			values[key] = nil
			i++
			continue
		}
		if key == "" {
			return Header{}, errors.WithStack(&errs.FormatError{Text: tokens[i], Reason: "value before any key"})
		}
		values[key] = append(values[key], tokens[i])
	}

	h := Header{ISym: 1}
	ints := map[string]*int{"NORB": &h.NOrb, "NELEC": &h.NElec, "MS2": &h.MS2, "ISYM": &h.ISym}
	for k, p := range ints {
		vs, ok := values[k]
		if !ok {
			if k == "NORB" || k == "NELEC" {
				return Header{}, errors.WithStack(&errs.FormatError{Reason: fmt.Sprintf("missing %s", k)})
			}
			continue
		}
		if len(vs) != 1 {
			return Header{}, errors.WithStack(&errs.FormatError{Reason: fmt.Sprintf("%s has %d values", k, len(vs))})
		}
		v, err := strconv.Atoi(vs[0])
		if err != nil {
			return Header{}, errors.WithStack(&errs.FormatError{Text: vs[0], Reason: err.Error()})
		}
		*p = v
	}
	if vs, ok := values["IUHF"]; ok && len(vs) == 1 {
		v, err := strconv.Atoi(vs[0])
		if err != nil {
			return Header{}, errors.WithStack(&errs.FormatError{Text: vs[0], Reason: err.Error()})
		}
		h.IUHF = v != 0
	}
	if h.NOrb <= 0 {
		return Header{}, errors.WithStack(&errs.FormatError{Reason: fmt.Sprintf("NORB=%d", h.NOrb)})
	}

	h.OrbSym = make([]int, 0, h.NOrb)
	for _, s := range values["ORBSYM"] {
		v, err := strconv.Atoi(s)
		if err != nil {
			return Header{}, errors.WithStack(&errs.FormatError{Text: s, Reason: err.Error()})
		}
		h.OrbSym = append(h.OrbSym, v)
	}
	if len(h.OrbSym) == 0 {
		for range h.NOrb {
			h.OrbSym = append(h.OrbSym, 1)
		}
	}
	if len(h.OrbSym) != h.NOrb {
		return Header{}, errors.WithStack(&errs.FormatError{Reason: fmt.Sprintf("%d ORBSYM entries for NORB=%d", len(h.OrbSym), h.NOrb)})
	}
	return h, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Write writes f in the FCIDUMP format. Zero integrals are omitted.
func Write(w io.Writer, f *FCIDUMP) error {
	bw := bufio.NewWriter(w)
	n := f.nSites

	orbSym := make([]string, 0, n)
	for _, s := range f.OrbSym() {
		orbSym = append(orbSym, strconv.Itoa(s))
	}
	iuhf := 0
	if f.unrestricted {
		iuhf = 1
	}
	fmt.Fprintf(bw, " &FCI NORB=%d,NELEC=%d,MS2=%d,\n", n, f.nElec, f.twoS)
	fmt.Fprintf(bw, "  ORBSYM=%s,\n", strings.Join(orbSym, ","))
	fmt.Fprintf(bw, "  ISYM=%d,\n", f.iSym)
	if f.unrestricted {
		fmt.Fprintf(bw, "  IUHF=%d,\n", iuhf)
	}
	fmt.Fprintf(bw, " &END\n")

	line := func(v float64, i, j, k, l int) {
		fmt.Fprintf(bw, "%23.16e %4d %4d %4d %4d\n", v, i, j, k, l)
	}
	write8 := func(g []float64) {
		for i := range n {
			for j := range i + 1 {
				for k := range i + 1 {
					for l := range k + 1 {
						if Pair(i, j) < Pair(k, l) {
							continue
						}
						if v := g[Index8(i, j, k, l)]; v != 0 {
							line(v, i+1, j+1, k+1, l+1)
						}
					}
				}
			}
		}
	}
	write1 := func(h []float64) {
		for i := range n {
			for j := range i + 1 {
				if v := h[Pair(i, j)]; v != 0 {
					line(v, i+1, j+1, 0, 0)
				}
			}
		}
	}

	if !f.unrestricted {
		write8(f.g2e[0].Floats())
		write1(f.h1e[0].Floats())
	} else {
		write8(f.g2e[0].Floats())
		line(0, 0, 0, 0, 0)
		write8(f.g2e[1].Floats())
		line(0, 0, 0, 0, 0)
		ab := f.g2e[2].Floats()
		for i := range n {
			for j := range i + 1 {
				for k := range n {
					for l := range k + 1 {
						if v := ab[Index4(n, i, j, k, l)]; v != 0 {
							line(v, i+1, j+1, k+1, l+1)
						}
					}
				}
			}
		}
		line(0, 0, 0, 0, 0)
		write1(f.h1e[0].Floats())
		line(0, 0, 0, 0, 0)
		write1(f.h1e[1].Floats())
		line(0, 0, 0, 0, 0)
	}
	line(f.eCore, 0, 0, 0, 0)

	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
