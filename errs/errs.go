// Package errs defines the error taxonomy shared by the ftdmrg packages.
//
// Configuration and numerical-consistency errors are returned before any heavy
// computation starts. Truncation error is never reported as an error.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration matches every error caused by an invalid setup,
	// such as an unsupported point group or a spin combination the chosen
	// representation cannot carry.
	ErrConfiguration = errors.New("configuration")
	// ErrNumericalInconsistency matches integrals that violate a required symmetry.
	ErrNumericalInconsistency = errors.New("numerical inconsistency")
	// ErrFormat matches malformed integral files.
	ErrFormat = errors.New("format")
)

// ConfigurationError reports an invalid configuration.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Configf returns a ConfigurationError with a formatted reason.
func Configf(format string, args ...any) error {
	return errors.WithStack(&ConfigurationError{Reason: fmt.Sprintf(format, args...)})
}

// SymmetryError reports an unsupported point group or irreducible representation.
type SymmetryError struct {
	PointGroup string
	Reason     string
}

func (e *SymmetryError) Error() string {
	return fmt.Sprintf("symmetry error: point group %q: %s", e.PointGroup, e.Reason)
}

func (e *SymmetryError) Is(target error) bool { return target == ErrConfiguration }

// NumericalInconsistencyError reports a one-electron matrix that is not
// symmetric within tolerance.
type NumericalInconsistencyError struct {
	I, J int
	Diff float64
	Tol  float64
}

func (e *NumericalInconsistencyError) Error() string {
	return fmt.Sprintf("h1e not symmetric at (%d,%d): |h[i,j]-h[j,i]| = %g >= %g", e.I, e.J, e.Diff, e.Tol)
}

func (e *NumericalInconsistencyError) Is(target error) bool {
	return target == ErrNumericalInconsistency
}

// FormatError reports a malformed integral file.
type FormatError struct {
	Line   int
	Text   string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line <= 0 {
		return fmt.Sprintf("format error: %s", e.Reason)
	}
	return fmt.Sprintf("format error: line %d %q: %s", e.Line, e.Text, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }
