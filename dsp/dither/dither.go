// Package dither converts rendered float blocks to integer PCM.
//
// A Quantizer scales each sample to the target bit depth, subtracts the
// shaped error of previous samples, adds dither noise and rounds. Every
// channel has its own shaper history; the noise generator is seeded so
// offline renders stay reproducible.
package dither

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the package.
var (
	ErrInvalidBitDepth = errors.New("dither: bit depth must be in [8, 32]")
	ErrUnknownType     = errors.New("dither: unknown dither type")
	ErrUnknownShaping  = errors.New("dither: unknown noise shaping")
)

// Type selects the probability distribution of the dither noise.
type Type int

const (
	// None rounds without noise.
	None Type = iota
	// Rectangular adds uniform noise of one LSB peak to peak.
	Rectangular
	// Triangular adds the sum of two uniform draws (TPDF), the usual choice.
	Triangular
	// Gaussian adds normal noise.
	Gaussian
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Rectangular:
		return "rpdf"
	case Triangular:
		return "tpdf"
	case Gaussian:
		return "gaussian"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType maps a configuration name to a Type.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return None, nil
	case "rpdf", "rectangular":
		return Rectangular, nil
	case "", "tpdf", "triangular":
		return Triangular, nil
	case "gaussian":
		return Gaussian, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}
