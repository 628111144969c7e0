package dither

import (
	"fmt"
	"strings"
)

// Shaping selects an error-feedback noise shaping curve.
type Shaping int

const (
	// Flat applies no shaping.
	Flat Shaping = iota
	// FirstOrder feeds back the previous error once.
	FirstOrder
	// SecondOrder is a simple second-order highpass.
	SecondOrder
	// FWeighted3 is a third-order F-weighted curve.
	FWeighted3
	// FWeighted9 is a ninth-order F-weighted curve pushing noise above
	// 15 kHz at 44.1 and 48 kHz.
	FWeighted9
)

func (s Shaping) String() string {
	switch s {
	case Flat:
		return "flat"
	case FirstOrder:
		return "efb"
	case SecondOrder:
		return "2sc"
	case FWeighted3:
		return "3fc"
	case FWeighted9:
		return "9fc"
	default:
		return fmt.Sprintf("Shaping(%d)", int(s))
	}
}

// ParseShaping maps a configuration name to a Shaping.
func ParseShaping(name string) (Shaping, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "flat", "none":
		return Flat, nil
	case "efb":
		return FirstOrder, nil
	case "2sc":
		return SecondOrder, nil
	case "3fc":
		return FWeighted3, nil
	case "9fc":
		return FWeighted9, nil
	default:
		return Flat, fmt.Errorf("%w: %q", ErrUnknownShaping, name)
	}
}

// Coefficients returns the feedback taps, newest error first.
func (s Shaping) Coefficients() []float64 {
	switch s {
	case FirstOrder:
		return []float64{1}
	case SecondOrder:
		return []float64{1.0, -0.5}
	case FWeighted3:
		return []float64{1.623, -0.982, 0.109}
	case FWeighted9:
		return []float64{
			2.412, -3.370, 3.937, -4.174, 3.353,
			-2.205, 1.281, -0.569, 0.0847,
		}
	default:
		return nil
	}
}

// shaper filters past quantization errors through FIR taps kept in a ring.
type shaper struct {
	coeffs  []float64
	history []float64
	pos     int
}

func newShaper(coeffs []float64) *shaper {
	return &shaper{coeffs: coeffs, history: make([]float64, len(coeffs))}
}

// shape subtracts the weighted error history from x.
func (s *shaper) shape(x float64) float64 {
	n := len(s.coeffs)
	if n == 0 {
		return x
	}
	for i, c := range s.coeffs {
		x -= c * s.history[(s.pos-i+n)%n]
	}
	s.pos = (s.pos + 1) % n
	return x
}

// record stores the error of the sample just shaped.
func (s *shaper) record(err float64) {
	if len(s.coeffs) > 0 {
		s.history[s.pos] = err
	}
}

func (s *shaper) reset() {
	clear(s.history)
	s.pos = 0
}
