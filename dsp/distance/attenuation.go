// Package distance implements the per-source distance stage: head-relative
// direction, distance attenuation, and Doppler resampling through a
// variable-delay ring buffer.
package distance

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

// ErrInvalidAttenuation is returned for unusable attenuation parameters.
var ErrInvalidAttenuation = errors.New("distance: invalid attenuation")

// Model selects the distance attenuation law.
type Model int

const (
	// InverseDistance follows ref/d, -6 dB per doubling.
	InverseDistance Model = iota
	// InverseSquare follows (ref/d)^2, -12 dB per doubling.
	InverseSquare
	// InverseOffset follows ref/(ref+d), finite at d = 0.
	InverseOffset
)

func (m Model) String() string {
	switch m {
	case InverseDistance:
		return "inverse"
	case InverseSquare:
		return "inverse_square"
	case InverseOffset:
		return "inverse_offset"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// ParseModel converts a configuration name to a Model.
func ParseModel(name string) (Model, error) {
	switch name {
	case "", "inverse":
		return InverseDistance, nil
	case "inverse_square":
		return InverseSquare, nil
	case "inverse_offset":
		return InverseOffset, nil
	default:
		return 0, fmt.Errorf("%w: unknown model %q", ErrInvalidAttenuation, name)
	}
}

// Attenuation maps distance to a gain. The distance is clamped to
// [Near, Far] before the law is applied and the gain to [MinGain, MaxGain]
// after, so the curve is monotonically non-increasing and bounded.
type Attenuation struct {
	Model     Model
	Reference float64 // distance of unity gain, metres
	Near      float64
	Far       float64
	MinGain   float64
	MaxGain   float64
}

// DefaultAttenuation returns inverse-distance attenuation referenced to 1 m.
func DefaultAttenuation() Attenuation {
	return Attenuation{
		Model:     InverseDistance,
		Reference: 1,
		Near:      0.25,
		Far:       100,
		MinGain:   0,
		MaxGain:   4,
	}
}

// Validate checks the parameters.
func (a Attenuation) Validate() error {
	for name, v := range map[string]float64{
		"reference": a.Reference, "near": a.Near, "far": a.Far, "min gain": a.MinGain, "max gain": a.MaxGain,
	} {
		if !core.IsFinite(v) || v < 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidAttenuation, name, v)
		}
	}
	if a.Reference <= 0 || a.Near <= 0 {
		return fmt.Errorf("%w: reference and near distance must be positive", ErrInvalidAttenuation)
	}
	if a.Far < a.Near {
		return fmt.Errorf("%w: far %v < near %v", ErrInvalidAttenuation, a.Far, a.Near)
	}
	if a.MaxGain < a.MinGain {
		return fmt.Errorf("%w: max gain %v < min gain %v", ErrInvalidAttenuation, a.MaxGain, a.MinGain)
	}
	if a.Model < InverseDistance || a.Model > InverseOffset {
		return fmt.Errorf("%w: model %v", ErrInvalidAttenuation, a.Model)
	}
	return nil
}

// Gain returns the linear gain at distance d metres.
func (a Attenuation) Gain(d float64) float64 {
	if math.IsNaN(d) {
		d = a.Far
	}
	d = core.Clamp(d, a.Near, a.Far)

	var g float64
	switch a.Model {
	case InverseSquare:
		r := a.Reference / d
		g = r * r
	case InverseOffset:
		g = a.Reference / (a.Reference + d)
	default:
		g = a.Reference / d
	}

	return core.Clamp(g, a.MinGain, a.MaxGain)
}
