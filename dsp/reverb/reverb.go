package reverb

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

var (
	// ErrInvalidParams is returned for unusable reverb parameters.
	ErrInvalidParams = errors.New("reverb: invalid parameters")
	// ErrUnknownVariant is returned for unrecognised variant names.
	ErrUnknownVariant = errors.New("reverb: unknown variant")
)

// Variant selects the reverb algorithm.
type Variant int

const (
	None Variant = iota
	FDN
	Convolution
)

func (v Variant) String() string {
	switch v {
	case None:
		return "none"
	case FDN:
		return "fdn"
	case Convolution:
		return "convolution"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant maps a configuration name to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return None, nil
	case "fdn":
		return FDN, nil
	case "convolution":
		return Convolution, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// Params describes a room in the terms both variants understand.
type Params struct {
	RT60     time.Duration // decay time to -60 dB
	Damp     float64       // high-frequency damping in [0, 1]
	PreDelay time.Duration
	Wet      float64
	Dry      float64
}

// DefaultParams returns a medium room.
func DefaultParams() Params {
	return Params{
		RT60:     1800 * time.Millisecond,
		Damp:     0.3,
		PreDelay: 10 * time.Millisecond,
		Wet:      0.2,
		Dry:      1,
	}
}

// Validate reports parameter problems.
func (p Params) Validate() error {
	var errs []error
	if p.RT60 <= 0 {
		errs = append(errs, fmt.Errorf("%w: RT60 must be > 0: %v", ErrInvalidParams, p.RT60))
	}
	if p.Damp < 0 || p.Damp > 1 || math.IsNaN(p.Damp) {
		errs = append(errs, fmt.Errorf("%w: damp must be in [0,1]: %f", ErrInvalidParams, p.Damp))
	}
	if p.PreDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: pre-delay must be >= 0: %v", ErrInvalidParams, p.PreDelay))
	}
	if p.Wet < 0 || !core.IsFinite(p.Wet) {
		errs = append(errs, fmt.Errorf("%w: wet must be >= 0: %f", ErrInvalidParams, p.Wet))
	}
	if p.Dry < 0 || !core.IsFinite(p.Dry) {
		errs = append(errs, fmt.Errorf("%w: dry must be >= 0: %f", ErrInvalidParams, p.Dry))
	}
	return errors.Join(errs...)
}

// Processor is a stereo reverb working in place on whole blocks.
type Processor interface {
	ProcessBlock(buf core.Stereo) error
	Reset()
}

// New builds the processor for a variant. None yields a nil Processor.
func New(v Variant, format core.Format, p Params) (Processor, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if v == None {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch v {
	case FDN:
		return NewFDNReverb(format.SampleRate, p)
	case Convolution:
		return NewConvolutionReverb(format, p)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, int(v))
	}
}
