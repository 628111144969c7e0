package post

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/eq"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
)

var (
	// ErrUnknownEnvironment is returned for unrecognised environment names.
	ErrUnknownEnvironment = errors.New("post: unknown environment")
	// ErrUnknownTarget is returned for unrecognised output targets.
	ErrUnknownTarget = errors.New("post: unknown output target")
)

// Environment selects the acoustic treatment of the mix.
type Environment int

const (
	Dry Environment = iota
	Forest
	Room
	Hall
)

func (e Environment) String() string {
	switch e {
	case Dry:
		return "dry"
	case Forest:
		return "forest"
	case Room:
		return "room"
	case Hall:
		return "hall"
	default:
		return fmt.Sprintf("Environment(%d)", int(e))
	}
}

// ParseEnvironment maps a configuration name to an Environment.
func ParseEnvironment(name string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dry":
		return Dry, nil
	case "forest":
		return Forest, nil
	case "room":
		return Room, nil
	case "hall":
		return Hall, nil
	default:
		return Dry, fmt.Errorf("%w: %q", ErrUnknownEnvironment, name)
	}
}

// Preset is the EQ curve and reverb an environment starts from.
type Preset struct {
	EQ     [eq.Bands]float64
	Reverb reverb.Variant
	Room   reverb.Params
}

// Preset returns the environment's defaults.
func (e Environment) Preset() Preset {
	switch e {
	case Forest:
		// Open air: many early scatterings, short diffuse tail, foliage
		// absorbs the top octaves.
		return Preset{
			EQ:     [eq.Bands]float64{0, 0, 1, 1, 0, 0, -1, -2, -3, -4},
			Reverb: reverb.FDN,
			Room: reverb.Params{
				RT60: 400 * time.Millisecond, Damp: 0.6, PreDelay: 5 * time.Millisecond,
				Wet: 0.25, Dry: 1,
			},
		}
	case Room:
		return Preset{
			EQ:     [eq.Bands]float64{-2, -1, 0, 1, 0, 0, 0, 0, -1, -2},
			Reverb: reverb.FDN,
			Room: reverb.Params{
				RT60: 600 * time.Millisecond, Damp: 0.4, PreDelay: 8 * time.Millisecond,
				Wet: 0.18, Dry: 1,
			},
		}
	case Hall:
		return Preset{
			EQ:     [eq.Bands]float64{1, 1, 0, 0, 0, 0, 0, -1, -2, -3},
			Reverb: reverb.Convolution,
			Room: reverb.Params{
				RT60: 2200 * time.Millisecond, Damp: 0.3, PreDelay: 20 * time.Millisecond,
				Wet: 0.3, Dry: 1,
			},
		}
	default:
		return Preset{Reverb: reverb.None, Room: reverb.DefaultParams()}
	}
}

// Target is where the rendered stereo signal is played.
type Target int

const (
	Headphones Target = iota
	Loudspeakers
)

func (t Target) String() string {
	switch t {
	case Headphones:
		return "headphones"
	case Loudspeakers:
		return "loudspeakers"
	default:
		return fmt.Sprintf("Target(%d)", int(t))
	}
}

// ParseTarget maps a configuration name to a Target.
func ParseTarget(name string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "headphones":
		return Headphones, nil
	case "loudspeakers", "speakers":
		return Loudspeakers, nil
	default:
		return Headphones, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
}
