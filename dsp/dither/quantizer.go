package dither

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

// Option configures a Quantizer.
type Option func(*config) error

type config struct {
	bitDepth  int
	typ       Type
	amplitude float64
	shaping   Shaping
	seed      uint64
}

// WithBitDepth sets the output bit depth. The default is 16.
func WithBitDepth(bits int) Option {
	return func(c *config) error {
		if bits < 8 || bits > 32 {
			return fmt.Errorf("%w: %d", ErrInvalidBitDepth, bits)
		}
		c.bitDepth = bits
		return nil
	}
}

// WithType sets the dither noise. The default is Triangular.
func WithType(t Type) Option {
	return func(c *config) error {
		if t < None || t > Gaussian {
			return fmt.Errorf("%w: %d", ErrUnknownType, int(t))
		}
		c.typ = t
		return nil
	}
}

// WithAmplitude scales the dither noise in LSB. The default is 1.
func WithAmplitude(amp float64) Option {
	return func(c *config) error {
		if !core.IsFinite(amp) || amp < 0 {
			return fmt.Errorf("dither: amplitude must be >= 0: %v", amp)
		}
		c.amplitude = amp
		return nil
	}
}

// WithShaping selects the noise shaping curve. The default is Flat.
func WithShaping(s Shaping) Option {
	return func(c *config) error {
		if s < Flat || s > FWeighted9 {
			return fmt.Errorf("%w: %d", ErrUnknownShaping, int(s))
		}
		c.shaping = s
		return nil
	}
}

// WithSeed seeds the noise generator.
func WithSeed(seed uint64) Option {
	return func(c *config) error {
		c.seed = seed
		return nil
	}
}

// Quantizer converts stereo blocks to interleaved integer PCM. It is not
// safe for concurrent use.
type Quantizer struct {
	cfg     config
	scale   float64
	lo, hi  float64
	rng     *rand.Rand
	shapers [2]*shaper
	clipped int
}

// NewQuantizer returns a quantizer with TPDF dither at 16 bits unless
// options say otherwise.
func NewQuantizer(opts ...Option) (*Quantizer, error) {
	cfg := config{bitDepth: 16, typ: Triangular, amplitude: 1, seed: 1}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	full := math.Exp2(float64(cfg.bitDepth - 1))
	q := &Quantizer{
		cfg:   cfg,
		scale: full,
		lo:    -full,
		hi:    full - 1,
		rng:   rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15)),
	}
	for ch := range q.shapers {
		q.shapers[ch] = newShaper(cfg.shaping.Coefficients())
	}
	return q, nil
}

// BitDepth returns the output bit depth.
func (q *Quantizer) BitDepth() int { return q.cfg.bitDepth }

// Type returns the dither noise type.
func (q *Quantizer) Type() Type { return q.cfg.typ }

// Shaping returns the noise shaping curve.
func (q *Quantizer) Shaping() Shaping { return q.cfg.shaping }

// Clipped returns how many samples were limited to full scale so far.
func (q *Quantizer) Clipped() int { return q.clipped }

// Quantize writes block interleaved left/right into dst, which must hold
// 2*block.Len() values.
func (q *Quantizer) Quantize(dst []int, block core.Stereo) {
	n := block.Len()
	for i := range n {
		dst[2*i] = q.sample(0, block.Left[i])
		dst[2*i+1] = q.sample(1, block.Right[i])
	}
}

func (q *Quantizer) sample(ch int, x float64) int {
	if !core.IsFinite(x) {
		x = 0
	}
	s := q.shapers[ch]
	shaped := s.shape(x * q.scale)
	v := math.Round(shaped + q.noise())
	if v < q.lo || v > q.hi {
		// Saturation error is not fed back; it would swamp the shaper.
		q.clipped++
		s.record(0)
		return int(math.Max(q.lo, math.Min(q.hi, v)))
	}
	s.record(v - shaped)
	return int(v)
}

func (q *Quantizer) noise() float64 {
	a := q.cfg.amplitude
	switch q.cfg.typ {
	case Rectangular:
		return a * (q.rng.Float64() - 0.5)
	case Triangular:
		return a * (q.rng.Float64() - q.rng.Float64())
	case Gaussian:
		return a * 0.5 * q.rng.NormFloat64()
	default:
		return 0
	}
}

// Reset clears the shaper histories and the clip count.
func (q *Quantizer) Reset() {
	for _, s := range q.shapers {
		s.reset()
	}
	q.clipped = 0
}
