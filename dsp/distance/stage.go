package distance

import (
	"errors"
	"fmt"
	"math"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/delay"
	"github.com/cwbudde/algo-binaural/dsp/geom"
)

const (
	defaultSpeedOfSound  = 343.0
	defaultMaxFraction   = 0.5
	defaultHeadroom      = 20 * time.Millisecond
	defaultMinDistance   = 0.1
	defaultRecenterRate  = 0.0005
	minDelaySamples      = 2.0
	maxHeadroom          = time.Second
	minSpeedOfSound      = 1.0
	maxMaxRadialFraction = 0.95
)

// ErrInvalidStage is returned for unusable stage options.
var ErrInvalidStage = errors.New("distance: invalid stage option")

// Option mutates construction-time parameters.
type Option func(*stageConfig) error

type stageConfig struct {
	attenuation  Attenuation
	speedOfSound float64
	maxFraction  float64
	headroom     time.Duration
	minDistance  float64
	doppler      bool
}

func defaultStageConfig() stageConfig {
	return stageConfig{
		attenuation:  DefaultAttenuation(),
		speedOfSound: defaultSpeedOfSound,
		maxFraction:  defaultMaxFraction,
		headroom:     defaultHeadroom,
		minDistance:  defaultMinDistance,
		doppler:      true,
	}
}

// WithAttenuation sets the attenuation curve.
func WithAttenuation(a Attenuation) Option {
	return func(cfg *stageConfig) error {
		if err := a.Validate(); err != nil {
			return err
		}
		cfg.attenuation = a
		return nil
	}
}

// WithSpeedOfSound sets the speed of sound in m/s.
func WithSpeedOfSound(c float64) Option {
	return func(cfg *stageConfig) error {
		if !core.IsFinite(c) || c < minSpeedOfSound {
			return fmt.Errorf("%w: speed of sound %v", ErrInvalidStage, c)
		}
		cfg.speedOfSound = c
		return nil
	}
}

// WithMaxRadialFraction bounds radial speeds to fraction*c.
func WithMaxRadialFraction(fraction float64) Option {
	return func(cfg *stageConfig) error {
		if !core.IsFinite(fraction) || fraction <= 0 || fraction > maxMaxRadialFraction {
			return fmt.Errorf("%w: radial fraction must be in (0, %g]: %v", ErrInvalidStage, maxMaxRadialFraction, fraction)
		}
		cfg.maxFraction = fraction
		return nil
	}
}

// WithHeadroom sets how far the Doppler read pointer may drift either way
// from its resting delay.
func WithHeadroom(d time.Duration) Option {
	return func(cfg *stageConfig) error {
		if d <= 0 || d > maxHeadroom {
			return fmt.Errorf("%w: headroom must be in (0, %v]: %v", ErrInvalidStage, maxHeadroom, d)
		}
		cfg.headroom = d
		return nil
	}
}

// WithMinDistance sets the floor applied to source distances.
func WithMinDistance(d float64) Option {
	return func(cfg *stageConfig) error {
		if !core.IsFinite(d) || d <= 0 {
			return fmt.Errorf("%w: minimum distance %v", ErrInvalidStage, d)
		}
		cfg.minDistance = d
		return nil
	}
}

// WithDoppler enables or disables Doppler resampling.
func WithDoppler(enabled bool) Option {
	return func(cfg *stageConfig) error {
		cfg.doppler = enabled
		return nil
	}
}

// Geometry is the listener and source kinematics for one block.
type Geometry struct {
	Listener         geom.Vec
	ListenerVelocity geom.Vec
	Orientation      geom.Quat
	Source           geom.Vec
	SourceVelocity   geom.Vec
}

// Result describes what the stage applied to a block.
type Result struct {
	geom.Direction

	Gain float64
	// Factor is the playback-rate ratio the delay line applied. It is 1
	// while the read pointer is pinned at a bound.
	Factor float64
	// Requested is the Doppler factor the geometry asked for.
	Requested float64
}

// Stage processes one source. It is not safe for concurrent use.
//
// Doppler is rendered as a variable delay: a read pointer advancing at
// factor samples per written sample moves the delay by 1-factor each sample.
// The delay is bounded to [2, 2*headroom+2] samples; once a bound is hit the
// pointer is pinned and playback continues at unity rate. At unity factor the
// delay drifts back towards the resting point at a rate too slow to hear.
type Stage struct {
	cfg    stageConfig
	format core.Format

	line      *delay.Line
	rest      float64
	maxDelay  float64
	delay     float64
	gain      float64
	hasGain   bool
	gainRamp  []float64
	lastState Result
}

// NewStage creates a distance stage for format.
func NewStage(format core.Format, opts ...Option) (*Stage, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultStageConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	headroom := math.Ceil(cfg.headroom.Seconds() * format.SampleRate)
	maxDelay := 2*headroom + minDelaySamples

	line, err := delay.New(int(maxDelay) + 4)
	if err != nil {
		return nil, err
	}

	s := &Stage{
		cfg:      cfg,
		format:   format,
		line:     line,
		rest:     headroom + minDelaySamples,
		maxDelay: maxDelay,
		gainRamp: make([]float64, format.BlockSize),
	}
	s.delay = s.rest

	return s, nil
}

// Process applies distance gain and Doppler to one block. dst and src must
// hold BlockSize samples and may alias.
func (s *Stage) Process(dst, src []float64, g Geometry) (Result, error) {
	n := s.format.BlockSize
	if len(src) != n || len(dst) != n {
		return Result{}, fmt.Errorf("distance: expected %d samples, got src %d dst %d", n, len(src), len(dst))
	}

	dir := geom.HeadDirection(g.Orientation, g.Listener, g.Source, s.cfg.minDistance)
	gain := s.cfg.attenuation.Gain(dir.Distance)

	factor := 1.0
	if s.cfg.doppler {
		factor = DopplerFactor(g.Listener, g.ListenerVelocity, g.Source, g.SourceVelocity,
			s.cfg.speedOfSound, s.cfg.maxFraction)
	}

	var shift float64
	switch {
	case factor != 1:
		shift = (1 - factor) * float64(n)
	case s.delay != s.rest:
		// Drift back to the resting delay.
		limit := defaultRecenterRate * float64(n)
		shift = core.Clamp(s.rest-s.delay, -limit, limit)
	}

	target := core.Clamp(s.delay+shift, minDelaySamples, s.maxDelay)
	applied := 1.0
	if factor != 1 {
		applied = 1 - (target-s.delay)/float64(n)
	}
	s.line.ProcessRamp(dst, src, s.delay, target)
	s.delay = target

	if !s.hasGain {
		s.gain = gain
		s.hasGain = true
	}
	core.Ramp(s.gainRamp, s.gain, gain)
	vecmath.MulBlockInPlace(dst, s.gainRamp)
	s.gain = gain

	s.lastState = Result{Direction: dir, Gain: gain, Factor: applied, Requested: factor}

	return s.lastState, nil
}

// Delay returns the current read delay in samples.
func (s *Stage) Delay() float64 {
	return s.delay
}

// RestingDelay returns the delay the stage settles at with no motion.
func (s *Stage) RestingDelay() float64 {
	return s.rest
}

// Last returns the result of the most recent Process call.
func (s *Stage) Last() Result {
	return s.lastState
}

// Reset clears the ring buffer and returns the read pointer to rest.
func (s *Stage) Reset() {
	s.line.Reset()
	s.delay = s.rest
	s.gain = 0
	s.hasGain = false
	s.lastState = Result{}
}
