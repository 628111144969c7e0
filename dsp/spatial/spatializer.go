package spatial

import (
	"errors"
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/google/uuid"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/delay"
	"github.com/cwbudde/algo-binaural/dsp/hrir"
)

const (
	defaultMaxVoices    = 16
	defaultHeadRadius   = 0.0875
	defaultSpeedOfSound = 343.0

	// itdBaseDelay keeps the leading ear away from the delay line edge so
	// Hermite reads always have a newer neighbour.
	itdBaseDelay = 2.0
)

var (
	// ErrInvalidSpatializer is returned for unusable spatializer options.
	ErrInvalidSpatializer = errors.New("spatial: invalid spatializer option")
	// ErrTooManyVoices is returned when every voice slot is in use.
	ErrTooManyVoices = errors.New("spatial: no free voice")
	// ErrBlockSize is returned for blocks that do not match the bank.
	ErrBlockSize = errors.New("spatial: block size mismatch")
)

// Option configures a Spatializer.
type Option func(*config) error

type config struct {
	scheme       hrir.Scheme
	maxVoices    int
	headRadius   float64
	speedOfSound float64
	itd          bool
}

// WithScheme selects the direction lookup scheme.
func WithScheme(s hrir.Scheme) Option {
	return func(cfg *config) error {
		if s != hrir.Bilinear && s != hrir.Nearest {
			return fmt.Errorf("%w: unknown scheme %d", ErrInvalidSpatializer, s)
		}
		cfg.scheme = s
		return nil
	}
}

// WithMaxVoices sets how many sources may be rendered concurrently.
func WithMaxVoices(n int) Option {
	return func(cfg *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: max voices must be > 0: %d", ErrInvalidSpatializer, n)
		}
		cfg.maxVoices = n
		return nil
	}
}

// WithHeadRadius sets the radius used for the interaural time difference.
func WithHeadRadius(r float64) Option {
	return func(cfg *config) error {
		if !(r > 0) || r > 0.2 {
			return fmt.Errorf("%w: head radius must be in (0, 0.2]: %f", ErrInvalidSpatializer, r)
		}
		cfg.headRadius = r
		return nil
	}
}

// WithSpeedOfSound sets the speed of sound in m/s.
func WithSpeedOfSound(c float64) Option {
	return func(cfg *config) error {
		if !(c > 0) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: speed of sound must be > 0: %f", ErrInvalidSpatializer, c)
		}
		cfg.speedOfSound = c
		return nil
	}
}

// WithITD enables or disables the interaural delay. Disabling it leaves the
// plain HRIR convolution, which is useful for inspection.
func WithITD(enabled bool) Option {
	return func(cfg *config) error {
		cfg.itd = enabled
		return nil
	}
}

type voice struct {
	ols *conv.OverlapSave

	weights  hrir.Weights
	primed   bool
	curL     []complex128
	curR     []complex128
	prevL    []complex128
	prevR    []complex128
	fadeBufL []float64
	fadeBufR []float64

	itdL   *delay.Line
	itdR   *delay.Line
	delayL float64
	delayR float64
}

func (v *voice) reset() {
	v.ols.Reset()
	v.primed = false
	v.weights = hrir.Weights{}
	v.itdL.Reset()
	v.itdR.Reset()
	v.delayL, v.delayR = itdBaseDelay, itdBaseDelay
}

// Spatializer renders sources through an HRIR bank. It keeps independent
// convolution, crossfade and delay state for every source and is meant to
// be driven from a single render goroutine.
type Spatializer struct {
	bank *hrir.Bank
	cfg  config

	active map[uuid.UUID]*voice
	free   []*voice

	fadeIn  []float64
	fadeOut []float64
}

// NewSpatializer preallocates voice state for the bank's block and FFT sizes.
func NewSpatializer(bank *hrir.Bank, opts ...Option) (*Spatializer, error) {
	if bank == nil {
		return nil, fmt.Errorf("%w: nil bank", ErrInvalidSpatializer)
	}

	cfg := config{
		scheme:       hrir.Bilinear,
		maxVoices:    defaultMaxVoices,
		headRadius:   defaultHeadRadius,
		speedOfSound: defaultSpeedOfSound,
		itd:          true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	n := bank.BlockSize()
	s := &Spatializer{
		bank:    bank,
		cfg:     cfg,
		active:  make(map[uuid.UUID]*voice, cfg.maxVoices),
		free:    make([]*voice, 0, cfg.maxVoices),
		fadeIn:  make([]float64, n),
		fadeOut: make([]float64, n),
	}
	core.Ramp(s.fadeIn, 1/float64(n), 1)
	for i, g := range s.fadeIn {
		s.fadeOut[i] = 1 - g
	}

	maxITD := cfg.headRadius / cfg.speedOfSound * (math.Pi/2 + 1) * bank.SampleRate()
	lineSize := int(math.Ceil(itdBaseDelay+maxITD)) + 4

	for range cfg.maxVoices {
		v, err := newVoice(bank, lineSize)
		if err != nil {
			return nil, err
		}
		s.free = append(s.free, v)
	}

	return s, nil
}

func newVoice(bank *hrir.Bank, lineSize int) (*voice, error) {
	ols, err := conv.NewOverlapSave(bank.BlockSize(), bank.FFTSize())
	if err != nil {
		return nil, err
	}
	itdL, err := delay.New(lineSize)
	if err != nil {
		return nil, err
	}
	itdR, err := delay.New(lineSize)
	if err != nil {
		return nil, err
	}

	bins := bank.FFTSize()
	n := bank.BlockSize()
	return &voice{
		ols:      ols,
		curL:     make([]complex128, bins),
		curR:     make([]complex128, bins),
		prevL:    make([]complex128, bins),
		prevR:    make([]complex128, bins),
		fadeBufL: make([]float64, n),
		fadeBufR: make([]float64, n),
		itdL:     itdL,
		itdR:     itdR,
		delayL:   itdBaseDelay,
		delayR:   itdBaseDelay,
	}, nil
}

// Bank returns the HRIR bank.
func (s *Spatializer) Bank() *hrir.Bank { return s.bank }

// Scheme returns the direction lookup scheme.
func (s *Spatializer) Scheme() hrir.Scheme { return s.cfg.scheme }

// MaxVoices returns the number of preallocated voices.
func (s *Spatializer) MaxVoices() int { return s.cfg.maxVoices }

// Active returns the number of sources holding voice state.
func (s *Spatializer) Active() int { return len(s.active) }

// Latency returns the delay in samples of a frontal source: the HRIR group
// delay plus the interaural base delay.
func (s *Spatializer) Latency() float64 {
	l := float64(s.bank.Length() / 2)
	if s.cfg.itd {
		l += itdBaseDelay
	}
	return l
}

// Process renders one block of the source id arriving from (azimuth,
// elevation) in head coordinates into out. Voice state is claimed on the
// first call for an id and kept until Release.
func (s *Spatializer) Process(id uuid.UUID, out core.Stereo, src []float64, azimuth, elevation float64) error {
	n := s.bank.BlockSize()
	if len(src) != n || out.Len() != n {
		return fmt.Errorf("%w: want %d samples, got src=%d out=%d", ErrBlockSize, n, len(src), out.Len())
	}

	v, ok := s.active[id]
	if !ok {
		if len(s.free) == 0 {
			return fmt.Errorf("%w: %d voices in use", ErrTooManyVoices, len(s.active))
		}
		v = s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.active[id] = v
	}

	if err := v.ols.Analyze(src); err != nil {
		return err
	}

	fresh := !v.primed
	w := s.bank.Grid().Weights(azimuth, elevation, s.cfg.scheme)
	switch {
	case fresh:
		s.bank.Blend(v.curL, v.curR, w)
		v.weights, v.primed = w, true
		if err := s.filter(v, out, v.curL, v.curR); err != nil {
			return err
		}
	case w.Equal(v.weights):
		if err := s.filter(v, out, v.curL, v.curR); err != nil {
			return err
		}
	default:
		v.prevL, v.curL = v.curL, v.prevL
		v.prevR, v.curR = v.curR, v.prevR
		s.bank.Blend(v.curL, v.curR, w)
		v.weights = w

		old := core.Stereo{Left: v.fadeBufL, Right: v.fadeBufR}
		if err := s.filter(v, old, v.prevL, v.prevR); err != nil {
			return err
		}
		if err := s.filter(v, out, v.curL, v.curR); err != nil {
			return err
		}
		vecmath.MulBlockInPlace(old.Left, s.fadeOut)
		vecmath.MulBlockInPlace(old.Right, s.fadeOut)
		vecmath.MulAddBlock(out.Left, out.Left, s.fadeIn, old.Left)
		vecmath.MulAddBlock(out.Right, out.Right, s.fadeIn, old.Right)
	}

	if s.cfg.itd {
		s.applyITD(v, out, azimuth, elevation, fresh)
	}

	return nil
}

func (s *Spatializer) filter(v *voice, out core.Stereo, left, right []complex128) error {
	if err := v.ols.FilterTo(out.Left, left); err != nil {
		return err
	}
	return v.ols.FilterTo(out.Right, right)
}

// applyITD delays the lagging ear, gliding from the previous block's delay
// so direction changes do not click. A fresh voice starts at its target.
func (s *Spatializer) applyITD(v *voice, out core.Stereo, azimuth, elevation float64, fresh bool) {
	itd := hrir.WoodworthITD(azimuth, elevation, s.cfg.headRadius, s.cfg.speedOfSound) * s.bank.SampleRate()

	targetL, targetR := itdBaseDelay, itdBaseDelay
	if itd > 0 {
		targetL += itd
	} else {
		targetR -= itd
	}
	if fresh {
		v.delayL, v.delayR = targetL, targetR
	}

	v.itdL.ProcessRamp(out.Left, out.Left, v.delayL, targetL)
	v.itdR.ProcessRamp(out.Right, out.Right, v.delayR, targetR)
	v.delayL, v.delayR = targetL, targetR
}

// Release returns the voice of id to the pool with cleared state.
func (s *Spatializer) Release(id uuid.UUID) {
	v, ok := s.active[id]
	if !ok {
		return
	}
	delete(s.active, id)
	v.reset()
	s.free = append(s.free, v)
}

// Reset clears every voice's history and returns them to the pool.
func (s *Spatializer) Reset() {
	for id := range s.active {
		s.Release(id)
	}
}
