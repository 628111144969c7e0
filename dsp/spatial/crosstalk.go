package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/delay"
	"github.com/cwbudde/algo-binaural/dsp/eq"
)

const (
	// The far-ear path loses highs to head shadow; the subtracted copy gets
	// the same tilt.
	shadowShelfFreq   = 1800.0
	shadowShelfGainDB = 3.0
	shadowShelfQ      = math.Sqrt2 / 2

	// Each later stage reaches a little further around the head.
	stageSpread = 150e-6 // seconds

	maxCancellerStages = 8
)

// ErrInvalidLayout is returned for a loudspeaker layout the canceller
// cannot serve.
var ErrInvalidLayout = errors.New("spatial: invalid loudspeaker layout")

// Layout is the loudspeaker pair and listener a Canceller is tuned for.
// Distances are in metres.
type Layout struct {
	ListenerDistance float64 // from the speaker line
	SpeakerSpacing   float64
	HeadRadius       float64
	SpeedOfSound     float64

	// Attenuation scales the first cancellation stage; each further stage
	// is scaled by it again.
	Attenuation float64
	Stages      int
}

// DefaultLayout is a desktop pair two metres apart, one metre away.
func DefaultLayout() Layout {
	return Layout{
		ListenerDistance: 1,
		SpeakerSpacing:   2,
		HeadRadius:       defaultHeadRadius,
		SpeedOfSound:     defaultSpeedOfSound,
		Attenuation:      0.65,
		Stages:           2,
	}
}

// Validate reports layout problems.
func (l Layout) Validate() error {
	var errs []error
	if !(l.ListenerDistance > 0) || math.IsInf(l.ListenerDistance, 0) {
		errs = append(errs, fmt.Errorf("%w: listener distance must be > 0: %v", ErrInvalidLayout, l.ListenerDistance))
	}
	if !(l.HeadRadius > 0) || !(l.SpeakerSpacing > 2*l.HeadRadius) || math.IsInf(l.SpeakerSpacing, 0) {
		errs = append(errs, fmt.Errorf("%w: speaker spacing %v must exceed the head width %v",
			ErrInvalidLayout, l.SpeakerSpacing, 2*l.HeadRadius))
	}
	if !(l.SpeedOfSound > 0) || math.IsInf(l.SpeedOfSound, 0) {
		errs = append(errs, fmt.Errorf("%w: speed of sound must be > 0: %v", ErrInvalidLayout, l.SpeedOfSound))
	}
	if !(l.Attenuation >= 0 && l.Attenuation < 1) {
		errs = append(errs, fmt.Errorf("%w: attenuation must be in [0, 1): %v", ErrInvalidLayout, l.Attenuation))
	}
	if l.Stages < 1 || l.Stages > maxCancellerStages {
		errs = append(errs, fmt.Errorf("%w: stages must be in [1, %d]: %d", ErrInvalidLayout, maxCancellerStages, l.Stages))
	}
	return errors.Join(errs...)
}

// CrossDelay is how much later a speaker reaches the far ear than the near
// one.
func (l Layout) CrossDelay() float64 {
	half := l.SpeakerSpacing / 2
	near := math.Hypot(l.ListenerDistance, half-l.HeadRadius)
	far := math.Hypot(l.ListenerDistance, half+l.HeadRadius)
	return (far - near) / l.SpeedOfSound
}

type cancelStage struct {
	gain  float64
	delay int

	// Past input of the opposite channel: fromRight feeds the left output.
	fromRight, fromLeft *delay.Line
	shelfL, shelfR      eq.Section
}

// Canceller suppresses loudspeaker crosstalk so that binaural material
// reaches each ear mostly from its own speaker. Each stage subtracts a
// delayed, shelved copy of the opposite channel.
type Canceller struct {
	layout Layout
	delays []int
	stages []cancelStage
}

// NewCanceller builds a canceller for layout at sampleRate.
func NewCanceller(sampleRate float64, layout Layout) (*Canceller, error) {
	if !core.IsFinite(sampleRate) || sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidLayout, sampleRate)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	shelf := eq.HighShelf(shadowShelfFreq, shadowShelfGainDB, shadowShelfQ, sampleRate)
	base := layout.CrossDelay()

	c := &Canceller{layout: layout}
	gain := layout.Attenuation
	for i := range layout.Stages {
		d := max(int(math.Round((base+float64(i)*stageSpread)*sampleRate)), 1)
		fromRight, err := delay.New(d + 4)
		if err != nil {
			return nil, err
		}
		fromLeft, err := delay.New(d + 4)
		if err != nil {
			return nil, err
		}
		c.stages = append(c.stages, cancelStage{
			gain:      gain,
			delay:     d,
			fromRight: fromRight,
			fromLeft:  fromLeft,
			shelfL:    eq.Section{Coefficients: shelf},
			shelfR:    eq.Section{Coefficients: shelf},
		})
		c.delays = append(c.delays, d)
		gain *= layout.Attenuation
	}

	return c, nil
}

// Layout returns the layout the canceller was built for.
func (c *Canceller) Layout() Layout { return c.layout }

// Delays returns the per-stage delays in samples.
func (c *Canceller) Delays() []int { return c.delays }

// ProcessBlock cancels crosstalk in buf in place.
func (c *Canceller) ProcessBlock(buf core.Stereo) {
	for i := range min(len(buf.Left), len(buf.Right)) {
		l, r := buf.Left[i], buf.Right[i]
		var toL, toR float64
		for j := range c.stages {
			s := &c.stages[j]
			s.fromRight.Write(r)
			s.fromLeft.Write(l)
			toL += s.gain * s.shelfL.ProcessSample(s.fromRight.Read(s.delay))
			toR += s.gain * s.shelfR.ProcessSample(s.fromLeft.Read(s.delay))
		}
		buf.Left[i], buf.Right[i] = l-toL, r-toR
	}
}

// Reset clears the stage histories.
func (c *Canceller) Reset() {
	for i := range c.stages {
		s := &c.stages[i]
		s.fromRight.Reset()
		s.fromLeft.Reset()
		s.shelfL.Reset()
		s.shelfR.Reset()
	}
}
