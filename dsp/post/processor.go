// Package post mixes spatialized sources and applies the environment chain:
// graphic EQ, reverb and, for loudspeaker playback, crosstalk cancellation.
package post

import (
	"fmt"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/eq"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
)

// Option configures a Processor.
type Option func(*options) error

type options struct {
	eqGains    *[eq.Bands]float64
	variant    *reverb.Variant
	room       *reverb.Params
	target     Target
	layout     spatial.Layout
}

// WithEQGains overrides the environment's EQ curve.
func WithEQGains(gains [eq.Bands]float64) Option {
	return func(o *options) error {
		o.eqGains = &gains
		return nil
	}
}

// WithReverb overrides the environment's reverb variant.
func WithReverb(v reverb.Variant) Option {
	return func(o *options) error {
		o.variant = &v
		return nil
	}
}

// WithRoom overrides the environment's reverb parameters.
func WithRoom(p reverb.Params) Option {
	return func(o *options) error {
		if err := p.Validate(); err != nil {
			return err
		}
		o.room = &p
		return nil
	}
}

// WithTarget selects headphone or loudspeaker playback.
func WithTarget(t Target) Option {
	return func(o *options) error {
		if t != Headphones && t != Loudspeakers {
			return fmt.Errorf("%w: %d", ErrUnknownTarget, int(t))
		}
		o.target = t
		return nil
	}
}

// WithLayout sets the loudspeaker layout the crosstalk canceller is tuned
// for. The default is spatial.DefaultLayout.
func WithLayout(l spatial.Layout) Option {
	return func(o *options) error {
		if err := l.Validate(); err != nil {
			return err
		}
		o.layout = l
		return nil
	}
}

// Processor owns the mix bus and the post chain. It is driven by the
// render goroutine only.
type Processor struct {
	format      core.Format
	environment Environment
	target      Target
	variant     reverb.Variant

	bus    core.Stereo
	eq     *eq.Graphic
	reverb reverb.Processor
	ctc    *spatial.Canceller
}

// NewProcessor builds the post chain for an environment.
func NewProcessor(format core.Format, env Environment, opts ...Option) (*Processor, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if env < Dry || env > Hall {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEnvironment, int(env))
	}

	o := options{layout: spatial.DefaultLayout()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	preset := env.Preset()
	if o.eqGains != nil {
		preset.EQ = *o.eqGains
	}
	if o.variant != nil {
		preset.Reverb = *o.variant
	}
	if o.room != nil {
		preset.Room = *o.room
	}

	graphic, err := eq.NewGraphic(format.SampleRate, preset.EQ)
	if err != nil {
		return nil, err
	}

	rev, err := reverb.New(preset.Reverb, format, preset.Room)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		format:      format,
		environment: env,
		target:      o.target,
		variant:     preset.Reverb,
		bus:         core.NewStereo(format.BlockSize),
		eq:          graphic,
		reverb:      rev,
	}

	if o.target == Loudspeakers {
		p.ctc, err = spatial.NewCanceller(format.SampleRate, o.layout)
		if err != nil {
			return nil, err
		}
	}

	return p, nil
}

// Environment returns the configured environment.
func (p *Processor) Environment() Environment { return p.environment }

// Target returns the playback target.
func (p *Processor) Target() Target { return p.target }

// Reverb returns the active reverb variant.
func (p *Processor) Reverb() reverb.Variant { return p.variant }

// Begin clears the mix bus for a new block.
func (p *Processor) Begin() {
	p.bus.Zero()
}

// Add sums a spatialized contribution into the mix bus.
func (p *Processor) Add(src core.Stereo) {
	vecmath.AddBlockInPlace(p.bus.Left, src.Left)
	vecmath.AddBlockInPlace(p.bus.Right, src.Right)
}

// Finish runs the post chain over the mix bus and returns it. The returned
// block is reused by the next Begin.
func (p *Processor) Finish() (core.Stereo, error) {
	if !p.eq.Flat() {
		p.eq.ProcessBlock(p.bus)
	}

	if p.reverb != nil {
		if err := p.reverb.ProcessBlock(p.bus); err != nil {
			return p.bus, err
		}
	}

	if p.ctc != nil {
		p.ctc.ProcessBlock(p.bus)
		if peak := p.bus.Peak(); peak > 1 {
			p.bus.Scale(1 / peak)
		}
	}

	return p.bus, nil
}

// Reset clears filter, reverb and canceller state.
func (p *Processor) Reset() {
	p.bus.Zero()
	p.eq.Reset()
	if p.reverb != nil {
		p.reverb.Reset()
	}
	if p.ctc != nil {
		p.ctc.Reset()
	}
}
