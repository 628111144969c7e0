package reverb

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/delay"
)

const (
	fdnSize = 8

	defaultFDNModDepthSec  = 0.002
	defaultFDNModRateHz    = 0.1
	fdnReferenceSampleRate = 44100.0
)

var fdnDelaySamples = [fdnSize]float64{1537, 1753, 1999, 2251, 2473, 2689, 2851, 3067}

var fdnHadamard = [fdnSize][fdnSize]float64{
	{1, 1, 1, 1, 1, 1, 1, 1},
	{1, -1, 1, -1, 1, -1, 1, -1},
	{1, 1, -1, -1, 1, 1, -1, -1},
	{1, -1, -1, 1, 1, -1, -1, 1},
	{1, 1, 1, 1, -1, -1, -1, -1},
	{1, -1, 1, -1, -1, 1, -1, 1},
	{1, 1, -1, -1, -1, -1, 1, 1},
	{1, -1, -1, 1, -1, 1, 1, -1},
}

// Output taps: the left ear hears the even lines, the right ear the odd
// ones, with alternating signs to decorrelate the tails.
var (
	fdnLeftTap  = [fdnSize]float64{1, 0, -1, 0, 1, 0, -1, 0}
	fdnRightTap = [fdnSize]float64{0, 1, 0, -1, 0, 1, 0, -1}
)

// FDNReverb is a stereo feedback-delay-network reverb with modulation and
// damping. The input is the mid signal of the block; the tail is added to
// both channels through decorrelated output taps.
type FDNReverb struct {
	sampleRate float64
	params     Params

	lfoPhase  float64
	modRateHz float64

	delays          [fdnSize]float64
	modDepthSamples float64
	preDelaySamples float64

	lines        [fdnSize]*delay.Line
	filterState  [fdnSize]float64
	feedbackGain [fdnSize]float64
	preDelayLine *delay.Line

	scale float64
}

// NewFDNReverb creates an FDN reverb for sampleRate and room parameters.
func NewFDNReverb(sampleRate float64, p Params) (*FDNReverb, error) {
	if sampleRate <= 0 || !core.IsFinite(sampleRate) {
		return nil, fmt.Errorf("%w: sample rate must be > 0: %f", ErrInvalidParams, sampleRate)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	r := &FDNReverb{
		sampleRate:      sampleRate,
		params:          p,
		modRateHz:       defaultFDNModRateHz,
		modDepthSamples: defaultFDNModDepthSec * sampleRate,
		preDelaySamples: p.PreDelay.Seconds() * sampleRate,
		scale:           1 / math.Sqrt(fdnSize),
	}

	lineScale := sampleRate / fdnReferenceSampleRate
	rt60 := p.RT60.Seconds()
	for i := range fdnSize {
		r.delays[i] = fdnDelaySamples[i] * lineScale

		line, err := delay.New(int(math.Ceil(r.delays[i]+r.modDepthSamples)) + 4)
		if err != nil {
			return nil, err
		}
		r.lines[i] = line
		r.feedbackGain[i] = math.Pow(10, -3*(r.delays[i]/sampleRate)/rt60)
	}

	pre, err := delay.New(int(math.Ceil(r.preDelaySamples)) + 4)
	if err != nil {
		return nil, err
	}
	r.preDelayLine = pre

	return r, nil
}

// Params returns the room parameters.
func (r *FDNReverb) Params() Params { return r.params }

// Reset clears all delay and filter state.
func (r *FDNReverb) Reset() {
	for i := range r.lines {
		r.lines[i].Reset()
		r.filterState[i] = 0
	}
	r.preDelayLine.Reset()
	r.lfoPhase = 0
}

// ProcessStereo processes one frame.
func (r *FDNReverb) ProcessStereo(left, right float64) (float64, float64) {
	in := 0.5 * (left + right)
	if r.preDelaySamples > 0 {
		r.preDelayLine.Write(in)
		in = r.preDelayLine.ReadFractional(r.preDelaySamples)
	}

	var taps [fdnSize]float64
	for i := range fdnSize {
		phaseOffset := 2 * math.Pi * float64(i) / fdnSize
		mod := 0.5 * (1 + math.Sin(r.lfoPhase+phaseOffset))
		taps[i] = r.lines[i].ReadFractional(r.delays[i] + r.modDepthSamples*mod)
	}

	r.lfoPhase += 2 * math.Pi * r.modRateHz / r.sampleRate
	if r.lfoPhase >= 2*math.Pi {
		r.lfoPhase -= 2 * math.Pi
	}

	damp := r.params.Damp
	for i := range fdnSize {
		feedback := 0.0
		for j := range fdnSize {
			feedback += fdnHadamard[i][j] * taps[j]
		}
		feedback *= r.scale

		filtered := feedback*(1-damp) + r.filterState[i]*damp
		r.filterState[i] = filtered
		r.lines[i].Write(in*r.scale + filtered*r.feedbackGain[i])
	}

	var outL, outR float64
	for i := range fdnSize {
		outL += fdnLeftTap[i] * taps[i]
		outR += fdnRightTap[i] * taps[i]
	}
	// Half the lines feed each ear.
	gain := r.params.Wet * 2 * r.scale

	return left*r.params.Dry + outL*gain, right*r.params.Dry + outR*gain
}

// ProcessBlock applies the reverb to buf in place.
func (r *FDNReverb) ProcessBlock(buf core.Stereo) error {
	n := min(len(buf.Left), len(buf.Right))
	for i := range n {
		buf.Left[i], buf.Right[i] = r.ProcessStereo(buf.Left[i], buf.Right[i])
	}
	return nil
}
