package reverb

import (
	"fmt"
	"math"
	"math/rand/v2"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/eq"
)

const (
	// Tail length as a multiple of RT60; the tail is 60 dB down at 1x.
	irLengthFactor = 1.2
	maxIRSeconds   = 6.0

	dampMinHz = 2000.0
	dampMaxHz = 16000.0
)

// SyntheticIR builds a deterministic exponentially decaying noise tail with
// unit energy. Damping lowers a lowpass cutoff applied to the tail.
func SyntheticIR(sampleRate float64, p Params, seed uint64) []float64 {
	rt60 := p.RT60.Seconds()
	n := int(math.Min(rt60*irLengthFactor, maxIRSeconds) * sampleRate)
	pre := int(p.PreDelay.Seconds() * sampleRate)
	n = max(n, 1)

	ir := make([]float64, pre+n)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	// exp(-6.9078 t / rt60) reaches -60 dB at rt60.
	k := -math.Log(1000) / (rt60 * sampleRate)
	for i := range n {
		ir[pre+i] = (2*rng.Float64() - 1) * math.Exp(k*float64(i))
	}

	cutoff := dampMaxHz - p.Damp*(dampMaxHz-dampMinHz)
	if cutoff < sampleRate/2*0.95 {
		lp := eq.NewSection(eq.Lowpass(cutoff, 0.7071067811865476, sampleRate))
		lp.ProcessBlock(ir[pre:])
	}

	energy := 0.0
	for _, v := range ir {
		energy += v * v
	}
	if energy > 0 {
		core.Scale(ir, 1/math.Sqrt(energy))
	}

	return ir
}

// ConvolutionReverb convolves each channel with its own synthetic room
// tail. The two tails use different noise seeds so the reverb is wide.
type ConvolutionReverb struct {
	params Params
	left   *conv.Partitioned
	right  *conv.Partitioned
	wetL   []float64
	wetR   []float64
	wet    []float64
	dry    []float64
}

// NewConvolutionReverb builds a convolution reverb for format. The block size
// must be a power of two.
func NewConvolutionReverb(format core.Format, p Params) (*ConvolutionReverb, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	irL := SyntheticIR(format.SampleRate, p, 1)
	irR := SyntheticIR(format.SampleRate, p, 2)

	left, err := conv.NewPartitioned(irL, format.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("reverb: left convolver: %w", err)
	}
	right, err := conv.NewPartitioned(irR, format.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("reverb: right convolver: %w", err)
	}

	n := format.BlockSize
	r := &ConvolutionReverb{
		params: p,
		left:   left,
		right:  right,
		wetL:   make([]float64, n),
		wetR:   make([]float64, n),
		wet:    make([]float64, n),
		dry:    make([]float64, n),
	}
	for i := range n {
		r.wet[i] = p.Wet
		r.dry[i] = p.Dry
	}
	return r, nil
}

// Params returns the room parameters.
func (r *ConvolutionReverb) Params() Params { return r.params }

// ProcessBlock applies the reverb to buf in place.
func (r *ConvolutionReverb) ProcessBlock(buf core.Stereo) error {
	if err := r.left.ProcessBlockTo(r.wetL, buf.Left); err != nil {
		return err
	}
	if err := r.right.ProcessBlockTo(r.wetR, buf.Right); err != nil {
		return err
	}

	vecmath.MulBlockInPlace(r.wetL, r.wet)
	vecmath.MulBlockInPlace(r.wetR, r.wet)
	vecmath.MulAddBlock(buf.Left, buf.Left, r.dry, r.wetL)
	vecmath.MulAddBlock(buf.Right, buf.Right, r.dry, r.wetR)

	return nil
}

// Reset clears convolution state.
func (r *ConvolutionReverb) Reset() {
	r.left.Reset()
	r.right.Reset()
}

// TailLength returns the impulse response length in samples.
func (r *ConvolutionReverb) TailLength() int { return r.left.KernelLen() }
