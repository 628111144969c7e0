package eq

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

// Bands is the number of graphic equalizer bands.
const Bands = 10

// octaveQ gives adjacent octave bands a -3 dB crossover.
const octaveQ = math.Sqrt2

// ErrInvalidGain is returned for non-finite or out-of-range band gains.
var ErrInvalidGain = errors.New("eq: invalid band gain")

// MaxGainDB bounds the boost or cut of a single band.
const MaxGainDB = 24.0

// BandFrequencies returns the octave-spaced centre frequencies,
// 31.25 Hz through 16 kHz.
func BandFrequencies() [Bands]float64 {
	var f [Bands]float64
	for i := range f {
		f[i] = 31.25 * math.Pow(2, float64(i))
	}
	return f
}

// Graphic is a stereo 10-band peaking equalizer.
type Graphic struct {
	sampleRate float64
	gains      [Bands]float64
	left       [Bands]Section
	right      [Bands]Section
}

// NewGraphic creates an equalizer with the given band gains in dB.
// Bands at or above Nyquist are bypassed.
func NewGraphic(sampleRate float64, gainsDB [Bands]float64) (*Graphic, error) {
	if !core.IsFinite(sampleRate) || sampleRate <= 0 {
		return nil, fmt.Errorf("eq: sample rate must be positive, got %v", sampleRate)
	}

	g := &Graphic{sampleRate: sampleRate}
	if err := g.SetGains(gainsDB); err != nil {
		return nil, err
	}

	return g, nil
}

// SetGains redesigns all bands. Filter state is kept so that gain changes
// between blocks do not click.
func (g *Graphic) SetGains(gainsDB [Bands]float64) error {
	for i, gain := range gainsDB {
		if !core.IsFinite(gain) || math.Abs(gain) > MaxGainDB {
			return fmt.Errorf("%w: band %d = %v dB", ErrInvalidGain, i, gain)
		}
	}

	freqs := BandFrequencies()
	for i, gain := range gainsDB {
		c := Peak(freqs[i], gain, octaveQ, g.sampleRate)
		g.left[i].Coefficients = c
		g.right[i].Coefficients = c
	}
	g.gains = gainsDB

	return nil
}

// Gains returns the current band gains in dB.
func (g *Graphic) Gains() [Bands]float64 {
	return g.gains
}

// Flat reports whether every band is at 0 dB.
func (g *Graphic) Flat() bool {
	for _, v := range g.gains {
		if v != 0 {
			return false
		}
	}
	return true
}

// ProcessBlock equalizes buf in place.
func (g *Graphic) ProcessBlock(buf core.Stereo) {
	if g.Flat() {
		return
	}
	for i := range g.left {
		g.left[i].ProcessBlock(buf.Left)
		g.right[i].ProcessBlock(buf.Right)
	}
}

// MagnitudeDB returns the combined design response at freqHz.
func (g *Graphic) MagnitudeDB(freqHz float64) float64 {
	total := 0.0
	for i := range g.left {
		total += g.left[i].MagnitudeDB(freqHz, g.sampleRate)
	}
	return total
}

// Reset clears all filter state.
func (g *Graphic) Reset() {
	for i := range g.left {
		g.left[i].Reset()
		g.right[i].Reset()
	}
}
