package binaural

import (
	"errors"
	"fmt"
	"math"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-binaural/dsp/conv"
)

// Errors returned by the analyzers.
var (
	ErrEmptySignal       = errors.New("binaural: signal is empty")
	ErrLengthMismatch    = errors.New("binaural: left and right lengths differ")
	ErrInvalidSampleRate = errors.New("binaural: sample rate must be positive")
	ErrSilent            = errors.New("binaural: signal is silent")
	ErrInvalidBand       = errors.New("binaural: invalid frequency band")
)

// DefaultMaxITD bounds the lag search. Human heads stay below 0.8 ms.
const DefaultMaxITD = time.Millisecond

// Interaural holds the cues of an ear-signal pair.
type Interaural struct {
	// ITD is positive when the left ear lags, i.e. the source is on the right.
	ITD time.Duration
	// ITDSamples is the sub-sample lag behind ITD.
	ITDSamples float64
	// ILD is right level minus left level in dB.
	ILD float64
	// IACC is the peak normalized interaural cross-correlation in [0, 1].
	IACC float64
}

// Analyzer computes interaural cues.
type Analyzer struct {
	SampleRate float64
	MaxITD     time.Duration
}

// NewAnalyzer creates an analyzer searching lags up to DefaultMaxITD.
func NewAnalyzer(sampleRate float64) *Analyzer {
	return &Analyzer{SampleRate: sampleRate, MaxITD: DefaultMaxITD}
}

func (a *Analyzer) check(left, right []float64) error {
	if len(left) == 0 || len(right) == 0 {
		return ErrEmptySignal
	}
	if len(left) != len(right) {
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(left), len(right))
	}
	if !(a.SampleRate > 0) {
		return ErrInvalidSampleRate
	}
	return nil
}

// Analyze computes ITD, ILD and IACC.
func (a *Analyzer) Analyze(left, right []float64) (Interaural, error) {
	if err := a.check(left, right); err != nil {
		return Interaural{}, err
	}

	lag, iacc, err := a.lag(left, right)
	if err != nil {
		return Interaural{}, err
	}

	return Interaural{
		ITD:        time.Duration(lag / a.SampleRate * float64(time.Second)),
		ITDSamples: lag,
		ILD:        levelDB(right) - levelDB(left),
		IACC:       iacc,
	}, nil
}

// ITD returns the interaural time difference, positive when the left ear lags.
func (a *Analyzer) ITD(left, right []float64) (time.Duration, error) {
	r, err := a.Analyze(left, right)
	return r.ITD, err
}

// ILD returns the broadband level difference right minus left in dB.
func (a *Analyzer) ILD(left, right []float64) (float64, error) {
	if err := a.check(left, right); err != nil {
		return 0, err
	}
	if energy(left) == 0 || energy(right) == 0 {
		return 0, ErrSilent
	}
	return levelDB(right) - levelDB(left), nil
}

// BandILD returns the level difference right minus left restricted to
// [lowHz, highHz], measured on the power spectra of both ears.
func (a *Analyzer) BandILD(left, right []float64, lowHz, highHz float64) (float64, error) {
	if err := a.check(left, right); err != nil {
		return 0, err
	}
	if lowHz < 0 || highHz <= lowHz || highHz > a.SampleRate/2 {
		return 0, fmt.Errorf("%w: [%g, %g] Hz", ErrInvalidBand, lowHz, highHz)
	}

	size := conv.NextPowerOfTwo(len(left))
	tr, err := conv.NewTransformer(size)
	if err != nil {
		return 0, err
	}

	pl, err := powerSpectrum(tr, left)
	if err != nil {
		return 0, err
	}
	pr, err := powerSpectrum(tr, right)
	if err != nil {
		return 0, err
	}

	lo := int(math.Ceil(lowHz / a.SampleRate * float64(size)))
	hi := int(math.Floor(highHz / a.SampleRate * float64(size)))
	if hi < lo {
		return 0, fmt.Errorf("%w: band narrower than one bin", ErrInvalidBand)
	}

	el := vecmath.Sum(pl[lo : hi+1])
	er := vecmath.Sum(pr[lo : hi+1])
	if el == 0 || er == 0 {
		return 0, ErrSilent
	}

	return 10 * math.Log10(er/el), nil
}

// lag finds the sub-sample lag of left relative to right and the
// normalized correlation at that lag.
func (a *Analyzer) lag(left, right []float64) (float64, float64, error) {
	el, er := energy(left), energy(right)
	if el == 0 || er == 0 {
		return 0, 0, ErrSilent
	}

	corr, err := conv.Correlate(left, right)
	if err != nil {
		return 0, 0, err
	}

	maxLag := int(math.Ceil(a.MaxITD.Seconds() * a.SampleRate))
	maxLag = min(maxLag, len(left)-1)
	zero := len(right) - 1

	best := zero
	for k := zero - maxLag; k <= zero+maxLag; k++ {
		if corr[k] > corr[best] {
			best = k
		}
	}

	lag := float64(conv.LagFromIndex(best, len(right)))

	// Parabolic refinement around the integer peak.
	if best > zero-maxLag && best < zero+maxLag {
		y0, y1, y2 := corr[best-1], corr[best], corr[best+1]
		if d := y0 - 2*y1 + y2; d < 0 {
			lag += 0.5 * (y0 - y2) / d
		}
	}

	iacc := math.Max(0, corr[best]/math.Sqrt(el*er))
	return lag, math.Min(iacc, 1), nil
}

func powerSpectrum(tr *conv.Transformer, x []float64) ([]float64, error) {
	n := tr.Size()
	frame := make([]float64, n)
	copy(frame, x)

	spec := make([]complex128, n)
	if err := tr.Forward(spec, frame); err != nil {
		return nil, err
	}

	half := n/2 + 1
	re := make([]float64, half)
	im := make([]float64, half)
	for i := range half {
		re[i], im[i] = real(spec[i]), imag(spec[i])
	}

	power := make([]float64, half)
	vecmath.Power(power, re, im)
	return power, nil
}

func energy(x []float64) float64 {
	return vecmath.DotProduct(x, x)
}

func levelDB(x []float64) float64 {
	e := energy(x)
	if e == 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(e/float64(len(x)))
}
