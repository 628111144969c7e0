package hrir

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/dsp/eq"
)

// Source produces the impulse response pair for a direction. Implementations
// must be safe for concurrent use; the bank queries rows in parallel.
type Source interface {
	Impulse(azimuth, elevation float64, length int, sampleRate float64) (left, right []float64, err error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(azimuth, elevation float64, length int, sampleRate float64) (left, right []float64, err error)

// Impulse calls f.
func (f SourceFunc) Impulse(azimuth, elevation float64, length int, sampleRate float64) ([]float64, []float64, error) {
	return f(azimuth, elevation, length, sampleRate)
}

// SphericalHead synthesizes minimum-assumption HRIRs from a rigid sphere.
//
// The level difference comes from the Brown-Duda one-pole/one-zero head
// shadow filter evaluated at each ear's incidence angle. An elevation-driven
// pinna notch and a rear high-shelf cut add the monaural cues a sphere lacks.
// Every response is linear phase with the same group delay of length/2
// samples, so the pair carries no interaural delay; ITD is applied at run
// time (see WoodworthITD).
type SphericalHead struct {
	Radius       float64 // metres
	SpeedOfSound float64 // metres per second

	// NotchDepthDB is the pinna notch depth, NotchLowHz and NotchHighHz
	// its centre frequency at elevations -90 and +90.
	NotchDepthDB float64
	NotchLowHz   float64
	NotchHighHz  float64

	// RearShelfDB is the high-frequency cut for a source directly behind.
	RearShelfDB float64
}

// DefaultHead returns an 8.75 cm sphere in air at 343 m/s.
func DefaultHead() SphericalHead {
	return SphericalHead{
		Radius:       0.0875,
		SpeedOfSound: 343,
		NotchDepthDB: 10,
		NotchLowHz:   5000,
		NotchHighHz:  11000,
		RearShelfDB:  4,
	}
}

const (
	shadowAlphaMin = 0.1
	shadowThetaMin = 150.0 // degrees
)

// ShadowAlpha returns the Brown-Duda zero coefficient for an incidence angle
// in degrees measured from the ear axis.
func ShadowAlpha(thetaDeg float64) float64 {
	return (1 + shadowAlphaMin/2) + (1-shadowAlphaMin/2)*math.Cos(thetaDeg/shadowThetaMin*math.Pi)
}

// ShadowMagnitude returns |H(f)| of the head shadow filter
// H(w) = (1 + j*alpha*w/(2*w0)) / (1 + j*w/(2*w0)), w0 = c/a.
func (h SphericalHead) ShadowMagnitude(freqHz, thetaDeg float64) float64 {
	w0 := h.SpeedOfSound / h.Radius
	x := 2 * math.Pi * freqHz / (2 * w0)
	alpha := ShadowAlpha(thetaDeg)

	return math.Sqrt((1 + alpha*alpha*x*x) / (1 + x*x))
}

// Impulse implements Source.
func (h SphericalHead) Impulse(azimuth, elevation float64, length int, sampleRate float64) ([]float64, []float64, error) {
	if length < 2 {
		return nil, nil, fmt.Errorf("%w: length %d", ErrInvalidLength, length)
	}
	if h.Radius <= 0 || h.SpeedOfSound <= 0 {
		return nil, nil, fmt.Errorf("%w: radius %v, speed of sound %v", ErrInvalidHead, h.Radius, h.SpeedOfSound)
	}

	size := conv.NextPowerOfTwo(length)
	tr, err := conv.NewTransformer(size)
	if err != nil {
		return nil, nil, err
	}

	x, y, _ := direction(azimuth, elevation)
	thetaRight := math.Acos(clampUnit(x)) * 180 / math.Pi
	thetaLeft := math.Acos(clampUnit(-x)) * 180 / math.Pi

	span := h.NotchHighHz - h.NotchLowHz
	notch := eq.Peak(h.NotchLowHz+span*(elevation+90)/180, -h.NotchDepthDB, 2, sampleRate)

	rear := eq.Identity()
	if y < 0 && h.RearShelfDB > 0 {
		rear = eq.HighShelf(3000, h.RearShelfDB*y, 0, sampleRate)
	}

	monaural := func(f float64) float64 {
		return math.Pow(10, (notch.MagnitudeDB(f, sampleRate)+rear.MagnitudeDB(f, sampleRate))/20)
	}

	left, err := h.synthesize(tr, length, sampleRate, func(f float64) float64 {
		return h.ShadowMagnitude(f, thetaLeft) * monaural(f)
	})
	if err != nil {
		return nil, nil, err
	}

	right, err := h.synthesize(tr, length, sampleRate, func(f float64) float64 {
		return h.ShadowMagnitude(f, thetaRight) * monaural(f)
	})
	if err != nil {
		return nil, nil, err
	}

	return left, right, nil
}

// synthesize designs a linear-phase FIR from a magnitude response by
// frequency sampling and Hann windowing.
func (h SphericalHead) synthesize(tr *conv.Transformer, length int, sampleRate float64, mag func(float64) float64) ([]float64, error) {
	size := tr.Size()
	spec := make([]complex128, size)

	// A delay of size/2 makes the phase term (-1)^k.
	for k := 0; k <= size/2; k++ {
		v := mag(float64(k) * sampleRate / float64(size))
		if k%2 == 1 {
			v = -v
		}
		spec[k] = complex(v, 0)
		if k > 0 && k < size/2 {
			spec[size-k] = complex(v, 0)
		}
	}

	full := make([]float64, size)
	if err := tr.Inverse(full, spec); err != nil {
		return nil, err
	}

	start := size/2 - length/2
	out := make([]float64, length)
	for n := range out {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(n)/float64(length))
		out[n] = full[start+n] * w
	}

	return out, nil
}

// WoodworthITD returns the interaural time difference in seconds for a
// spherical head. The result is positive when the source is to the right,
// meaning the left ear receives the sound later.
func WoodworthITD(azimuth, elevation, radius, speedOfSound float64) float64 {
	az := azimuth * math.Pi / 180
	el := elevation * math.Pi / 180
	lateral := math.Asin(clampUnit(math.Cos(el) * math.Sin(az)))

	itd := radius / speedOfSound * (math.Abs(lateral) + math.Sin(math.Abs(lateral)))
	if lateral < 0 {
		return -itd
	}
	return itd
}

// direction returns the head-frame unit vector: x right, y front, z up.
func direction(azimuth, elevation float64) (x, y, z float64) {
	az := azimuth * math.Pi / 180
	el := elevation * math.Pi / 180
	return math.Cos(el) * math.Sin(az), math.Cos(el) * math.Cos(az), math.Sin(el)
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
