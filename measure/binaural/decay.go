package binaural

import (
	"errors"
	"math"
	"time"
)

// ErrNoDecay is returned when an impulse response does not fall far enough
// for a decay estimate.
var ErrNoDecay = errors.New("binaural: insufficient decay for reverberation time")

// SchroederCurve returns the backward-integrated energy decay of ir in dB,
// normalized to 0 dB at the first sample and floored at -200 dB.
func SchroederCurve(ir []float64) ([]float64, error) {
	if len(ir) == 0 {
		return nil, ErrEmptySignal
	}

	curve := make([]float64, len(ir))
	var sum float64
	for i := len(ir) - 1; i >= 0; i-- {
		sum += ir[i] * ir[i]
		curve[i] = sum
	}

	total := curve[0]
	if total <= 0 {
		return nil, ErrSilent
	}
	for i, v := range curve {
		if v <= 0 {
			curve[i] = -200
			continue
		}
		curve[i] = 10 * math.Log10(v/total)
	}

	return curve, nil
}

// DecayTime estimates the time for ir to decay by 60 dB by fitting a line to
// the Schroeder curve between -5 and -25 dB (T20) and extrapolating.
func DecayTime(ir []float64, sampleRate float64) (time.Duration, error) {
	if !(sampleRate > 0) {
		return 0, ErrInvalidSampleRate
	}

	curve, err := SchroederCurve(ir)
	if err != nil {
		return 0, err
	}

	start, end := -1, -1
	for i, v := range curve {
		if start < 0 && v <= -5 {
			start = i
		}
		if start >= 0 && v <= -25 {
			end = i
			break
		}
	}
	if start < 0 || end <= start+1 {
		return 0, ErrNoDecay
	}

	var sx, sy, sxx, sxy float64
	for i := start; i <= end; i++ {
		x := float64(i - start)
		sx += x
		sy += curve[i]
		sxx += x * x
		sxy += x * curve[i]
	}
	n := float64(end - start + 1)
	slope := (n*sxy - sx*sy) / (n*sxx - sx*sx)
	if !(slope < 0) {
		return 0, ErrNoDecay
	}

	seconds := -60 / (slope * sampleRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
