// Package testutil holds deterministic test signals and tolerance helpers
// shared by the DSP and pipeline tests.
package testutil

import (
	"math"
	"math/rand"
)

// DeterministicSine generates a deterministic sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// Impulse generates a unit impulse at the given position.
func Impulse(length, pos int) []float64 {
	out := make([]float64, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// RMS returns the root-mean-square level of buf.
func RMS(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range buf {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(buf)))
}

// LevelDB returns the RMS level of buf in dBFS.
func LevelDB(buf []float64) float64 {
	return 20 * math.Log10(RMS(buf))
}

// MaxStep returns the largest absolute difference between adjacent samples.
func MaxStep(buf []float64) float64 {
	step := 0.0
	for i := 1; i < len(buf); i++ {
		if d := math.Abs(buf[i] - buf[i-1]); d > step {
			step = d
		}
	}
	return step
}
