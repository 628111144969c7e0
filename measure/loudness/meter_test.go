package loudness

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/internal/testutil"
)

func feed(m *Meter, left, right []float64, block int) {
	for off := 0; off < len(left); off += block {
		end := min(off+block, len(left))
		m.Update(core.Stereo{Left: left[off:end], Right: right[off:end]})
	}
}

func TestNewMeterRejectsBadRate(t *testing.T) {
	if _, err := NewMeter(0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestMonoSineInOneChannel(t *testing.T) {
	// A full-scale 1 kHz sine measures about -3.03 LUFS through
	// K-weighting: -3.01 dB mean square, +0.67 dB shelf gain, -0.691 offset.
	const fs = 48000.0
	m, err := NewMeter(fs)
	if err != nil {
		t.Fatal(err)
	}

	sig := testutil.DeterministicSine(1000, fs, 1, int(fs*4))
	feed(m, sig, make([]float64, len(sig)), 512)

	const want = -3.03
	for name, got := range map[string]float64{
		"momentary":  m.Momentary(),
		"short-term": m.ShortTerm(),
		"integrated": m.Integrated(),
	} {
		if math.Abs(got-want) > 0.2 {
			t.Errorf("%s = %v LUFS, want %v", name, got, want)
		}
	}
}

func TestStereoSumsChannelPower(t *testing.T) {
	const fs = 48000.0
	m, err := NewMeter(fs)
	if err != nil {
		t.Fatal(err)
	}

	sig := testutil.DeterministicSine(1000, fs, 1, int(fs*4))
	feed(m, sig, sig, 480)

	if got := m.Integrated(); math.Abs(got-(-0.02)) > 0.2 {
		t.Fatalf("integrated = %v LUFS, want about -0.02", got)
	}
}

func TestGatingIgnoresSilence(t *testing.T) {
	const fs = 48000.0
	m, err := NewMeter(fs)
	if err != nil {
		t.Fatal(err)
	}

	sig := testutil.DeterministicSine(1000, fs, 0.5, int(fs*3))
	silence := make([]float64, int(fs*3))
	feed(m, sig, sig, 256)
	withSignal := m.Integrated()
	feed(m, silence, silence, 256)

	if got := m.Integrated(); math.Abs(got-withSignal) > 0.5 {
		t.Fatalf("integrated after silence = %v, want %v", got, withSignal)
	}
	if got := m.Momentary(); got != Floor {
		t.Fatalf("momentary after silence = %v, want floor", got)
	}
}

func TestResetAndSilence(t *testing.T) {
	m, err := NewMeter(44100)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Integrated(); got != Floor {
		t.Fatalf("empty integrated = %v, want floor", got)
	}

	sig := testutil.DeterministicNoise(3, 0.3, 44100)
	feed(m, sig, sig, 1000)
	if m.Integrated() <= -70 {
		t.Fatal("noise should pass the absolute gate")
	}

	m.Reset()
	if got := m.Integrated(); got != Floor {
		t.Fatalf("integrated after Reset = %v, want floor", got)
	}
	if got := m.ShortTerm(); got != Floor {
		t.Fatalf("short-term after Reset = %v, want floor", got)
	}
}
