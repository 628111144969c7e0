// Package loudness meters rendered stereo output following ITU-R BS.1770
// and EBU R128: K-weighting, momentary (400 ms) and short-term (3 s)
// sliding windows, and gated integrated loudness.
package loudness

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/eq"
)

// ErrInvalidSampleRate is returned for a non-positive sample rate.
var ErrInvalidSampleRate = errors.New("loudness: sample rate must be positive")

const (
	// K-weighting per BS.1770.
	shelfHz  = 1500.0
	shelfDB  = 4.0
	hpfHz    = 38.0
	butterQ  = 0.7071067811865476
	channels = 2

	momentary = 0.4
	shortTerm = 3.0
	blockStep = 0.1 // 75 % overlap of 400 ms gating blocks

	absoluteGate = -70.0
	relativeGate = -10.0

	// Floor reported for silence.
	Floor = -120.0
)

// window is a running sum of squares over the last len(ring) samples.
type window struct {
	ring []float64
	pos  int
	sum  float64
}

func (w *window) push(sq float64) {
	w.sum += sq - w.ring[w.pos]
	if w.sum < 0 {
		w.sum = 0
	}
	w.ring[w.pos] = sq
	w.pos = (w.pos + 1) % len(w.ring)
}

func (w *window) mean() float64 { return w.sum / float64(len(w.ring)) }

func (w *window) reset() {
	clear(w.ring)
	w.pos = 0
	w.sum = 0
}

// Meter measures the loudness of a stereo stream block by block. It is not
// safe for concurrent use.
type Meter struct {
	sampleRate float64

	shelf [channels]*eq.Section
	hpf   [channels]*eq.Section
	mom   [channels]window
	short [channels]window

	step      int
	sinceStep int
	seen      int
	blocks    []float64
}

// NewMeter returns a meter for sampleRate.
func NewMeter(sampleRate float64) (*Meter, error) {
	if !core.IsFinite(sampleRate) || sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}

	m := &Meter{sampleRate: sampleRate}
	shelf := eq.HighShelf(shelfHz, shelfDB, butterQ, sampleRate)
	hpf := eq.Highpass(hpfHz, butterQ, sampleRate)
	momLen := max(int(math.Round(momentary*sampleRate)), 1)
	shortLen := max(int(math.Round(shortTerm*sampleRate)), 1)
	for ch := range channels {
		m.shelf[ch] = eq.NewSection(shelf)
		m.hpf[ch] = eq.NewSection(hpf)
		m.mom[ch].ring = make([]float64, momLen)
		m.short[ch].ring = make([]float64, shortLen)
	}
	m.step = max(int(math.Round(blockStep*sampleRate)), 1)

	return m, nil
}

// Update adds one stereo block.
func (m *Meter) Update(block core.Stereo) {
	n := block.Len()
	for i := range n {
		m.push(0, block.Left[i])
		m.push(1, block.Right[i])

		m.seen++
		m.sinceStep++
		// Gating blocks start once the first 400 ms window is full.
		if m.sinceStep >= m.step && m.seen >= len(m.mom[0].ring) {
			m.sinceStep = 0
			m.blocks = append(m.blocks, m.power(m.mom[:]))
		}
	}
}

func (m *Meter) push(ch int, x float64) {
	if !core.IsFinite(x) {
		x = 0
	}
	y := m.hpf[ch].ProcessSample(m.shelf[ch].ProcessSample(x))
	sq := y * y
	m.mom[ch].push(sq)
	m.short[ch].push(sq)
}

func (m *Meter) power(w []window) float64 {
	var p float64
	for ch := range w {
		p += w[ch].mean()
	}
	return p
}

// Momentary returns the loudness of the last 400 ms in LUFS.
func (m *Meter) Momentary() float64 { return lufs(m.power(m.mom[:])) }

// ShortTerm returns the loudness of the last 3 s in LUFS.
func (m *Meter) ShortTerm() float64 { return lufs(m.power(m.short[:])) }

// Integrated returns the gated loudness of everything seen since the last
// Reset, or Floor when no block passes the gates.
func (m *Meter) Integrated() float64 {
	var sum float64
	var n int
	for _, b := range m.blocks {
		if lufs(b) > absoluteGate {
			sum += b
			n++
		}
	}
	if n == 0 {
		return Floor
	}

	gate := lufs(sum/float64(n)) + relativeGate
	sum, n = 0, 0
	for _, b := range m.blocks {
		if l := lufs(b); l > absoluteGate && l > gate {
			sum += b
			n++
		}
	}
	if n == 0 {
		return Floor
	}
	return lufs(sum / float64(n))
}

// Reset clears all history.
func (m *Meter) Reset() {
	for ch := range channels {
		m.shelf[ch].Reset()
		m.hpf[ch].Reset()
		m.mom[ch].reset()
		m.short[ch].reset()
	}
	m.sinceStep = 0
	m.seen = 0
	m.blocks = m.blocks[:0]
}

func lufs(power float64) float64 {
	if power <= 0 {
		return Floor
	}
	return max(-0.691+10*math.Log10(power), Floor)
}
