package binaural

import (
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

// Levels summarizes one channel of a metered stream.
type Levels struct {
	Peak      float64
	PeakDB    float64
	RMS       float64
	RMSDB     float64
	PeakPos   int // sample index of the peak
	Clipped   int // samples with magnitude above 1
	NonFinite int
}

// Meter accumulates streaming levels of a stereo signal block by block.
type Meter struct {
	n     int
	left  channelMeter
	right channelMeter
}

type channelMeter struct {
	sumSq     float64
	peak      float64
	peakPos   int
	clipped   int
	nonFinite int
}

func (c *channelMeter) update(samples []float64, offset int) {
	for i, x := range samples {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			c.nonFinite++
			continue
		}
		c.sumSq += x * x
		a := math.Abs(x)
		if a > c.peak {
			c.peak = a
			c.peakPos = offset + i
		}
		if a > 1 {
			c.clipped++
		}
	}
}

func (c *channelMeter) result(n int) Levels {
	if n == 0 {
		return Levels{PeakDB: math.Inf(-1), RMSDB: math.Inf(-1)}
	}
	rms := math.Sqrt(c.sumSq / float64(n))
	return Levels{
		Peak:      c.peak,
		PeakDB:    ampToDB(c.peak),
		RMS:       rms,
		RMSDB:     ampToDB(rms),
		PeakPos:   c.peakPos,
		Clipped:   c.clipped,
		NonFinite: c.nonFinite,
	}
}

func ampToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// NewMeter returns an empty meter.
func NewMeter() *Meter {
	return &Meter{}
}

// Update adds one stereo block.
func (m *Meter) Update(block core.Stereo) {
	n := block.Len()
	m.left.update(block.Left[:n], m.n)
	m.right.update(block.Right[:n], m.n)
	m.n += n
}

// Samples returns the number of frames seen.
func (m *Meter) Samples() int { return m.n }

// Result returns left and right levels so far.
func (m *Meter) Result() (left, right Levels) {
	return m.left.result(m.n), m.right.result(m.n)
}

// Reset clears accumulated data.
func (m *Meter) Reset() {
	*m = Meter{}
}
