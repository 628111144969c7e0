// Package delay provides circular delay lines with fractional reads.
//
// Delays are measured from the newest sample: Read(0) returns the sample
// written last, Read(1) the one before it. Fractional reads use 4-point cubic
// Hermite interpolation, which keeps a time-varying delay free of the zipper
// noise linear interpolation produces.
package delay

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSize is returned for non-positive delay line sizes.
var ErrInvalidSize = errors.New("delay: invalid size")

// Line is a circular delay line.
type Line struct {
	buffer []float64
	pos    int // index of the newest sample
}

// New returns a delay line holding size samples. The longest usable
// fractional delay is size-3.
func New(size int) (*Line, error) {
	if size < 4 {
		return nil, fmt.Errorf("%w: need at least 4 samples, got %d", ErrInvalidSize, size)
	}
	return &Line{buffer: make([]float64, size)}, nil
}

// Len returns internal buffer size.
func (d *Line) Len() int {
	return len(d.buffer)
}

// MaxDelay returns the longest delay ReadFractional honours.
func (d *Line) MaxDelay() float64 {
	return float64(len(d.buffer) - 3)
}

// Write pushes one sample.
func (d *Line) Write(sample float64) {
	d.pos++
	if d.pos >= len(d.buffer) {
		d.pos = 0
	}
	d.buffer[d.pos] = sample
}

// Read reads an integer delay in samples, clamped to the buffer.
func (d *Line) Read(delay int) float64 {
	size := len(d.buffer)
	if delay < 0 {
		delay = 0
	} else if delay >= size {
		delay = size - 1
	}
	idx := d.pos - delay
	if idx < 0 {
		idx += size
	}
	return d.buffer[idx]
}

// ReadFractional reads a fractional delay with cubic Hermite interpolation.
// The delay is clamped to [0, MaxDelay].
func (d *Line) ReadFractional(delay float64) float64 {
	if !(delay > 0) {
		delay = 0
	}
	if maxDelay := d.MaxDelay(); delay > maxDelay {
		delay = maxDelay
	}

	p := int(math.Floor(delay))
	t := delay - float64(p)
	if t == 0 {
		return d.Read(p)
	}

	xm1 := d.Read(max(0, p-1))
	x0 := d.Read(p)
	x1 := d.Read(p + 1)
	x2 := d.Read(p + 2)

	return Hermite4(t, xm1, x0, x1, x2)
}

// ProcessRamp writes src through the line and reads dst with a delay that
// moves linearly from from to to over the block, reaching to on the last
// sample. dst and src may alias.
func (d *Line) ProcessRamp(dst, src []float64, from, to float64) {
	n := min(len(dst), len(src))
	if n == 0 {
		return
	}

	step := (to - from) / float64(n)
	for i := range n {
		d.Write(src[i])
		dst[i] = d.ReadFractional(from + step*float64(i+1))
	}
}

// Reset clears line state.
func (d *Line) Reset() {
	clear(d.buffer)
	d.pos = 0
}

// Hermite4 computes cubic 4-point interpolation between x0 and x1 at t in
// [0, 1], using neighbours xm1 and x2.
func Hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}
