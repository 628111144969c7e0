package core

import vecmath "github.com/cwbudde/algo-vecmath"

// EnsureLen returns a slice with the requested length, reusing buf capacity if possible.
func EnsureLen(buf []float64, n int) []float64 {
	if n <= 0 {
		return buf[:0]
	}
	if cap(buf) >= n {
		return buf[:n]
	}
	return make([]float64, n)
}

// Zero sets all values in buf to 0.
func Zero(buf []float64) {
	clear(buf)
}

// CopyInto copies src into dst and returns the number of copied elements.
func CopyInto(dst, src []float64) int {
	return copy(dst, src)
}

// Peak returns the largest absolute sample value in buf.
func Peak(buf []float64) float64 {
	if len(buf) == 0 {
		return 0
	}
	return vecmath.MaxAbs(buf)
}

// AddScaled accumulates gain*src into dst over the shorter of the two lengths.
func AddScaled(dst, src []float64, gain float64) {
	n := min(len(dst), len(src))
	for i := range n {
		dst[i] += gain * src[i]
	}
}

// Scale multiplies every sample of buf by gain.
func Scale(buf []float64, gain float64) {
	vecmath.ScaleBlockInPlace(buf, gain)
}

// Ramp fills dst with a linear ramp from start towards end. The last sample
// reaches end exactly so consecutive ramps join without a step.
func Ramp(dst []float64, start, end float64) {
	n := len(dst)
	if n == 0 {
		return
	}
	if n == 1 {
		dst[0] = end
		return
	}

	step := (end - start) / float64(n-1)
	for i := range dst {
		dst[i] = start + step*float64(i)
	}
	dst[n-1] = end
}
