package conv

import "math"

// Correlate computes the full cross-correlation of a and b.
// The result has length len(a) + len(b) - 1 and index k corresponds to lag
// k - (len(b) - 1), see [LagFromIndex].
func Correlate(a, b []float64) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, ErrEmptyInput
	}

	reversed := make([]float64, len(b))
	for i := range b {
		reversed[i] = b[len(b)-1-i]
	}

	return Direct(a, reversed)
}

// FindPeak returns the index and value of the largest absolute entry.
func FindPeak(corr []float64) (int, float64) {
	if len(corr) == 0 {
		return -1, 0
	}

	idx := 0
	for i, v := range corr {
		if math.Abs(v) > math.Abs(corr[idx]) {
			idx = i
		}
	}

	return idx, corr[idx]
}

// LagFromIndex converts a [Correlate] output index to a lag in samples.
func LagFromIndex(index, lenB int) int {
	return index - (lenB - 1)
}

// DelayBetween estimates how many samples b lags a, searching lags in
// [-maxLag, maxLag]. A positive result means b is a delayed copy of a.
// The returned coefficient is normalized to [-1, 1].
func DelayBetween(a, b []float64, maxLag int) (int, float64) {
	n := min(len(a), len(b))
	if n == 0 {
		return 0, 0
	}
	if maxLag < 0 {
		maxLag = 0
	}
	maxLag = min(maxLag, n-1)

	var ea, eb float64
	for i := range n {
		ea += a[i] * a[i]
		eb += b[i] * b[i]
	}
	norm := math.Sqrt(ea * eb)
	if norm == 0 {
		return 0, 0
	}

	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		var sum float64
		for i := range n {
			j := i + lag
			if j < 0 || j >= n {
				continue
			}
			sum += a[i] * b[j]
		}
		if sum > best {
			best = sum
			bestLag = lag
		}
	}

	return bestLag, best / norm
}
