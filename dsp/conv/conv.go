package conv

import "errors"

// Errors returned by convolution functions.
var (
	ErrEmptyInput       = errors.New("conv: empty input")
	ErrEmptyKernel      = errors.New("conv: empty kernel")
	ErrLengthMismatch   = errors.New("conv: buffer length mismatch")
	ErrInvalidBlockSize = errors.New("conv: invalid block size")
	ErrInvalidFFTSize   = errors.New("conv: invalid FFT size")
	ErrKernelTooLong    = errors.New("conv: kernel too long for FFT size")
)

// Direct performs direct time-domain linear convolution of a and b.
// Returns a new slice of length len(a) + len(b) - 1.
func Direct(a, b []float64) ([]float64, error) {
	if len(a) == 0 {
		return nil, ErrEmptyInput
	}
	if len(b) == 0 {
		return nil, ErrEmptyKernel
	}

	result := make([]float64, len(a)+len(b)-1)
	DirectTo(result, a, b)

	return result, nil
}

// DirectTo performs direct convolution, writing to a pre-allocated destination.
// dst must have length len(a) + len(b) - 1.
func DirectTo(dst, a, b []float64) {
	clear(dst)

	for i, x := range a {
		if x == 0 {
			continue
		}
		row := dst[i : i+len(b)]
		for j, h := range b {
			row[j] += x * h
		}
	}
}

// MinFFTSize returns the smallest power-of-two FFT size that convolves
// blockSize-sample blocks with kernelLen-tap kernels without wrap-around.
func MinFFTSize(blockSize, kernelLen int) int {
	return NextPowerOfTwo(blockSize + kernelLen - 1)
}

// NextPowerOfTwo returns the next power of 2 >= n.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p *= 2
	}
	return p
}

// IsPowerOfTwo reports whether n is a positive power of 2.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
