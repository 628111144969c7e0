package conv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Transformer converts real signals to and from fixed-size complex spectra.
// A Transformer is not safe for concurrent use.
type Transformer struct {
	plan *algofft.Plan[complex128]
	size int
	buf  []complex128
}

// NewTransformer creates a transformer for power-of-two size.
func NewTransformer(size int) (*Transformer, error) {
	if !IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w: %d is not a power of 2", ErrInvalidFFTSize, size)
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan: %w", err)
	}

	return &Transformer{
		plan: plan,
		size: size,
		buf:  make([]complex128, size),
	}, nil
}

// Size returns the transform length.
func (t *Transformer) Size() int {
	return t.size
}

// Forward writes the spectrum of src, zero-padded to Size, into dst.
func (t *Transformer) Forward(dst []complex128, src []float64) error {
	if len(dst) != t.size {
		return fmt.Errorf("%w: expected %d bins, got %d", ErrLengthMismatch, t.size, len(dst))
	}
	if len(src) > t.size {
		return fmt.Errorf("%w: %d samples exceed FFT size %d", ErrKernelTooLong, len(src), t.size)
	}

	clear(t.buf)
	for i, v := range src {
		t.buf[i] = complex(v, 0)
	}

	if err := t.plan.Forward(dst, t.buf); err != nil {
		return fmt.Errorf("conv: forward FFT failed: %w", err)
	}

	return nil
}

// Inverse writes the real part of the inverse transform of src into dst.
// dst may be shorter than Size, in which case the tail is dropped.
func (t *Transformer) Inverse(dst []float64, src []complex128) error {
	if len(src) != t.size {
		return fmt.Errorf("%w: expected %d bins, got %d", ErrLengthMismatch, t.size, len(src))
	}
	if len(dst) > t.size {
		return fmt.Errorf("%w: %d output samples exceed FFT size %d", ErrLengthMismatch, len(dst), t.size)
	}

	if err := t.plan.Inverse(t.buf, src); err != nil {
		return fmt.Errorf("conv: inverse FFT failed: %w", err)
	}

	for i := range dst {
		dst[i] = real(t.buf[i])
	}

	return nil
}

// KernelSpectrum returns the Size-point spectrum of kernel.
func (t *Transformer) KernelSpectrum(kernel []float64) ([]complex128, error) {
	if len(kernel) == 0 {
		return nil, ErrEmptyKernel
	}

	out := make([]complex128, t.size)
	if err := t.Forward(out, kernel); err != nil {
		return nil, err
	}

	return out, nil
}
