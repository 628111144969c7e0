package conv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// OverlapSave implements streaming FFT convolution of fixed-size blocks
// against precomputed kernel spectra.
//
// Each block is appended to the last fftSize-blockSize input samples, the
// frame is transformed once by Analyze, and every FilterTo call multiplies
// that frame spectrum by a kernel spectrum, inverse-transforms it and keeps
// the last blockSize samples. The leading samples carry circular wrap-around
// and are discarded.
type OverlapSave struct {
	plan *algofft.Plan[complex128]

	blockSize int
	fftSize   int

	// history holds the most recent fftSize-blockSize input samples.
	history []float64

	frame    []complex128 // spectrum of the last analyzed frame
	work     []complex128
	analyzed bool
}

// NewOverlapSave creates an overlap-save convolver for blockSize-sample blocks
// and a power-of-two fftSize larger than blockSize.
func NewOverlapSave(blockSize, fftSize int) (*OverlapSave, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: blockSize must be positive, got %d", ErrInvalidBlockSize, blockSize)
	}
	if !IsPowerOfTwo(fftSize) || fftSize <= blockSize {
		return nil, fmt.Errorf("%w: %d must be a power of 2 larger than block size %d",
			ErrInvalidFFTSize, fftSize, blockSize)
	}

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan: %w", err)
	}

	return &OverlapSave{
		plan:      plan,
		blockSize: blockSize,
		fftSize:   fftSize,
		history:   make([]float64, fftSize-blockSize),
		frame:     make([]complex128, fftSize),
		work:      make([]complex128, fftSize),
	}, nil
}

// Analyze transforms the frame [history | input] and slides the history by
// one block. input must hold exactly BlockSize samples.
func (o *OverlapSave) Analyze(input []float64) error {
	if len(input) != o.blockSize {
		return fmt.Errorf("%w: expected %d input samples, got %d", ErrLengthMismatch, o.blockSize, len(input))
	}

	h := len(o.history)
	for i, v := range o.history {
		o.frame[i] = complex(v, 0)
	}
	for i, v := range input {
		o.frame[h+i] = complex(v, 0)
	}

	if o.blockSize >= h {
		copy(o.history, input[o.blockSize-h:])
	} else {
		copy(o.history, o.history[o.blockSize:])
		copy(o.history[h-o.blockSize:], input)
	}

	if err := o.plan.Forward(o.frame, o.frame); err != nil {
		o.analyzed = false
		return fmt.Errorf("conv: forward FFT failed: %w", err)
	}

	o.analyzed = true

	return nil
}

// FilterTo convolves the last analyzed frame with kernel, an FFTSize-point
// spectrum, and writes BlockSize valid samples to output.
func (o *OverlapSave) FilterTo(output []float64, kernel []complex128) error {
	if len(output) != o.blockSize {
		return fmt.Errorf("%w: expected %d output samples, got %d", ErrLengthMismatch, o.blockSize, len(output))
	}
	if len(kernel) != o.fftSize {
		return fmt.Errorf("%w: expected %d kernel bins, got %d", ErrLengthMismatch, o.fftSize, len(kernel))
	}
	if !o.analyzed {
		clear(output)
		return nil
	}

	for i := range o.work {
		o.work[i] = o.frame[i] * kernel[i]
	}

	if err := o.plan.Inverse(o.work, o.work); err != nil {
		return fmt.Errorf("conv: inverse FFT failed: %w", err)
	}

	valid := o.work[o.fftSize-o.blockSize:]
	for i := range output {
		output[i] = real(valid[i])
	}

	return nil
}

// ProcessBlockTo analyzes input and filters it with a single kernel spectrum.
func (o *OverlapSave) ProcessBlockTo(output, input []float64, kernel []complex128) error {
	if err := o.Analyze(input); err != nil {
		return err
	}
	return o.FilterTo(output, kernel)
}

// Reset clears the input history.
func (o *OverlapSave) Reset() {
	clear(o.history)
	clear(o.frame)
	o.analyzed = false
}

// BlockSize returns the block size.
func (o *OverlapSave) BlockSize() int {
	return o.blockSize
}

// FFTSize returns the FFT size.
func (o *OverlapSave) FFTSize() int {
	return o.fftSize
}

// HistoryLen returns the number of retained input samples, fftSize-blockSize.
func (o *OverlapSave) HistoryLen() int {
	return len(o.history)
}

// MaxKernelLen returns the longest kernel convolved without wrap-around.
func (o *OverlapSave) MaxKernelLen() int {
	return o.fftSize - o.blockSize + 1
}
