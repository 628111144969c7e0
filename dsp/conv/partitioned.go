package conv

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Partitioned implements uniformly partitioned overlap-save convolution for
// impulse responses much longer than one block.
//
// The kernel is cut into blockSize-sample partitions whose 2*blockSize-point
// spectra are computed once. Each block, the input frame spectrum enters a
// frequency-domain delay line and the output spectrum is the sum of delayed
// frames times partition spectra. Latency is zero; cost per block is one
// forward and one inverse FFT plus one complex multiply-add per partition.
type Partitioned struct {
	plan *algofft.Plan[complex128]

	blockSize int
	fftSize   int
	kernelLen int

	parts [][]complex128
	fdl   [][]complex128 // ring of past frame spectra, fdl[head] is newest
	head  int

	history []float64
	acc     []complex128
}

// NewPartitioned creates a partitioned convolver for kernel and blockSize.
func NewPartitioned(kernel []float64, blockSize int) (*Partitioned, error) {
	if len(kernel) == 0 {
		return nil, ErrEmptyKernel
	}
	if blockSize <= 0 || !IsPowerOfTwo(blockSize) {
		return nil, fmt.Errorf("%w: blockSize must be a positive power of 2, got %d", ErrInvalidBlockSize, blockSize)
	}

	fftSize := 2 * blockSize
	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: failed to create FFT plan: %w", err)
	}

	count := (len(kernel) + blockSize - 1) / blockSize
	p := &Partitioned{
		plan:      plan,
		blockSize: blockSize,
		fftSize:   fftSize,
		kernelLen: len(kernel),
		parts:     make([][]complex128, count),
		fdl:       make([][]complex128, count),
		history:   make([]float64, blockSize),
		acc:       make([]complex128, fftSize),
	}

	buf := make([]complex128, fftSize)
	for k := range count {
		clear(buf)
		start := k * blockSize
		end := min(start+blockSize, len(kernel))
		for i, v := range kernel[start:end] {
			buf[i] = complex(v, 0)
		}

		p.parts[k] = make([]complex128, fftSize)
		if err := plan.Forward(p.parts[k], buf); err != nil {
			return nil, fmt.Errorf("conv: partition %d FFT failed: %w", k, err)
		}

		p.fdl[k] = make([]complex128, fftSize)
	}

	return p, nil
}

// ProcessBlockTo convolves one block. input and output must hold BlockSize
// samples and may alias.
func (p *Partitioned) ProcessBlockTo(output, input []float64) error {
	if len(input) != p.blockSize {
		return fmt.Errorf("%w: expected %d input samples, got %d", ErrLengthMismatch, p.blockSize, len(input))
	}
	if len(output) != p.blockSize {
		return fmt.Errorf("%w: expected %d output samples, got %d", ErrLengthMismatch, p.blockSize, len(output))
	}

	p.head = (p.head + 1) % len(p.fdl)
	frame := p.fdl[p.head]

	for i, v := range p.history {
		frame[i] = complex(v, 0)
	}
	for i, v := range input {
		frame[p.blockSize+i] = complex(v, 0)
	}
	copy(p.history, input)

	if err := p.plan.Forward(frame, frame); err != nil {
		return fmt.Errorf("conv: forward FFT failed: %w", err)
	}

	clear(p.acc)
	n := len(p.fdl)
	for k, part := range p.parts {
		delayed := p.fdl[(p.head-k+n)%n]
		for i := range p.acc {
			p.acc[i] += delayed[i] * part[i]
		}
	}

	if err := p.plan.Inverse(p.acc, p.acc); err != nil {
		return fmt.Errorf("conv: inverse FFT failed: %w", err)
	}

	for i := range output {
		output[i] = real(p.acc[p.blockSize+i])
	}

	return nil
}

// Reset clears the input history and the delay line.
func (p *Partitioned) Reset() {
	clear(p.history)
	for _, f := range p.fdl {
		clear(f)
	}
	p.head = 0
}

// BlockSize returns the block size.
func (p *Partitioned) BlockSize() int {
	return p.blockSize
}

// KernelLen returns the original kernel length.
func (p *Partitioned) KernelLen() int {
	return p.kernelLen
}

// Partitions returns the number of kernel partitions.
func (p *Partitioned) Partitions() int {
	return len(p.parts)
}
