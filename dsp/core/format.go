package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFormat is returned when a block format cannot drive a pipeline.
var ErrInvalidFormat = errors.New("core: invalid block format")

// Format fixes the sample rate and block size of a processing pipeline.
// It does not change for the lifetime of the pipeline.
type Format struct {
	SampleRate float64
	BlockSize  int
}

// FormatOption mutates a Format.
type FormatOption func(*Format)

// DefaultFormat returns 48 kHz with 512-frame blocks.
func DefaultFormat() Format {
	return Format{
		SampleRate: 48000,
		BlockSize:  512,
	}
}

// WithSampleRate sets the sample rate. Non-positive values are ignored.
func WithSampleRate(sampleRate float64) FormatOption {
	return func(f *Format) {
		if sampleRate > 0 {
			f.SampleRate = sampleRate
		}
	}
}

// WithBlockSize sets the block size. Non-positive values are ignored.
func WithBlockSize(blockSize int) FormatOption {
	return func(f *Format) {
		if blockSize > 0 {
			f.BlockSize = blockSize
		}
	}
}

// NewFormat applies zero or more options to the default format.
func NewFormat(opts ...FormatOption) Format {
	f := DefaultFormat()
	for _, opt := range opts {
		if opt != nil {
			opt(&f)
		}
	}
	return f
}

// Validate checks that the format is usable.
func (f Format) Validate() error {
	if !IsFinite(f.SampleRate) || f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %v", ErrInvalidFormat, f.SampleRate)
	}
	if f.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", ErrInvalidFormat, f.BlockSize)
	}
	return nil
}

// BlockDuration returns the wall-clock length of one block.
func (f Format) BlockDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.BlockSize) / f.SampleRate * float64(time.Second))
}

// Samples converts a duration to a whole number of samples, rounding to nearest.
func (f Format) Samples(d time.Duration) int {
	return int(d.Seconds()*f.SampleRate + 0.5)
}
