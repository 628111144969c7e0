// Package hrir holds the head-related impulse response bank: a fixed
// azimuth/elevation lattice whose cells carry left and right impulse
// responses together with their precomputed FFT spectra.
//
// A Bank is built once at startup and is read-only afterwards, so any number
// of spatializers may share it without locking.
package hrir

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/dsp/core"
)

// Errors returned while building a bank.
var (
	ErrInvalidGrid   = errors.New("hrir: invalid grid")
	ErrInvalidLength = errors.New("hrir: invalid impulse response length")
	ErrInvalidHead   = errors.New("hrir: invalid head model")
	ErrFFTSize       = errors.New("hrir: FFT size incompatible with block and impulse length")
	ErrIncomplete    = errors.New("hrir: bank cell missing or invalid")
)

const (
	defaultLength = 256

	minSampleRate = 8000.0
	maxLength     = 1 << 14
)

// Cell is one lattice point.
type Cell struct {
	Azimuth   float64
	Elevation float64

	Left  []float64
	Right []float64

	LeftSpectrum  []complex128
	RightSpectrum []complex128
}

// Option mutates construction-time parameters.
type Option func(*bankConfig) error

type bankConfig struct {
	length  int
	fftSize int
	grid    Grid
	source  Source
}

func defaultBankConfig() bankConfig {
	return bankConfig{
		length: defaultLength,
		grid:   DefaultGrid(),
		source: DefaultHead(),
	}
}

// WithLength sets the impulse response length in samples.
func WithLength(n int) Option {
	return func(cfg *bankConfig) error {
		if n < 2 || n > maxLength {
			return fmt.Errorf("%w: must be in [2, %d]: %d", ErrInvalidLength, maxLength, n)
		}
		cfg.length = n
		return nil
	}
}

// WithFFTSize fixes the convolution FFT size. Zero derives the smallest
// valid size from the block size and impulse length.
func WithFFTSize(n int) Option {
	return func(cfg *bankConfig) error {
		if n < 0 {
			return fmt.Errorf("%w: negative size %d", ErrFFTSize, n)
		}
		cfg.fftSize = n
		return nil
	}
}

// WithGrid replaces the default 24 x 12 lattice.
func WithGrid(g Grid) Option {
	return func(cfg *bankConfig) error {
		if err := g.Validate(); err != nil {
			return err
		}
		cfg.grid = g
		return nil
	}
}

// WithSource replaces the spherical head model, for example with measured data.
func WithSource(src Source) Option {
	return func(cfg *bankConfig) error {
		if src == nil {
			return fmt.Errorf("%w: nil source", ErrInvalidHead)
		}
		cfg.source = src
		return nil
	}
}

// Bank is an immutable, fully populated HRIR lattice.
type Bank struct {
	sampleRate float64
	blockSize  int
	length     int
	fftSize    int
	grid       Grid
	cells      []Cell
}

// NewBank builds a bank for blockSize-sample processing at sampleRate.
// Every cell is synthesized and transformed before NewBank returns.
func NewBank(sampleRate float64, blockSize int, opts ...Option) (*Bank, error) {
	if !core.IsFinite(sampleRate) || sampleRate < minSampleRate {
		return nil, fmt.Errorf("hrir: sample rate must be >= %g: %v", minSampleRate, sampleRate)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("hrir: block size must be positive: %d", blockSize)
	}

	cfg := defaultBankConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	fftSize := cfg.fftSize
	if fftSize == 0 {
		fftSize = conv.MinFFTSize(blockSize, cfg.length)
	}
	if !conv.IsPowerOfTwo(fftSize) || fftSize < blockSize+cfg.length-1 {
		return nil, fmt.Errorf("%w: %d, need a power of 2 >= %d (block %d + length %d - 1)",
			ErrFFTSize, fftSize, blockSize+cfg.length-1, blockSize, cfg.length)
	}

	b := &Bank{
		sampleRate: sampleRate,
		blockSize:  blockSize,
		length:     cfg.length,
		fftSize:    fftSize,
		grid:       cfg.grid,
		cells:      make([]Cell, cfg.grid.Cells()),
	}

	if err := b.populate(cfg.source); err != nil {
		return nil, err
	}

	return b, nil
}

// populate fills every cell, one elevation row per goroutine.
func (b *Bank) populate(src Source) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for j := range b.grid.Elevations {
		g.Go(func() error {
			tr, err := conv.NewTransformer(b.fftSize)
			if err != nil {
				return err
			}

			for i := range b.grid.Azimuths {
				az, el := b.grid.Azimuth(i), b.grid.Elevation(j)

				left, right, err := src.Impulse(az, el, b.length, b.sampleRate)
				if err != nil {
					return fmt.Errorf("hrir: cell az=%g el=%g: %w", az, el, err)
				}
				if err := b.checkImpulse(left, right); err != nil {
					return fmt.Errorf("%w: az=%g el=%g: %w", ErrIncomplete, az, el, err)
				}

				cell := Cell{Azimuth: az, Elevation: el, Left: left, Right: right}
				if cell.LeftSpectrum, err = tr.KernelSpectrum(left); err != nil {
					return err
				}
				if cell.RightSpectrum, err = tr.KernelSpectrum(right); err != nil {
					return err
				}

				b.cells[b.grid.Index(i, j)] = cell
			}

			return nil
		})
	}

	return g.Wait()
}

func (b *Bank) checkImpulse(left, right []float64) error {
	if len(left) != b.length || len(right) != b.length {
		return fmt.Errorf("lengths %d/%d, want %d", len(left), len(right), b.length)
	}
	if !core.AllFinite(left) || !core.AllFinite(right) {
		return errors.New("non-finite samples")
	}
	return nil
}

// SampleRate returns the sample rate the bank was built for.
func (b *Bank) SampleRate() float64 { return b.sampleRate }

// BlockSize returns the block size the FFT size was validated against.
func (b *Bank) BlockSize() int { return b.blockSize }

// Length returns the impulse response length.
func (b *Bank) Length() int { return b.length }

// FFTSize returns the spectrum length shared by every cell.
func (b *Bank) FFTSize() int { return b.fftSize }

// Grid returns the lattice.
func (b *Bank) Grid() Grid { return b.grid }

// Cell returns the cell at column i and row j. Indices wrap in azimuth and
// clamp in elevation.
func (b *Bank) Cell(i, j int) *Cell {
	i %= b.grid.Azimuths
	if i < 0 {
		i += b.grid.Azimuths
	}
	j = max(0, min(j, b.grid.Elevations-1))
	return &b.cells[b.grid.Index(i, j)]
}

// CellAt returns the cell at a flat index as produced by Grid.Weights.
func (b *Bank) CellAt(index int) *Cell {
	return &b.cells[index]
}

// Lookup returns the cell nearest to a direction.
func (b *Bank) Lookup(azimuth, elevation float64) *Cell {
	return b.Cell(b.grid.Nearest(azimuth, elevation))
}

// Blend writes the weighted sum of the selected cells' spectra into left and
// right, which must hold FFTSize bins.
func (b *Bank) Blend(left, right []complex128, w Weights) {
	if w.N == 1 {
		c := &b.cells[w.Index[0]]
		copy(left, c.LeftSpectrum)
		copy(right, c.RightSpectrum)
		return
	}

	clear(left)
	clear(right)
	for k := range w.N {
		c := &b.cells[w.Index[k]]
		g := complex(w.Gain[k], 0)
		for n := range left {
			left[n] += g * c.LeftSpectrum[n]
			right[n] += g * c.RightSpectrum[n]
		}
	}
}

// BlendImpulse writes the weighted time-domain impulse responses, mainly
// for inspection and tests.
func (b *Bank) BlendImpulse(left, right []float64, w Weights) {
	clear(left)
	clear(right)
	for k := range w.N {
		c := &b.cells[w.Index[k]]
		core.AddScaled(left, c.Left, w.Gain[k])
		core.AddScaled(right, c.Right, w.Gain[k])
	}
}

// Energy returns the left and right impulse response energies of a cell in dB.
func (c *Cell) Energy() (leftDB, rightDB float64) {
	var el, er float64
	for i := range c.Left {
		el += c.Left[i] * c.Left[i]
		er += c.Right[i] * c.Right[i]
	}
	return 10 * math.Log10(el), 10 * math.Log10(er)
}
