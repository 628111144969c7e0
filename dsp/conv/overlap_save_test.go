package conv

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cwbudde/algo-binaural/internal/testutil"
)

func TestOverlapSaveMatchesDirect(t *testing.T) {
	tests := []struct {
		blockSize, fftSize, kernelLen int
	}{
		{blockSize: 4, fftSize: 8, kernelLen: 3},
		{blockSize: 64, fftSize: 128, kernelLen: 65},
		{blockSize: 128, fftSize: 1024, kernelLen: 256},
		{blockSize: 512, fftSize: 1024, kernelLen: 256},
		{blockSize: 256, fftSize: 512, kernelLen: 1},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("B%d_N%d_K%d", tt.blockSize, tt.fftSize, tt.kernelLen), func(t *testing.T) {
			kernel := testutil.DeterministicNoise(3, 1, tt.kernelLen)
			signal := testutil.DeterministicNoise(5, 1, tt.blockSize*6)

			ols, err := NewOverlapSave(tt.blockSize, tt.fftSize)
			if err != nil {
				t.Fatalf("NewOverlapSave() error = %v", err)
			}
			if ols.HistoryLen() != tt.fftSize-tt.blockSize {
				t.Fatalf("HistoryLen() = %d, want %d", ols.HistoryLen(), tt.fftSize-tt.blockSize)
			}

			tr, err := NewTransformer(tt.fftSize)
			if err != nil {
				t.Fatalf("NewTransformer() error = %v", err)
			}
			spectrum, err := tr.KernelSpectrum(kernel)
			if err != nil {
				t.Fatalf("KernelSpectrum() error = %v", err)
			}

			got := make([]float64, len(signal))
			for b := 0; b < len(signal); b += tt.blockSize {
				err := ols.ProcessBlockTo(got[b:b+tt.blockSize], signal[b:b+tt.blockSize], spectrum)
				if err != nil {
					t.Fatalf("ProcessBlockTo() error = %v", err)
				}
			}

			want, err := Direct(signal, kernel)
			if err != nil {
				t.Fatalf("Direct() error = %v", err)
			}

			if e := relativeError(got, want[:len(signal)]); e > 1e-6 {
				t.Fatalf("relative error = %e, want <= 1e-6", e)
			}
		})
	}
}

func TestOverlapSaveSharedAnalysis(t *testing.T) {
	const blockSize, fftSize = 32, 128

	tr, _ := NewTransformer(fftSize)
	k1, _ := tr.KernelSpectrum(testutil.DeterministicNoise(1, 1, 40))
	k2, _ := tr.KernelSpectrum(testutil.DeterministicNoise(2, 1, 40))

	shared, _ := NewOverlapSave(blockSize, fftSize)
	first, _ := NewOverlapSave(blockSize, fftSize)
	second, _ := NewOverlapSave(blockSize, fftSize)

	signal := testutil.DeterministicSine(440, 8000, 0.8, blockSize*4)
	outShared1 := make([]float64, blockSize)
	outShared2 := make([]float64, blockSize)
	out1 := make([]float64, blockSize)
	out2 := make([]float64, blockSize)

	for b := 0; b < len(signal); b += blockSize {
		block := signal[b : b+blockSize]
		if err := shared.Analyze(block); err != nil {
			t.Fatalf("Analyze() error = %v", err)
		}
		_ = shared.FilterTo(outShared1, k1)
		_ = shared.FilterTo(outShared2, k2)
		_ = first.ProcessBlockTo(out1, block, k1)
		_ = second.ProcessBlockTo(out2, block, k2)

		testutil.RequireSliceNearlyEqual(t, outShared1, out1, 1e-12)
		testutil.RequireSliceNearlyEqual(t, outShared2, out2, 1e-12)
	}
}

func TestOverlapSaveReset(t *testing.T) {
	ols, _ := NewOverlapSave(8, 16)
	tr, _ := NewTransformer(16)
	k, _ := tr.KernelSpectrum([]float64{1, 0.5, 0.25})

	block := testutil.Ones(8)
	out1 := make([]float64, 8)
	out2 := make([]float64, 8)

	_ = ols.ProcessBlockTo(out1, block, k)
	_ = ols.ProcessBlockTo(out2, block, k)
	ols.Reset()
	_ = ols.ProcessBlockTo(out2, block, k)

	testutil.RequireSliceNearlyEqual(t, out2, out1, 1e-12)
}

func TestOverlapSaveFilterBeforeAnalyzeIsSilent(t *testing.T) {
	ols, _ := NewOverlapSave(4, 8)
	out := []float64{1, 1, 1, 1}

	if err := ols.FilterTo(out, make([]complex128, 8)); err != nil {
		t.Fatalf("FilterTo() error = %v", err)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v, want 0", i, v)
		}
	}
}

func TestOverlapSaveErrors(t *testing.T) {
	if _, err := NewOverlapSave(0, 8); !errors.Is(err, ErrInvalidBlockSize) {
		t.Fatalf("err = %v, want ErrInvalidBlockSize", err)
	}
	if _, err := NewOverlapSave(8, 12); !errors.Is(err, ErrInvalidFFTSize) {
		t.Fatalf("err = %v, want ErrInvalidFFTSize", err)
	}
	if _, err := NewOverlapSave(8, 8); !errors.Is(err, ErrInvalidFFTSize) {
		t.Fatalf("err = %v, want ErrInvalidFFTSize", err)
	}

	ols, _ := NewOverlapSave(8, 16)
	if err := ols.Analyze(make([]float64, 7)); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
	if err := ols.FilterTo(make([]float64, 8), make([]complex128, 8)); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestTransformerRoundTrip(t *testing.T) {
	tr, err := NewTransformer(64)
	if err != nil {
		t.Fatalf("NewTransformer() error = %v", err)
	}

	src := testutil.DeterministicNoise(9, 1, 64)
	spec := make([]complex128, 64)
	if err := tr.Forward(spec, src); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	back := make([]float64, 64)
	if err := tr.Inverse(back, spec); err != nil {
		t.Fatalf("Inverse() error = %v", err)
	}

	testutil.RequireSliceNearlyEqual(t, back, src, 1e-12)

	if err := tr.Forward(spec, make([]float64, 65)); !errors.Is(err, ErrKernelTooLong) {
		t.Fatalf("err = %v, want ErrKernelTooLong", err)
	}
}
