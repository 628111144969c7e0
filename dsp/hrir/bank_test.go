package hrir

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-binaural/internal/testutil"
)

func newTestBank(t *testing.T, opts ...Option) *Bank {
	t.Helper()

	b, err := NewBank(48000, 512, opts...)
	if err != nil {
		t.Fatalf("NewBank() error = %v", err)
	}
	return b
}

func TestBankAllCellsPopulated(t *testing.T) {
	b := newTestBank(t)

	if b.FFTSize() != 1024 {
		t.Fatalf("FFTSize() = %d, want 1024", b.FFTSize())
	}

	g := b.Grid()
	for j := range g.Elevations {
		for i := range g.Azimuths {
			c := b.Cell(i, j)
			if len(c.Left) != b.Length() || len(c.Right) != b.Length() {
				t.Fatalf("cell (%d,%d) lengths %d/%d", i, j, len(c.Left), len(c.Right))
			}
			if len(c.LeftSpectrum) != b.FFTSize() || len(c.RightSpectrum) != b.FFTSize() {
				t.Fatalf("cell (%d,%d) spectrum lengths %d/%d", i, j, len(c.LeftSpectrum), len(c.RightSpectrum))
			}
			testutil.RequireFinite(t, c.Left)
			testutil.RequireFinite(t, c.Right)
			if c.Azimuth != g.Azimuth(i) || c.Elevation != g.Elevation(j) {
				t.Fatalf("cell (%d,%d) direction = (%v,%v)", i, j, c.Azimuth, c.Elevation)
			}
		}
	}
}

func TestBankFrontIsSymmetric(t *testing.T) {
	b := newTestBank(t)

	c := b.Lookup(0, 0)
	l, r := c.Energy()
	if math.Abs(l-r) > 1e-9 {
		t.Fatalf("front ILD = %v dB, want 0", l-r)
	}
}

func TestBankRightLouderForRightSource(t *testing.T) {
	b := newTestBank(t)

	c := b.Lookup(90, 0)
	l, r := c.Energy()
	if r-l < 3 {
		t.Fatalf("ILD at az 90 = %v dB, want right louder by >= 3 dB", r-l)
	}

	c = b.Lookup(270, 0)
	l, r = c.Energy()
	if l-r < 3 {
		t.Fatalf("ILD at az 270 = %v dB, want left louder by >= 3 dB", l-r)
	}
}

func TestBankMirrorSymmetry(t *testing.T) {
	b := newTestBank(t)

	right := b.Lookup(60, 15)
	left := b.Lookup(300, 15)
	testutil.RequireSliceNearlyEqual(t, right.Left, left.Right, 1e-9)
	testutil.RequireSliceNearlyEqual(t, right.Right, left.Left, 1e-9)
}

func TestBankBilinearIsContinuous(t *testing.T) {
	b := newTestBank(t)
	g := b.Grid()

	prevL := make([]float64, b.Length())
	prevR := make([]float64, b.Length())
	curL := make([]float64, b.Length())
	curR := make([]float64, b.Length())

	b.BlendImpulse(prevL, prevR, g.Weights(0, 10, Bilinear))
	for az := 0.25; az <= 360; az += 0.25 {
		b.BlendImpulse(curL, curR, g.Weights(az, 10, Bilinear))

		dl, _ := testutil.MaxAbsDiff(curL, prevL)
		dr, _ := testutil.MaxAbsDiff(curR, prevR)
		if dl > 0.05 || dr > 0.05 {
			t.Fatalf("az %v: impulse jumped by %v/%v", az, dl, dr)
		}

		copy(prevL, curL)
		copy(prevR, curR)
	}
}

func TestBankBlendMatchesImpulse(t *testing.T) {
	b := newTestBank(t)
	w := b.Grid().Weights(100, 20, Bilinear)

	specL := make([]complex128, b.FFTSize())
	specR := make([]complex128, b.FFTSize())
	b.Blend(specL, specR, w)

	irL := make([]float64, b.Length())
	irR := make([]float64, b.Length())
	b.BlendImpulse(irL, irR, w)

	// DC bin equals the sum of the blended impulse.
	sum := 0.0
	for _, v := range irL {
		sum += v
	}
	if math.Abs(real(specL[0])-sum) > 1e-9 {
		t.Fatalf("DC bin = %v, want %v", real(specL[0]), sum)
	}
}

func TestBankValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{name: "fft not power of two", opts: []Option{WithFFTSize(1000)}, want: ErrFFTSize},
		{name: "fft too small", opts: []Option{WithFFTSize(512)}, want: ErrFFTSize},
		{name: "length", opts: []Option{WithLength(1)}, want: ErrInvalidLength},
		{name: "grid", opts: []Option{WithGrid(Grid{Azimuths: 1, Elevations: 1})}, want: ErrInvalidGrid},
		{name: "nil source", opts: []Option{WithSource(nil)}, want: ErrInvalidHead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBank(48000, 512, tt.opts...); !errors.Is(err, tt.want) {
				t.Fatalf("NewBank() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBankRejectsBadSource(t *testing.T) {
	short := SourceFunc(func(az, el float64, n int, fs float64) ([]float64, []float64, error) {
		return make([]float64, n), make([]float64, n-1), nil
	})

	if _, err := NewBank(48000, 256, WithSource(short)); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v, want ErrIncomplete", err)
	}

	failing := SourceFunc(func(az, el float64, n int, fs float64) ([]float64, []float64, error) {
		return nil, nil, errors.New("dataset missing")
	})
	if _, err := NewBank(48000, 256, WithSource(failing)); err == nil {
		t.Fatal("expected source error")
	}
}

func TestBankCustomGrid(t *testing.T) {
	g := Grid{Azimuths: 8, Elevations: 3, ElevationMin: -45, ElevationStep: 45}
	b := newTestBank(t, WithGrid(g), WithLength(128), WithFFTSize(2048))

	if b.FFTSize() != 2048 || b.Length() != 128 {
		t.Fatalf("FFTSize/Length = %d/%d", b.FFTSize(), b.Length())
	}
	if c := b.Cell(-1, 5); c.Azimuth != 315 || c.Elevation != 45 {
		t.Fatalf("Cell(-1, 5) = (%v, %v), want (315, 45)", c.Azimuth, c.Elevation)
	}
}
