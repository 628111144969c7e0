package delay

import (
	"errors"
	"math"
	"testing"
)

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

func TestNewValidation(t *testing.T) {
	for _, size := range []int{-1, 0, 3} {
		if _, err := New(size); !errors.Is(err, ErrInvalidSize) {
			t.Fatalf("New(%d) err = %v, want ErrInvalidSize", size, err)
		}
	}
}

func TestReadWrite(t *testing.T) {
	d, err := New(8)
	if err != nil {
		t.Fatal(err)
	}

	for i := range 8 {
		d.Write(float64(i))
	}

	if got := d.Read(0); got != 7 {
		t.Fatalf("Read(0) = %v, want 7", got)
	}
	if got := d.Read(3); got != 4 {
		t.Fatalf("Read(3) = %v, want 4", got)
	}
}

func TestReadWraparound(t *testing.T) {
	d, _ := New(4)
	for i := range 10 {
		d.Write(float64(i))
	}

	want := []float64{9, 8, 7, 6}
	for delay, w := range want {
		if got := d.Read(delay); got != w {
			t.Fatalf("Read(%d) = %v, want %v", delay, got, w)
		}
	}

	if got := d.Read(100); got != 6 {
		t.Fatalf("Read(100) = %v, want clamp to oldest 6", got)
	}
}

func TestReadFractionalIntegerMatchesRead(t *testing.T) {
	d, _ := New(16)
	for i := range 16 {
		d.Write(math.Sin(float64(i)))
	}

	for delay := range 10 {
		if got, want := d.ReadFractional(float64(delay)), d.Read(delay); got != want {
			t.Fatalf("ReadFractional(%d) = %v, want %v", delay, got, want)
		}
	}
}

func TestReadFractionalLinearRamp(t *testing.T) {
	d, _ := New(32)
	for i := range 32 {
		d.Write(float64(i))
	}

	// Hermite reproduces linear data exactly.
	for _, delay := range []float64{1.25, 2.5, 7.75, 20.1} {
		want := 31 - delay
		if got := d.ReadFractional(delay); !approxEqual(got, want, 1e-12) {
			t.Fatalf("ReadFractional(%v) = %v, want %v", delay, got, want)
		}
	}
}

func TestProcessRampConstantDelay(t *testing.T) {
	d, _ := New(16)

	src := []float64{1, 0, 0, 0, 0, 0, 0, 0}
	dst := make([]float64, len(src))
	d.ProcessRamp(dst, src, 3, 3)

	for i, v := range dst {
		want := 0.0
		if i == 3 {
			want = 1
		}
		if !approxEqual(v, want, 1e-12) {
			t.Fatalf("dst[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestHermite4Endpoints(t *testing.T) {
	if got := Hermite4(0, 1, 2, 3, 4); got != 2 {
		t.Fatalf("Hermite4(0) = %v, want 2", got)
	}
	if got := Hermite4(1, 1, 2, 3, 4); !approxEqual(got, 3, 1e-12) {
		t.Fatalf("Hermite4(1) = %v, want 3", got)
	}
}

func TestReset(t *testing.T) {
	d, _ := New(8)
	d.Write(5)
	d.Reset()

	for delay := range 8 {
		if got := d.Read(delay); got != 0 {
			t.Fatalf("Read(%d) after Reset = %v, want 0", delay, got)
		}
	}
}
