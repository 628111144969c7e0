package hrir

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-binaural/dsp/core"
)

// Grid describes the regular azimuth/elevation lattice of a bank.
// Azimuth columns cover the full circle starting at 0 (front) and increasing
// clockwise towards the right ear. Elevation rows start at ElevationMin.
type Grid struct {
	Azimuths      int
	Elevations    int
	ElevationMin  float64
	ElevationStep float64
}

// DefaultGrid returns the 24 x 12 lattice: 15 degree azimuth steps and
// elevations -90..75 in 15 degree steps.
func DefaultGrid() Grid {
	return Grid{
		Azimuths:      24,
		Elevations:    12,
		ElevationMin:  -90,
		ElevationStep: 15,
	}
}

// Validate checks that the grid spans a usable lattice.
func (g Grid) Validate() error {
	if g.Azimuths < 2 {
		return fmt.Errorf("%w: need at least 2 azimuths, got %d", ErrInvalidGrid, g.Azimuths)
	}
	if g.Elevations < 1 {
		return fmt.Errorf("%w: need at least 1 elevation, got %d", ErrInvalidGrid, g.Elevations)
	}
	if !core.IsFinite(g.ElevationMin) || !core.IsFinite(g.ElevationStep) || (g.ElevationStep <= 0 && g.Elevations > 1) {
		return fmt.Errorf("%w: elevation step %v", ErrInvalidGrid, g.ElevationStep)
	}
	if g.ElevationMin < -90 || g.ElevationMax() > 90 {
		return fmt.Errorf("%w: elevations %v..%v outside [-90, 90]", ErrInvalidGrid, g.ElevationMin, g.ElevationMax())
	}
	return nil
}

// Cells returns the number of lattice cells.
func (g Grid) Cells() int {
	return g.Azimuths * g.Elevations
}

// AzimuthStep returns the column spacing in degrees.
func (g Grid) AzimuthStep() float64 {
	return 360 / float64(g.Azimuths)
}

// ElevationMax returns the elevation of the top row.
func (g Grid) ElevationMax() float64 {
	return g.ElevationMin + g.ElevationStep*float64(g.Elevations-1)
}

// Azimuth returns the azimuth of column i in degrees.
func (g Grid) Azimuth(i int) float64 {
	return float64(i) * g.AzimuthStep()
}

// Elevation returns the elevation of row j in degrees.
func (g Grid) Elevation(j int) float64 {
	return g.ElevationMin + float64(j)*g.ElevationStep
}

// Index maps column i and row j to a flat cell index.
func (g Grid) Index(i, j int) int {
	return j*g.Azimuths + i
}

// Nearest returns the column and row closest to the direction.
// Azimuth wraps around the circle and elevation clamps to the lattice.
func (g Grid) Nearest(azimuth, elevation float64) (int, int) {
	a := core.WrapDegrees(azimuth) / g.AzimuthStep()
	i := int(math.Round(a)) % g.Azimuths

	j := 0
	if g.Elevations > 1 {
		e := (core.Clamp(elevation, g.ElevationMin, g.ElevationMax()) - g.ElevationMin) / g.ElevationStep
		j = min(int(math.Round(e)), g.Elevations-1)
	}

	return i, j
}

// Scheme selects how a direction maps onto lattice cells.
type Scheme int

const (
	// Bilinear blends the four cells surrounding the direction.
	Bilinear Scheme = iota
	// Nearest uses the single closest cell.
	Nearest
)

func (s Scheme) String() string {
	switch s {
	case Bilinear:
		return "bilinear"
	case Nearest:
		return "nearest"
	default:
		return fmt.Sprintf("Scheme(%d)", int(s))
	}
}

// ParseScheme converts a configuration name to a Scheme.
func ParseScheme(name string) (Scheme, error) {
	switch name {
	case "", "bilinear":
		return Bilinear, nil
	case "nearest":
		return Nearest, nil
	default:
		return 0, fmt.Errorf("%w: unknown interpolation %q", ErrInvalidGrid, name)
	}
}

// Weights lists up to four cells and their blend gains, which sum to 1.
type Weights struct {
	N     int
	Index [4]int
	Gain  [4]float64
}

// Equal reports whether two weight sets select the same blend.
func (w Weights) Equal(o Weights) bool {
	if w.N != o.N {
		return false
	}
	for k := range w.N {
		if w.Index[k] != o.Index[k] || w.Gain[k] != o.Gain[k] {
			return false
		}
	}
	return true
}

// Weights computes the cell blend for a direction under scheme s.
func (g Grid) Weights(azimuth, elevation float64, s Scheme) Weights {
	if s == Nearest {
		i, j := g.Nearest(azimuth, elevation)
		return Weights{N: 1, Index: [4]int{g.Index(i, j)}, Gain: [4]float64{1}}
	}

	a := core.WrapDegrees(azimuth) / g.AzimuthStep()
	i0 := int(math.Floor(a)) % g.Azimuths
	i1 := (i0 + 1) % g.Azimuths
	fa := a - math.Floor(a)

	j0, j1, fe := 0, 0, 0.0
	if g.Elevations > 1 {
		e := (core.Clamp(elevation, g.ElevationMin, g.ElevationMax()) - g.ElevationMin) / g.ElevationStep
		j0 = int(math.Floor(e))
		if j0 >= g.Elevations-1 {
			j0 = g.Elevations - 1
			j1 = j0
		} else {
			j1 = j0 + 1
			fe = e - float64(j0)
		}
	}

	var w Weights
	add := func(i, j int, gain float64) {
		if gain <= 0 {
			return
		}
		idx := g.Index(i, j)
		for k := range w.N {
			if w.Index[k] == idx {
				w.Gain[k] += gain
				return
			}
		}
		w.Index[w.N] = idx
		w.Gain[w.N] = gain
		w.N++
	}

	add(i0, j0, (1-fa)*(1-fe))
	add(i1, j0, fa*(1-fe))
	add(i0, j1, (1-fa)*fe)
	add(i1, j1, fa*fe)

	return w
}
