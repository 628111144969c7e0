package distance

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// DopplerFactor returns the playback-rate ratio heard by a moving listener
// from a moving source:
//
//	(c + vL) / (c + vS)
//
// vL is the listener velocity component towards the source and vS the source
// velocity component away from the listener. Both are clamped to
// ±maxFraction*c, which keeps the factor strictly positive and bounded by
// (1+maxFraction)/(1-maxFraction). Zero radial velocity gives exactly 1.
func DopplerFactor(listener, listenerVel, source, sourceVel geom.Vec, c, maxFraction float64) float64 {
	rel := r3.Sub(source, listener)
	d := r3.Norm(rel)
	if d == 0 || c <= 0 {
		return 1
	}
	dir := r3.Scale(1/d, rel)

	limit := maxFraction * c
	vL := core.Clamp(r3.Dot(listenerVel, dir), -limit, limit)
	vS := core.Clamp(r3.Dot(sourceVel, dir), -limit, limit)
	if vL == vS {
		return 1
	}

	return (c + vL) / (c + vS)
}

// FactorBounds returns the smallest and largest factor DopplerFactor can
// produce for maxFraction.
func FactorBounds(maxFraction float64) (lo, hi float64) {
	return (1 - maxFraction) / (1 + maxFraction), (1 + maxFraction) / (1 - maxFraction)
}
