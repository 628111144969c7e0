package config

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/distance"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/hrir"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
	"github.com/cwbudde/algo-binaural/tracking"
)

// Vec converts an [x, y, z] list.
func Vec(v []float64) (geom.Vec, error) {
	if len(v) != 3 {
		return geom.Vec{}, fmt.Errorf("want [x, y, z], got %d values", len(v))
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return geom.Vec{}, fmt.Errorf("non-finite coordinate in %v", v)
		}
	}
	return geom.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Format returns the block format.
func (c *Config) Format() core.Format {
	return core.NewFormat(core.WithSampleRate(c.Audio.SampleRate), core.WithBlockSize(c.Audio.BlockSize))
}

// Grid returns the HRIR lattice.
func (c *Config) Grid() hrir.Grid {
	return hrir.Grid{
		Azimuths:      c.HRIR.Azimuths,
		Elevations:    c.HRIR.Elevations,
		ElevationMin:  c.HRIR.ElevationMin,
		ElevationStep: c.HRIR.ElevationStep,
	}
}

// Scheme returns the direction lookup scheme.
func (c *Config) Scheme() (hrir.Scheme, error) {
	return hrir.ParseScheme(c.HRIR.Scheme)
}

// Attenuation returns the distance attenuation curve.
func (c *Config) Attenuation() (distance.Attenuation, error) {
	m, err := distance.ParseModel(c.Distance.Model)
	if err != nil {
		return distance.Attenuation{}, err
	}
	d := c.Distance
	return distance.Attenuation{
		Model:     m,
		Reference: d.Reference,
		Near:      d.Near,
		Far:       d.Far,
		MinGain:   d.MinGain,
		MaxGain:   d.MaxGain,
	}, nil
}

// TrackingConfig returns the estimator tuning.
func (c *Config) TrackingConfig() (tracking.Config, error) {
	t := c.Tracking
	model, err := tracking.ParseMotionModel(t.MotionModel)
	if err != nil {
		return tracking.Config{}, err
	}
	pos, err := Vec(t.InitialPosition)
	if err != nil {
		return tracking.Config{}, err
	}
	return tracking.Config{
		Rate:                        t.RateHz,
		Model:                       model,
		InitialPosition:             pos,
		InitialCovariance:           t.InitialCovariance,
		PositionProcessNoise:        t.PositionProcessNoise,
		OrientationProcessNoise:     t.OrientationProcessNoise,
		AngularRateProcessNoise:     t.AngularRateProcessNoise,
		PositionMeasurementNoise:    t.PositionMeasurementNoise,
		OrientationMeasurementNoise: t.OrientationMeasurementNoise,
		AngularRateMeasurementNoise: t.AngularRateMeasurementNoise,
		MaxCovarianceTrace:          t.MaxCovarianceTrace,
		DivergenceInflation:         t.DivergenceInflation,
		StaleAfter:                  t.StaleAfter,
	}, nil
}

// Environment returns the post-processing environment.
func (c *Config) Environment() (post.Environment, error) {
	return post.ParseEnvironment(c.Post.Environment)
}

// Target returns the playback target.
func (c *Config) Target() (post.Target, error) {
	return post.ParseTarget(c.Post.OutputTarget)
}

// ReverbVariant returns the effective reverb variant: the override when
// set, else the environment's.
func (c *Config) ReverbVariant() (reverb.Variant, error) {
	if c.Post.Reverb != "" {
		return reverb.ParseVariant(c.Post.Reverb)
	}
	env, err := c.Environment()
	if err != nil {
		return reverb.None, err
	}
	return env.Preset().Reverb, nil
}

// Room returns the reverb parameter override. It is only meaningful when
// Post.Room is set.
func (c *Config) Room() reverb.Params {
	r := c.Post.Room
	if r == nil {
		return reverb.DefaultParams()
	}
	return reverb.Params{
		RT60:     r.RT60,
		Damp:     r.Damp,
		PreDelay: r.PreDelay,
		Wet:      r.Wet,
		Dry:      r.Dry,
	}
}

// Layout returns the loudspeaker layout for crosstalk cancellation. The
// head radius and speed of sound are shared with the HRIR and distance
// sections.
func (c *Config) Layout() spatial.Layout {
	x := c.Post.Crosstalk
	return spatial.Layout{
		ListenerDistance: x.ListenerDistance,
		SpeakerSpacing:   x.SpeakerDistance,
		HeadRadius:       c.HRIR.HeadRadius,
		SpeedOfSound:     c.Distance.SpeedOfSound,
		Attenuation:      x.Attenuation,
		Stages:           x.Stages,
	}
}

// TickPeriod returns the tracking tick period.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(float64(time.Second) / c.Tracking.RateHz)
}
