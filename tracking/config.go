package tracking

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// ErrInvalidConfig is returned for unusable estimator settings.
var ErrInvalidConfig = errors.New("tracking: invalid config")

// Config holds the estimator tuning. Noise values are variances per axis.
type Config struct {
	Rate  float64 // ticks per second
	Model MotionModel

	InitialPosition   geom.Vec
	InitialCovariance float64

	PositionProcessNoise    float64 // per second
	OrientationProcessNoise float64 // rad² per second
	AngularRateProcessNoise float64 // (rad/s)² per second

	PositionMeasurementNoise    float64 // m²
	OrientationMeasurementNoise float64 // rad²
	AngularRateMeasurementNoise float64 // (rad/s)²

	// MaxCovarianceTrace marks the filter as diverged when exceeded. Each
	// filter's covariance is held at a quarter of it while predicting.
	MaxCovarianceTrace float64
	// DivergenceInflation scales the covariance restored after divergence.
	DivergenceInflation float64
	// StaleAfter is how many ticks a sensor may stay silent before a
	// SensorFault is reported.
	StaleAfter int
}

// DefaultConfig returns a 100 Hz constant-velocity estimator for a UWB
// position tag (±15 cm) and an IMU orientation source, starting at ear
// height.
func DefaultConfig() Config {
	return Config{
		Rate:                        100,
		Model:                       ConstantVelocity,
		InitialPosition:             geom.Vec{Z: 1.6},
		InitialCovariance:           1,
		PositionProcessNoise:        1,
		OrientationProcessNoise:     1e-3,
		AngularRateProcessNoise:     1,
		PositionMeasurementNoise:    0.15,
		OrientationMeasurementNoise: 1e-3,
		AngularRateMeasurementNoise: 1e-3,
		MaxCovarianceTrace:          1e6,
		DivergenceInflation:         10,
		StaleAfter:                  50,
	}
}

// covarianceCeiling is the trace bound for each of the position and
// orientation filters. Both together stay at half of MaxCovarianceTrace.
func (c Config) covarianceCeiling() float64 {
	return c.MaxCovarianceTrace / 4
}

// Period returns the tick period.
func (c Config) Period() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%w: %s must be > 0: %v", ErrInvalidConfig, name, v))
		}
	}

	positive("rate", c.Rate)
	positive("initial covariance", c.InitialCovariance)
	positive("position process noise", c.PositionProcessNoise)
	positive("orientation process noise", c.OrientationProcessNoise)
	positive("angular rate process noise", c.AngularRateProcessNoise)
	positive("position measurement noise", c.PositionMeasurementNoise)
	positive("orientation measurement noise", c.OrientationMeasurementNoise)
	positive("angular rate measurement noise", c.AngularRateMeasurementNoise)
	positive("max covariance trace", c.MaxCovarianceTrace)

	if c.Model != ConstantVelocity && c.Model != ConstantAcceleration {
		errs = append(errs, fmt.Errorf("%w: unknown motion model %d", ErrInvalidConfig, int(c.Model)))
	}
	if !(c.DivergenceInflation >= 1) || math.IsInf(c.DivergenceInflation, 0) {
		errs = append(errs, fmt.Errorf("%w: divergence inflation must be >= 1: %v", ErrInvalidConfig, c.DivergenceInflation))
	}
	if c.StaleAfter < 1 {
		errs = append(errs, fmt.Errorf("%w: stale after must be >= 1 tick: %d", ErrInvalidConfig, c.StaleAfter))
	}
	p := c.InitialPosition
	if math.IsNaN(p.X+p.Y+p.Z) || math.IsInf(p.X+p.Y+p.Z, 0) {
		errs = append(errs, fmt.Errorf("%w: initial position must be finite", ErrInvalidConfig))
	}

	return errors.Join(errs...)
}
