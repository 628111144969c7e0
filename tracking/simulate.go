package tracking

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// Trajectory gives the true listener position and orientation t seconds
// into a session.
type Trajectory func(t float64) (geom.Vec, geom.Quat)

// DemoTrajectory is a slow figure around centre: the head yaws ±0.2 rad and
// nods ±0.1 rad while drifting on a 10 cm circle.
func DemoTrajectory(centre geom.Vec) Trajectory {
	return func(t float64) (geom.Vec, geom.Quat) {
		pos := geom.Vec{
			X: centre.X + 0.1*math.Sin(0.2*t),
			Y: centre.Y + 0.1*math.Cos(0.2*t),
			Z: centre.Z,
		}
		return pos, geom.FromYawPitchRoll(0.2*math.Sin(0.5*t), 0.1*math.Cos(0.3*t), 0)
	}
}

// StaticTrajectory holds a fixed pose.
func StaticTrajectory(pos geom.Vec, q geom.Quat) Trajectory {
	q = geom.Normalize(q)
	return func(float64) (geom.Vec, geom.Quat) { return pos, q }
}

// NoisySensor samples a Trajectory with Gaussian noise, standing in for a
// position tag and an IMU.
type NoisySensor struct {
	rng *rand.Rand

	Start            time.Time
	PositionSigma    float64 // metres
	OrientationSigma float64 // radians
}

// NewNoisySensor returns a deterministic sensor for seed.
func NewNoisySensor(seed uint64, start time.Time, positionSigma, orientationSigma float64) *NoisySensor {
	return &NoisySensor{
		rng:              rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Start:            start,
		PositionSigma:    positionSigma,
		OrientationSigma: orientationSigma,
	}
}

func (s *NoisySensor) jitter(sigma float64) geom.Vec {
	if sigma <= 0 {
		return geom.Vec{}
	}
	return geom.Vec{X: sigma * s.rng.NormFloat64(), Y: sigma * s.rng.NormFloat64(), Z: sigma * s.rng.NormFloat64()}
}

// Sample reads tr at wall time at.
func (s *NoisySensor) Sample(tr Trajectory, at time.Time) (PositionSample, OrientationSample) {
	pos, q := tr(at.Sub(s.Start).Seconds())

	d := s.jitter(s.PositionSigma)
	pos = geom.Vec{X: pos.X + d.X, Y: pos.Y + d.Y, Z: pos.Z + d.Z}
	q = geom.Normalize(geom.Mul(q, geom.FromRotationVector(s.jitter(s.OrientationSigma))))

	return PositionSample{Time: at, Position: pos}, OrientationSample{Time: at, Orientation: q}
}

// Feed samples tr and pushes both readings into e.
func (s *NoisySensor) Feed(e *Estimator, tr Trajectory, at time.Time) error {
	p, o := s.Sample(tr, at)
	if err := e.PushPosition(p); err != nil {
		return err
	}
	return e.PushOrientation(o)
}
