package tracking

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// MotionModel selects the translational prediction model.
type MotionModel int

const (
	// ConstantVelocity tracks position and velocity.
	ConstantVelocity MotionModel = iota
	// ConstantAcceleration additionally tracks acceleration.
	ConstantAcceleration
)

func (m MotionModel) String() string {
	switch m {
	case ConstantVelocity:
		return "constant_velocity"
	case ConstantAcceleration:
		return "constant_acceleration"
	default:
		return fmt.Sprintf("MotionModel(%d)", int(m))
	}
}

// ParseMotionModel maps a configuration name to a MotionModel.
func ParseMotionModel(name string) (MotionModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "constant_velocity", "cv":
		return ConstantVelocity, nil
	case "constant_acceleration", "ca":
		return ConstantAcceleration, nil
	default:
		return ConstantVelocity, fmt.Errorf("%w: unknown motion model %q", ErrInvalidConfig, name)
	}
}

// order is the number of derivatives tracked per axis.
func (m MotionModel) order() int {
	if m == ConstantAcceleration {
		return 3
	}
	return 2
}

// dim is the translational state size: x y z, vx vy vz[, ax ay az].
func (m MotionModel) dim() int { return 3 * m.order() }

// transition returns F for a step of dt seconds.
func (m MotionModel) transition(dt float64) *mat.Dense {
	n := m.dim()
	f := mat.NewDense(n, n, nil)
	for i := range n {
		f.Set(i, i, 1)
	}
	for axis := range 3 {
		f.Set(axis, 3+axis, dt)
		if m == ConstantAcceleration {
			f.Set(axis, 6+axis, 0.5*dt*dt)
			f.Set(3+axis, 6+axis, dt)
		}
	}
	return f
}

// processNoise returns Q = q·dt·I, the white-noise approximation scaled by
// the step length.
func (m MotionModel) processNoise(q, dt float64) *mat.SymDense {
	return diagonal(m.dim(), q*dt)
}

// positionObservation returns H selecting x y z.
func (m MotionModel) positionObservation() *mat.Dense {
	h := mat.NewDense(3, m.dim(), nil)
	for i := range 3 {
		h.Set(i, i, 1)
	}
	return h
}
