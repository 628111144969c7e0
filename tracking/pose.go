package tracking

import (
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// Pose is a published listener state. A Pose is never modified after it
// has been published; callers must treat the covariance matrices as
// read-only.
type Pose struct {
	Seq         uint64
	Time        time.Time
	Position    geom.Vec
	Velocity    geom.Vec
	Orientation geom.Quat // head to world, unit norm
	AngularRate geom.Vec  // head frame, rad/s

	// PositionCovariance is the 6x6 covariance of position and velocity.
	PositionCovariance *mat.SymDense
	// OrientationCovariance is the 3x3 covariance of the orientation error
	// rotation vector.
	OrientationCovariance *mat.SymDense
}

// Exchange hands the latest Pose from the tracking task to the render
// task. Publish never blocks and Load never locks.
type Exchange struct {
	latest atomic.Pointer[Pose]
}

// NewExchange returns an exchange holding initial, which may be nil.
func NewExchange(initial *Pose) *Exchange {
	x := &Exchange{}
	if initial != nil {
		x.latest.Store(initial)
	}
	return x
}

// Publish makes p the latest pose.
func (x *Exchange) Publish(p *Pose) {
	x.latest.Store(p)
}

// Load returns the latest pose, or nil before the first publish.
func (x *Exchange) Load() *Pose {
	return x.latest.Load()
}
