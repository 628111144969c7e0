package tracking

import (
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// PositionSample is a position fix in world coordinates (metres). A nil
// Covariance falls back to the configured measurement noise.
type PositionSample struct {
	Time       time.Time
	Position   geom.Vec
	Covariance *mat.SymDense
}

// OrientationSample is an absolute orientation reading (head to world). A
// nil Covariance falls back to the configured measurement noise.
type OrientationSample struct {
	Time        time.Time
	Orientation geom.Quat
	Covariance  *mat.SymDense
}

// AngularRateSample is a gyroscope reading in the head frame (rad/s).
type AngularRateSample struct {
	Time       time.Time
	Rate       geom.Vec
	Covariance *mat.SymDense
}

// mailbox is a single-slot, latest-wins handoff.
type mailbox[T any] struct {
	slot atomic.Pointer[T]
}

func (m *mailbox[T]) put(v T) {
	m.slot.Store(&v)
}

func (m *mailbox[T]) take() (T, bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
