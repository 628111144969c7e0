// Package fault classifies recoverable runtime faults and routes them to a
// reporter. Faults never interrupt the audio or tracking loops; they are
// counted and logged by whoever implements Reporter.
package fault

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Kind is the fault class.
type Kind int

const (
	// KindRuntimeAudio covers underruns and mid-block end of stream. The
	// affected source renders silence for the block.
	KindRuntimeAudio Kind = iota + 1
	// KindSensor covers missing measurements and filter divergence.
	KindSensor
)

func (k Kind) String() string {
	switch k {
	case KindRuntimeAudio:
		return "runtime_audio"
	case KindSensor:
		return "sensor"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reasons attached to faults.
const (
	ReasonUnderrun         = "underrun"
	ReasonEndOfStream      = "end_of_stream"
	ReasonSourceError      = "source_error"
	ReasonNoVoice          = "no_voice"
	ReasonRender           = "render"
	ReasonPositionStale    = "position_stale"
	ReasonOrientationStale = "orientation_stale"
	ReasonInvalidSample    = "invalid_sample"
	ReasonDivergence       = "divergence"
)

// Fault is one recoverable event.
type Fault struct {
	Kind   Kind
	Reason string
	Source string // source id or sensor stream, may be empty
	Time   time.Time
	Err    error
}

func (f Fault) Error() string {
	msg := f.Kind.String() + ": " + f.Reason
	if f.Source != "" {
		msg += " (" + f.Source + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f Fault) Unwrap() error { return f.Err }

// Reporter receives faults. Implementations must not block: Report is
// called from the render and tracking loops.
type Reporter interface {
	Report(ctx context.Context, f Fault)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, f Fault)

// Report calls fn.
func (fn ReporterFunc) Report(ctx context.Context, f Fault) { fn(ctx, f) }

// Discard drops every fault.
var Discard Reporter = ReporterFunc(func(context.Context, Fault) {})

// Multi fans faults out to every reporter.
func Multi(reporters ...Reporter) Reporter {
	return ReporterFunc(func(ctx context.Context, f Fault) {
		for _, r := range reporters {
			if r != nil {
				r.Report(ctx, f)
			}
		}
	})
}

// Counter counts faults per kind.
type Counter struct {
	audio  atomic.Int64
	sensor atomic.Int64
	last   atomic.Pointer[Fault]
}

// Report counts f.
func (c *Counter) Report(_ context.Context, f Fault) {
	switch f.Kind {
	case KindRuntimeAudio:
		c.audio.Add(1)
	case KindSensor:
		c.sensor.Add(1)
	}
	c.last.Store(&f)
}

// Count returns the number of faults of kind k.
func (c *Counter) Count(k Kind) int64 {
	switch k {
	case KindRuntimeAudio:
		return c.audio.Load()
	case KindSensor:
		return c.sensor.Load()
	default:
		return 0
	}
}

// Last returns the most recent fault.
func (c *Counter) Last() (Fault, bool) {
	f := c.last.Load()
	if f == nil {
		return Fault{}, false
	}
	return *f, true
}
