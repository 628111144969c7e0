// Package observe provides the renderer's observability plumbing:
// OpenTelemetry metrics for the render and tracking loops, and slog
// construction plus a logging fault reporter.
//
// Tests should build [Metrics] with [NewMetrics] over an SDK meter provider
// with a manual reader instead of the global provider.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cwbudde/algo-binaural/fault"
	"github.com/cwbudde/algo-binaural/tracking"
)

// meterName is the instrumentation scope of every instrument.
const meterName = "github.com/cwbudde/algo-binaural"

// Metrics holds the metric instruments. All methods are safe for
// concurrent use.
type Metrics struct {
	meter metric.Meter

	// RenderDuration tracks the wall time spent rendering one block.
	RenderDuration metric.Float64Histogram
	// Blocks counts rendered blocks.
	Blocks metric.Int64Counter
	// ActiveSources is the number of sources in the last block.
	ActiveSources metric.Int64Gauge
	// Faults counts faults. Attributes: kind, reason.
	Faults metric.Int64Counter
}

// renderBuckets are histogram boundaries in seconds around typical block
// budgets of 1 to 20 ms.
var renderBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.RenderDuration, err = m.Float64Histogram("binaural.render.duration",
		metric.WithDescription("Wall time spent rendering one block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(renderBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Blocks, err = m.Int64Counter("binaural.render.blocks",
		metric.WithDescription("Rendered blocks."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSources, err = m.Int64Gauge("binaural.render.active_sources",
		metric.WithDescription("Sources rendered in the last block."),
	); err != nil {
		return nil, err
	}
	if met.Faults, err = m.Int64Counter("binaural.faults",
		metric.WithDescription("Recoverable faults by kind and reason."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance on the global meter
// provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Report implements fault.Reporter.
func (m *Metrics) Report(ctx context.Context, f fault.Fault) {
	m.Faults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", f.Kind.String()),
		attribute.String("reason", f.Reason),
	))
}

// BlockRendered records one rendered block. It implements render.Observer.
func (m *Metrics) BlockRendered(ctx context.Context, elapsed time.Duration, active int) {
	m.RenderDuration.Record(ctx, elapsed.Seconds())
	m.Blocks.Add(ctx, 1)
	m.ActiveSources.Record(ctx, int64(active))
}

// ObserveTracking registers asynchronous counters reading stats on every
// collection. Unregister the returned registration when the estimator goes
// away.
func (m *Metrics) ObserveTracking(stats func() tracking.Stats) (metric.Registration, error) {
	ticks, err := m.meter.Int64ObservableCounter("binaural.tracking.ticks",
		metric.WithDescription("Fusion estimator ticks."))
	if err != nil {
		return nil, err
	}
	updates, err := m.meter.Int64ObservableCounter("binaural.tracking.updates",
		metric.WithDescription("Measurement updates applied by sensor."))
	if err != nil {
		return nil, err
	}
	missing, err := m.meter.Int64ObservableCounter("binaural.tracking.missing",
		metric.WithDescription("Ticks without a fresh sample, by sensor."))
	if err != nil {
		return nil, err
	}
	divergences, err := m.meter.Int64ObservableCounter("binaural.tracking.divergences",
		metric.WithDescription("Filter resets to the last good state."))
	if err != nil {
		return nil, err
	}

	sensor := func(name string) metric.ObserveOption {
		return metric.WithAttributes(attribute.String("sensor", name))
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(ticks, int64(s.Ticks))
		o.ObserveInt64(updates, int64(s.PositionUpdates), sensor("position"))
		o.ObserveInt64(updates, int64(s.OrientationUpdates), sensor("orientation"))
		o.ObserveInt64(updates, int64(s.AngularRateUpdates), sensor("angular_rate"))
		o.ObserveInt64(missing, int64(s.MissingPosition), sensor("position"))
		o.ObserveInt64(missing, int64(s.MissingOrientation), sensor("orientation"))
		o.ObserveInt64(divergences, int64(s.Divergences))
		return nil
	}, ticks, updates, missing, divergences)
}
