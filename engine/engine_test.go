package engine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/fault"
	"github.com/cwbudde/algo-binaural/render"
	"github.com/cwbudde/algo-binaural/tracking"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LogLevel = config.LogWarn
	cfg.Audio.BlockSize = 128
	cfg.Audio.MaxSources = 4
	cfg.Audio.CrossfadeBlocks = 4
	cfg.HRIR.Length = 128
	return cfg
}

func tone(freq float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/48000)
	}
	return out
}

func mapLoader(clips map[string][]float64) Loader {
	return func(path string) ([]float64, error) {
		s, ok := clips[path]
		if !ok {
			return nil, errors.New("no such clip: " + path)
		}
		return s, nil
	}
}

type capture struct {
	left, right []float64
}

func (c *capture) WriteBlock(b core.Stereo) error {
	c.left = append(c.left, b.Left...)
	c.right = append(c.right, b.Right...)
	return nil
}

func energy(x []float64) float64 {
	var e float64
	for _, v := range x {
		e += v * v
	}
	return e
}

func newManualMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return mp, reader
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Audio.SampleRate = 100
	cfg.Post.Environment = "cave"

	_, err := New(cfg)
	require.Error(t, err)

	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "config", ce.Component)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestNewRequiresLoaderForSources(t *testing.T) {
	cfg := testConfig()
	cfg.Sources = []config.SourceConfig{{Name: "bird", File: "bird.wav", Position: []float64{1, 0, 0}}}

	_, err := New(cfg)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sources", ce.Component)

	_, err = New(cfg, WithLoader(mapLoader(nil)))
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "bird")
}

func TestNewDefaultConfig(t *testing.T) {
	e, err := New(nil, WithMeterProvider(sdkmetric.NewMeterProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Equal(t, 48000.0, e.Format().SampleRate)
	assert.Equal(t, 512, e.Format().BlockSize)
	assert.Equal(t, 1024, e.Bank().FFTSize())
	assert.Empty(t, e.Sources())
	assert.Nil(t, e.Playlist())
}

func newSourceEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	cfg.Sources = []config.SourceConfig{{
		Name:     "tone",
		File:     "tone.wav",
		Position: []float64{2, 0, 1.6},
		Loop:     true,
	}}
	clips := map[string][]float64{"tone.wav": tone(440, 4800)}

	e, err := New(cfg, append([]Option{WithLoader(mapLoader(clips))}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOfflineIsDeterministic(t *testing.T) {
	run := func() *capture {
		mp, _ := newManualMeter(t)
		e := newSourceEngine(t, testConfig(), WithMeterProvider(mp))
		sensor := tracking.NewNoisySensor(7, epoch, 0.01, 0.01)
		traj := tracking.DemoTrajectory(geom.Vec{})

		var c capture
		require.NoError(t, e.Offline(context.Background(), epoch, 60, &c, func(now time.Time) {
			require.NoError(t, sensor.Feed(e.Estimator(), traj, now))
		}))
		return &c
	}

	a, b := run(), run()
	require.Len(t, a.left, 60*128)
	assert.Equal(t, a.left, b.left)
	assert.Equal(t, a.right, b.right)
	assert.Greater(t, energy(a.left), 0.0)
}

func TestOfflineInterleavesTrackingTicks(t *testing.T) {
	mp, reader := newManualMeter(t)
	e := newSourceEngine(t, testConfig(), WithMeterProvider(mp))

	var feeds []time.Time
	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 40, &c, func(now time.Time) {
		feeds = append(feeds, now)
	}))

	// 40 blocks of 128 samples start at most 104 ms in: ticks at 0..100 ms.
	require.Len(t, feeds, 11)
	assert.Equal(t, epoch, feeds[0])
	assert.Equal(t, epoch.Add(100*time.Millisecond), feeds[10])
	assert.Equal(t, uint64(11), e.Estimator().Stats().Ticks)

	assert.Equal(t, int64(40), counterValue(t, reader, "binaural.render.blocks"))
	assert.Equal(t, int64(11), counterValue(t, reader, "binaural.tracking.ticks"))
}

func TestOfflineSourceFacesListener(t *testing.T) {
	// Listener at ear height facing +y; the source is 2 m to its right.
	e := newSourceEngine(t, testConfig(), WithMeterProvider(sdkmetric.NewMeterProvider()))

	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 80, &c, nil))

	tail := len(c.left) / 2
	l, r := energy(c.left[tail:]), energy(c.right[tail:])
	require.Greater(t, l, 0.0)
	assert.Greater(t, 10*math.Log10(r/l), 3.0)
}

func TestOfflineReportsSensorFaults(t *testing.T) {
	mp, reader := newManualMeter(t)
	faults := &fault.Counter{}
	cfg := testConfig()
	cfg.Tracking.StaleAfter = 5
	e := newSourceEngine(t, cfg, WithMeterProvider(mp), WithReporter(faults))

	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 40, &c, nil))

	// No sensor data at all: both streams go stale once.
	assert.Equal(t, int64(2), faults.Count(fault.KindSensor))
	assert.Equal(t, int64(2), counterValue(t, reader, "binaural.faults"))
}

func TestOfflinePlaylistRotates(t *testing.T) {
	cfg := testConfig()
	cfg.Playlist = &config.PlaylistConfig{
		Interval:  20 * time.Millisecond,
		Positions: [][]float64{{2, 0, 0}, {-2, 1, 0}},
		Files:     []string{"a.wav", "b.wav"},
	}
	clips := map[string][]float64{"a.wav": tone(300, 2400), "b.wav": tone(600, 2400)}
	e, err := New(cfg, WithLoader(mapLoader(clips)), WithMeterProvider(sdkmetric.NewMeterProvider()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NotNil(t, e.Playlist())

	// 30 blocks span 77 ms: rotations at 20, 40 and 60 ms.
	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 30, &c, nil))

	assert.Equal(t, "b.wav", e.Playlist().Current().Name)
	assert.Equal(t, render.Playing, e.Orchestrator().State(e.Playlist().ID()))
	pos, ok := e.Orchestrator().Position(e.Playlist().ID())
	require.True(t, ok)
	assert.Equal(t, geom.Vec{X: -2, Y: 1}, pos)
	assert.Greater(t, energy(c.left), 0.0)
}

func TestOfflineLoudspeakers(t *testing.T) {
	cfg := testConfig()
	cfg.Post.OutputTarget = "loudspeakers"
	cfg.Post.Environment = "room"
	e := newSourceEngine(t, cfg, WithMeterProvider(sdkmetric.NewMeterProvider()))

	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 40, &c, nil))

	for i := range c.left {
		require.LessOrEqual(t, math.Abs(c.left[i]), 1.0)
		require.LessOrEqual(t, math.Abs(c.right[i]), 1.0)
	}
	assert.Greater(t, energy(c.left)+energy(c.right), 0.0)
}

func TestOfflineStopsOnSinkError(t *testing.T) {
	e := newSourceEngine(t, testConfig(), WithMeterProvider(sdkmetric.NewMeterProvider()))

	boom := errors.New("disk full")
	n := 0
	err := e.Offline(context.Background(), epoch, 10, render.SinkFunc(func(core.Stereo) error {
		n++
		if n == 3 {
			return boom
		}
		return nil
	}), nil)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)
}

func TestResetClearsState(t *testing.T) {
	e := newSourceEngine(t, testConfig(), WithMeterProvider(sdkmetric.NewMeterProvider()))

	var c capture
	require.NoError(t, e.Offline(context.Background(), epoch, 20, &c, nil))
	e.Reset()

	c = capture{}
	require.NoError(t, e.Offline(context.Background(), epoch.Add(time.Second), 20, &c, nil))
	for _, v := range c.left {
		require.False(t, math.IsNaN(v))
	}
	assert.Equal(t, render.Playing, e.Orchestrator().State(e.Sources()["tone"]))
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	e := newSourceEngine(t, testConfig(), WithMeterProvider(sdkmetric.NewMeterProvider()))

	manual := clock.NewManual(epoch)
	ctx, cancel := context.WithCancel(clock.WithClock(context.Background(), manual))
	defer cancel()

	var blocks atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, render.SinkFunc(func(core.Stereo) error {
			blocks.Add(1)
			return nil
		}))
	}()

	require.Eventually(t, func() bool { return manual.Tickers() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		manual.Advance(e.Format().BlockDuration())
		return blocks.Load() >= 5
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Positive(t, e.Estimator().Stats().Ticks)
}

func TestRunReturnsSinkError(t *testing.T) {
	e := newSourceEngine(t, testConfig(), WithMeterProvider(sdkmetric.NewMeterProvider()))

	manual := clock.NewManual(epoch)
	ctx := clock.WithClock(context.Background(), manual)

	boom := errors.New("device lost")
	done := make(chan error, 1)
	go func() {
		done <- e.Run(ctx, render.SinkFunc(func(core.Stereo) error { return boom }))
	}()

	require.Eventually(t, func() bool { return manual.Tickers() == 2 }, time.Second, time.Millisecond)

	var err error
	require.Eventually(t, func() bool {
		manual.Advance(e.Format().BlockDuration())
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, err, boom)
}

func TestPostTargetFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Post.OutputTarget = "loudspeakers"
	pp, err := buildPost(cfg, cfg.Format())
	require.NoError(t, err)
	assert.Equal(t, post.Loudspeakers, pp.Target())

	cfg.Post.EQGains = []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2}
	cfg.Post.Reverb = "fdn"
	pp, err = buildPost(cfg, cfg.Format())
	require.NoError(t, err)
	assert.Equal(t, "fdn", pp.Reverb().String())
}
