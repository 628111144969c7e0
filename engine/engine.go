// Package engine assembles a complete binaural renderer from a validated
// configuration and runs its tracking and render loops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/distance"
	"github.com/cwbudde/algo-binaural/dsp/eq"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/hrir"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
	"github.com/cwbudde/algo-binaural/fault"
	"github.com/cwbudde/algo-binaural/internal/observe"
	"github.com/cwbudde/algo-binaural/render"
	"github.com/cwbudde/algo-binaural/tracking"
)

// ConfigurationError reports a setting that prevents the engine from being
// built. It is always fatal.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return "engine: configuration (" + e.Component + "): " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(component string, err error) error {
	return &ConfigurationError{Component: component, Err: err}
}

// Loader reads a mono clip at the configured sample rate.
type Loader func(path string) ([]float64, error)

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	reporter fault.Reporter
	meter    metric.MeterProvider
	loader   Loader
	source   hrir.Source
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReporter receives every fault in addition to metrics and logging.
func WithReporter(r fault.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meter = mp }
}

// WithLoader reads the clips named by configured sources and playlists.
func WithLoader(l Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithHRIRSource replaces the synthesized spherical head.
func WithHRIRSource(src hrir.Source) Option {
	return func(o *options) { o.source = src }
}

type startup struct {
	id   render.SourceID
	name string
	src  render.Source
}

// Engine owns one renderer: the HRIR bank, spatializer, post chain, fusion
// estimator and orchestrator.
type Engine struct {
	cfg    *config.Config
	log    *slog.Logger
	format core.Format

	bank         *hrir.Bank
	spatializer  *spatial.Spatializer
	post         *post.Processor
	estimator    *tracking.Estimator
	orchestrator *render.Orchestrator
	playlist     *render.Playlist
	sources      []startup

	metrics      *observe.Metrics
	registration metric.Registration

	startOnce sync.Once
	startErr  error
}

// New validates cfg and builds every component. All failures are
// *ConfigurationError.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, configErr("config", err)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{cfg: cfg, log: o.logger, format: cfg.Format()}

	var err error
	if o.meter != nil {
		e.metrics, err = observe.NewMetrics(o.meter)
		if err != nil {
			return nil, fmt.Errorf("engine: metrics: %w", err)
		}
	} else {
		e.metrics = observe.DefaultMetrics()
	}
	reporter := fault.Multi(e.metrics, observe.LogReporter{Logger: e.log}, o.reporter)

	if e.bank, err = buildBank(cfg, o.source); err != nil {
		return nil, configErr("hrir", err)
	}
	if e.spatializer, err = buildSpatializer(cfg, e.bank); err != nil {
		return nil, configErr("spatial", err)
	}
	if e.post, err = buildPost(cfg, e.format); err != nil {
		return nil, configErr("post", err)
	}

	tc, err := cfg.TrackingConfig()
	if err != nil {
		return nil, configErr("tracking", err)
	}
	e.estimator, err = tracking.NewEstimator(tc,
		tracking.WithLogger(e.log.With("component", "tracking")),
		tracking.WithReporter(reporter))
	if err != nil {
		return nil, configErr("tracking", err)
	}

	dist, err := distanceOptions(cfg)
	if err != nil {
		return nil, configErr("distance", err)
	}
	e.orchestrator, err = render.New(e.format, e.estimator.Exchange(), e.spatializer, e.post,
		render.WithLogger(e.log.With("component", "render")),
		render.WithReporter(reporter),
		render.WithObserver(e.metrics),
		render.WithCrossfadeBlocks(cfg.Audio.CrossfadeBlocks),
		render.WithMaxSources(cfg.Audio.MaxSources),
		render.WithCommandQueue(cfg.Audio.CommandQueue),
		render.WithDistance(dist...))
	if err != nil {
		return nil, configErr("render", err)
	}

	if err := e.loadSources(o.loader); err != nil {
		return nil, err
	}

	e.registration, err = e.metrics.ObserveTracking(e.estimator.Stats)
	if err != nil {
		return nil, fmt.Errorf("engine: metrics: %w", err)
	}

	e.log.Info("engine ready",
		"sample_rate", e.format.SampleRate,
		"block_size", e.format.BlockSize,
		"fft_size", e.bank.FFTSize(),
		"hrir_length", e.bank.Length(),
		"scheme", e.spatializer.Scheme().String(),
		"environment", e.post.Environment().String(),
		"reverb", e.post.Reverb().String(),
		"target", e.post.Target().String(),
		"sources", len(e.sources))

	return e, nil
}

func buildBank(cfg *config.Config, src hrir.Source) (*hrir.Bank, error) {
	if src == nil {
		head := hrir.DefaultHead()
		head.Radius = cfg.HRIR.HeadRadius
		head.SpeedOfSound = cfg.Distance.SpeedOfSound
		src = head
	}
	return hrir.NewBank(cfg.Audio.SampleRate, cfg.Audio.BlockSize,
		hrir.WithLength(cfg.HRIR.Length),
		hrir.WithFFTSize(cfg.HRIR.FFTSize),
		hrir.WithGrid(cfg.Grid()),
		hrir.WithSource(src))
}

func buildSpatializer(cfg *config.Config, bank *hrir.Bank) (*spatial.Spatializer, error) {
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}
	return spatial.NewSpatializer(bank,
		spatial.WithScheme(scheme),
		spatial.WithMaxVoices(cfg.Audio.MaxSources),
		spatial.WithHeadRadius(cfg.HRIR.HeadRadius),
		spatial.WithSpeedOfSound(cfg.Distance.SpeedOfSound),
		spatial.WithITD(cfg.HRIR.ITD))
}

func buildPost(cfg *config.Config, format core.Format) (*post.Processor, error) {
	env, err := cfg.Environment()
	if err != nil {
		return nil, err
	}
	target, err := cfg.Target()
	if err != nil {
		return nil, err
	}
	variant, err := cfg.ReverbVariant()
	if err != nil {
		return nil, err
	}

	opts := []post.Option{post.WithTarget(target), post.WithReverb(variant)}
	if len(cfg.Post.EQGains) == eq.Bands {
		var gains [eq.Bands]float64
		copy(gains[:], cfg.Post.EQGains)
		opts = append(opts, post.WithEQGains(gains))
	}
	if cfg.Post.Room != nil {
		opts = append(opts, post.WithRoom(cfg.Room()))
	}
	if target == post.Loudspeakers {
		opts = append(opts, post.WithLayout(cfg.Layout()))
	}

	return post.NewProcessor(format, env, opts...)
}

func distanceOptions(cfg *config.Config) ([]distance.Option, error) {
	att, err := cfg.Attenuation()
	if err != nil {
		return nil, err
	}
	d := cfg.Distance
	return []distance.Option{
		distance.WithAttenuation(att),
		distance.WithSpeedOfSound(d.SpeedOfSound),
		distance.WithMaxRadialFraction(d.MaxRadialFraction),
		distance.WithHeadroom(d.DopplerHeadroom),
		distance.WithMinDistance(d.MinDistance),
		distance.WithDoppler(d.Doppler),
	}, nil
}

func (e *Engine) loadSources(load Loader) error {
	if (len(e.cfg.Sources) > 0 || e.cfg.Playlist != nil) && load == nil {
		return configErr("sources", errors.New("sources are configured but no loader was given"))
	}

	for _, sc := range e.cfg.Sources {
		samples, err := load(sc.File)
		if err != nil {
			return configErr("sources", fmt.Errorf("%s: %w", sc.Name, err))
		}
		pos, err := config.Vec(sc.Position)
		if err != nil {
			return configErr("sources", fmt.Errorf("%s: %w", sc.Name, err))
		}
		var vel geom.Vec
		if sc.Velocity != nil {
			if vel, err = config.Vec(sc.Velocity); err != nil {
				return configErr("sources", fmt.Errorf("%s: %w", sc.Name, err))
			}
		}
		e.sources = append(e.sources, startup{
			id:   render.NewSourceID(),
			name: sc.Name,
			src: render.Source{
				Provider: render.NewSliceProvider(samples),
				Position: pos,
				Velocity: vel,
				Loop:     sc.Loop,
			},
		})
	}

	pl := e.cfg.Playlist
	if pl == nil {
		return nil
	}
	assets := make([]render.Asset, 0, len(pl.Files))
	for i, f := range pl.Files {
		samples, err := load(f)
		if err != nil {
			return configErr("playlist", err)
		}
		pos, err := config.Vec(pl.PositionOf(i))
		if err != nil {
			return configErr("playlist", fmt.Errorf("%s: %w", f, err))
		}
		assets = append(assets, render.Asset{Name: f, Samples: samples, Position: pos})
	}
	var err error
	if e.playlist, err = render.NewPlaylist(render.NewSourceID(), pl.Interval, assets...); err != nil {
		return configErr("playlist", err)
	}
	e.playlist.SetLogger(e.log.With("component", "playlist"))
	return nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Format returns the block format.
func (e *Engine) Format() core.Format { return e.format }

// Bank returns the HRIR bank.
func (e *Engine) Bank() *hrir.Bank { return e.bank }

// Estimator returns the fusion estimator. Push sensor samples into it.
func (e *Engine) Estimator() *tracking.Estimator { return e.estimator }

// Orchestrator returns the render orchestrator for source control.
func (e *Engine) Orchestrator() *render.Orchestrator { return e.orchestrator }

// Playlist returns the configured playlist, or nil.
func (e *Engine) Playlist() *render.Playlist { return e.playlist }

// Sources returns the ids of the configured sources by name.
func (e *Engine) Sources() map[string]render.SourceID {
	ids := make(map[string]render.SourceID, len(e.sources))
	for _, s := range e.sources {
		ids[s.name] = s.id
	}
	return ids
}

// Reset clears every per-source history, the post chain and the fusion
// state. Both take effect at the start of their next tick.
func (e *Engine) Reset() {
	e.estimator.Reset()
	e.orchestrator.Reset()
	e.log.Info("engine reset")
}

// Close releases the metric callbacks.
func (e *Engine) Close() error {
	if e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// start activates the configured sources once.
func (e *Engine) start() error {
	e.startOnce.Do(func() {
		for _, s := range e.sources {
			if err := e.orchestrator.Activate(s.id, s.src); err != nil {
				e.startErr = fmt.Errorf("engine: start %s: %w", s.name, err)
				return
			}
		}
		if e.playlist != nil {
			if err := e.playlist.Start(e.orchestrator); err != nil {
				e.startErr = fmt.Errorf("engine: start playlist: %w", err)
			}
		}
	})
	return e.startErr
}

// Run starts the configured sources and runs tracking, rendering and the
// playlist on the clock carried by ctx until ctx is done or the sink
// fails. Cancellation of ctx is a clean stop and returns nil.
func (e *Engine) Run(ctx context.Context, sink render.Sink) error {
	if err := e.start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.estimator.Run(gctx, e.cfg.TickPeriod()) })
	g.Go(func() error { return e.orchestrator.Run(gctx, sink) })
	if e.playlist != nil {
		g.Go(func() error { return e.playlist.Run(gctx, e.orchestrator) })
	}

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Feed is called before each tracking tick of an offline render with the
// tick time, typically to push sensor samples.
type Feed func(now time.Time)

// Offline renders blocks as fast as possible on simulated time starting at
// start. Tracking ticks, feed calls and playlist rotations are interleaved
// with the blocks by their simulated times, so the output depends only on
// the configuration and the inputs.
func (e *Engine) Offline(ctx context.Context, start time.Time, blocks int, sink render.Sink, feed Feed) error {
	if err := e.start(); err != nil {
		return err
	}

	manual := clock.NewManual(start)
	ctx = clock.WithClock(ctx, manual)

	blockDur := e.format.BlockDuration()
	tick := e.cfg.TickPeriod()
	nextTick := start
	var nextRotate time.Time
	if e.playlist != nil {
		nextRotate = start.Add(e.cfg.Playlist.Interval)
	}

	for b := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := start.Add(time.Duration(b) * blockDur)

		for !nextTick.After(now) {
			if feed != nil {
				feed(nextTick)
			}
			e.estimator.Step(ctx, nextTick)
			nextTick = nextTick.Add(tick)
		}
		if e.playlist != nil && !nextRotate.After(now) {
			if err := e.playlist.Advance(e.orchestrator); err != nil {
				e.log.Warn("playlist rotation skipped", "error", err)
			}
			nextRotate = nextRotate.Add(e.cfg.Playlist.Interval)
		}

		if err := sink.WriteBlock(e.orchestrator.RenderBlock(ctx)); err != nil {
			return fmt.Errorf("engine: sink: %w", err)
		}
		manual.Advance(blockDur)
	}

	return nil
}
