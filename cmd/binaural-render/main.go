// Command binaural-render renders a tracked binaural scene to a WAV file.
//
// Usage:
//
//	binaural-render [flags]
//
// Sources and the playlist come from the configuration file. Clips may be
// WAV, MP3 or Ogg Vorbis files; names starting with "synth:" are generated
// instead of read from disk. Without
// any configured sources a five asset demo playlist is used, rotating
// every five seconds around a listener that sways on a simulated noisy
// tracker. Without a configuration file the demo plays in the forest
// environment.
//
// Examples:
//
//	binaural-render -out scene.wav
//	binaural-render -config scene.yaml -duration 30s -out scene.wav
//	binaural-render -realtime -duration 10s -out live.wav
//	binaural-render -bits 24 -dither tpdf -shaping 9fc -out master.wav
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/dsp/dither"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/engine"
	"github.com/cwbudde/algo-binaural/internal/observe"
	"github.com/cwbudde/algo-binaural/tracking"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults when empty)")
	out := flag.String("out", "binaural.wav", "output WAV file")
	duration := flag.Duration("duration", 20*time.Second, "length of the render")
	realtime := flag.Bool("realtime", false, "pace rendering by the wall clock instead of rendering offline")
	seed := flag.Uint64("seed", 1, "sensor noise seed")
	posNoise := flag.Float64("pos-noise", 0.05, "simulated position sensor noise in metres")
	oriNoise := flag.Float64("ori-noise", 0.01, "simulated orientation sensor noise in radians")
	static := flag.Bool("static", false, "hold the listener still instead of the demo trajectory")
	jsonLogs := flag.Bool("log-json", false, "log as JSON")
	bits := flag.Int("bits", 16, "output bit depth")
	ditherName := flag.String("dither", "tpdf", "dither type: none, rpdf, tpdf or gaussian")
	shapingName := flag.String("shaping", "flat", "noise shaping: flat, efb, 2sc, 3fc or 9fc")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: binaural-render [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Renders a head-tracked binaural scene to a stereo WAV file.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
	}
	useDemo(cfg, *configPath != "")

	logger := observe.NewLogger(os.Stderr, cfg.LogLevel.Level(), *jsonLogs)
	slog.SetDefault(logger)

	typ, err := dither.ParseType(*ditherName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	shaping, err := dither.ParseShaping(*shapingName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, runOptions{
		out:      *out,
		duration: *duration,
		realtime: *realtime,
		seed:     *seed,
		posNoise: *posNoise,
		oriNoise: *oriNoise,
		static:   *static,
		dither: []dither.Option{
			dither.WithBitDepth(*bits),
			dither.WithType(typ),
			dither.WithShaping(shaping),
			dither.WithSeed(*seed),
		},
	}, logger); err != nil {
		logger.Error("render failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	out      string
	duration time.Duration
	realtime bool
	seed     uint64
	posNoise float64
	oriNoise float64
	static   bool
	dither   []dither.Option
}

func loader(rate float64) engine.Loader {
	return func(path string) ([]float64, error) {
		if strings.HasPrefix(path, synthPrefix) {
			return synthesize(path, rate, 5)
		}
		return loadAsset(path, rate)
	}
}

func run(cfg *config.Config, opts runOptions, logger *slog.Logger) error {
	e, err := engine.New(cfg, engine.WithLogger(logger), engine.WithLoader(loader(cfg.Audio.SampleRate)))
	if err != nil {
		return err
	}
	defer e.Close()

	sink, err := newWAVSink(opts.out, cfg.Audio.SampleRate, cfg.Audio.BlockSize, opts.dither...)
	if err != nil {
		return err
	}

	centre, err := config.Vec(cfg.Tracking.InitialPosition)
	if err != nil {
		return err
	}
	traj := tracking.DemoTrajectory(centre)
	if opts.static {
		traj = tracking.StaticTrajectory(centre, geom.Identity())
	}

	start := time.Now()
	sensor := tracking.NewNoisySensor(opts.seed, start, opts.posNoise, opts.oriNoise)
	feed := func(now time.Time) {
		if err := sensor.Feed(e.Estimator(), traj, now); err != nil {
			logger.Debug("sensor sample rejected", "error", err)
		}
	}

	if opts.realtime {
		err = runRealtime(e, sink, opts.duration, cfg.TickPeriod(), feed)
	} else {
		blocks := int(opts.duration / e.Format().BlockDuration())
		err = e.Offline(context.Background(), start, blocks, sink, feed)
	}
	if cerr := sink.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	left, right := sink.meter.Result()
	st := e.Orchestrator().Stats()
	ts := e.Estimator().Stats()
	logger.Info("render complete",
		"out", opts.out,
		"blocks", st.Blocks,
		"audio_faults", st.Faults,
		"tracking_ticks", ts.Ticks,
		"divergences", ts.Divergences,
		"clipped_samples", sink.Clipped(),
		"integrated_lufs", fmt.Sprintf("%.1f", sink.loudness.Integrated()),
		"peak_db", fmt.Sprintf("%.1f/%.1f", left.PeakDB, right.PeakDB),
		"rms_db", fmt.Sprintf("%.1f/%.1f", left.RMSDB, right.RMSDB))
	return nil
}

// runRealtime renders against the wall clock until duration elapses or the
// process is interrupted, feeding the simulated sensors at the tracking
// rate.
func runRealtime(e *engine.Engine, sink *wavSink, duration, tick time.Duration, feed func(time.Time)) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	go func() {
		t := clock.FromContext(ctx).NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C():
				feed(now)
			}
		}
	}()

	return e.Run(ctx, sink)
}
