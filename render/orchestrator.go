package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/distance"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
	"github.com/cwbudde/algo-binaural/fault"
	"github.com/cwbudde/algo-binaural/tracking"
)

const (
	defaultCrossfadeBlocks = 8
	defaultMaxSources      = 8
	defaultCommandQueue    = 64

	// tailMargin covers the interaural delay in the drain after a source
	// ends.
	tailMargin = 2 * time.Millisecond
)

var (
	// ErrInvalidOrchestrator is returned for unusable orchestrator wiring or
	// options.
	ErrInvalidOrchestrator = errors.New("render: invalid orchestrator")
	// ErrQueueFull is returned when the control queue cannot take a command.
	ErrQueueFull = errors.New("render: command queue full")
	// ErrNilProvider is returned when a command carries no ChunkProvider.
	ErrNilProvider = errors.New("render: nil chunk provider")

	// ErrShortStream is returned for a stream provider that cannot hold one
	// block. It would report an underrun on every block.
	ErrShortStream = errors.New("render: stream capacity below block size")
)

// PoseSource yields the latest listener pose. *tracking.Exchange
// implements it.
type PoseSource interface {
	Load() *tracking.Pose
}

// Sink receives rendered blocks. The block is reused once WriteBlock
// returns.
type Sink interface {
	WriteBlock(block core.Stereo) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(block core.Stereo) error

// WriteBlock implements Sink.
func (f SinkFunc) WriteBlock(block core.Stereo) error { return f(block) }

// Observer is told about every rendered block.
type Observer interface {
	BlockRendered(ctx context.Context, elapsed time.Duration, active int)
}

// Option configures an Orchestrator.
type Option func(*options) error

type options struct {
	logger          *slog.Logger
	reporter        fault.Reporter
	observer        Observer
	crossfadeBlocks int
	maxSources      int
	queue           int
	distance        []distance.Option
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		if l != nil {
			o.logger = l
		}
		return nil
	}
}

// WithReporter routes runtime audio faults to r.
func WithReporter(r fault.Reporter) Option {
	return func(o *options) error {
		if r != nil {
			o.reporter = r
		}
		return nil
	}
}

// WithObserver registers a per-block observer.
func WithObserver(obs Observer) Option {
	return func(o *options) error {
		o.observer = obs
		return nil
	}
}

// WithCrossfadeBlocks sets the crossfade length in blocks.
func WithCrossfadeBlocks(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("%w: crossfade blocks must be >= 1: %d", ErrInvalidOrchestrator, n)
		}
		o.crossfadeBlocks = n
		return nil
	}
}

// WithMaxSources sets the number of source slots.
func WithMaxSources(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("%w: max sources must be >= 1: %d", ErrInvalidOrchestrator, n)
		}
		o.maxSources = n
		return nil
	}
}

// WithCommandQueue sets the control queue capacity.
func WithCommandQueue(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("%w: command queue must be >= 1: %d", ErrInvalidOrchestrator, n)
		}
		o.queue = n
		return nil
	}
}

// WithDistance passes options to every per-source distance stage.
func WithDistance(opts ...distance.Option) Option {
	return func(o *options) error {
		o.distance = append(o.distance, opts...)
		return nil
	}
}

// Source describes a source to activate.
type Source struct {
	Provider ChunkProvider
	Position geom.Vec
	Velocity geom.Vec
	Loop     bool
}

type asset struct {
	provider ChunkProvider
	loop     bool
	ended    bool

	// relocate moves the source to position/velocity once the asset
	// dominates the crossfade.
	relocate bool
	position geom.Vec
	velocity geom.Vec
}

type stream struct {
	id    SourceID
	state State

	cur, next asset
	queued    *asset // played when cur ends
	pending   *asset // switch requested during a crossfade
	fade      int    // blocks into the crossfade
	tail      int    // silent blocks left before the slot is released

	position geom.Vec
	velocity geom.Vec

	stage *distance.Stage
	mono  []float64
	aux   []float64
}

type commandKind int

const (
	cmdActivate commandKind = iota
	cmdSwitch
	cmdQueue
	cmdDeactivate
	cmdMove
)

type command struct {
	kind     commandKind
	id       SourceID
	src      Source
	fade     bool
	relocate bool
}

// Stats are cumulative orchestrator counters.
type Stats struct {
	Blocks uint64
	Faults uint64
	Active int
}

// Orchestrator renders every active source into one stereo block per
// call. RenderBlock and Run belong to a single render goroutine; the
// control methods and Reset are safe from any goroutine.
type Orchestrator struct {
	format  core.Format
	poses   PoseSource
	spatial *spatial.Spatializer
	post    *post.Processor
	opts    options
	log     *slog.Logger

	commands chan command
	resetReq atomic.Bool

	streams []*stream
	active  map[SourceID]*stream
	free    []*stream

	out     core.Stereo
	fadeIn  []float64
	fadeOut []float64
	home    tracking.Pose
	tailPad int

	blockSeconds float64

	blocks atomic.Uint64
	faults atomic.Uint64
	count  atomic.Int64
}

// New wires an orchestrator over a spatializer and a post processor that
// share format.
func New(format core.Format, poses PoseSource, sp *spatial.Spatializer, pp *post.Processor, opts ...Option) (*Orchestrator, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if poses == nil || sp == nil || pp == nil {
		return nil, fmt.Errorf("%w: pose source, spatializer and post processor are required", ErrInvalidOrchestrator)
	}
	if bs := sp.Bank().BlockSize(); bs != format.BlockSize {
		return nil, fmt.Errorf("%w: spatializer block size %d, pipeline %d", ErrInvalidOrchestrator, bs, format.BlockSize)
	}
	if fs := sp.Bank().SampleRate(); fs != format.SampleRate {
		return nil, fmt.Errorf("%w: spatializer sample rate %g, pipeline %g", ErrInvalidOrchestrator, fs, format.SampleRate)
	}

	cfg := options{
		logger:          slog.Default(),
		reporter:        fault.Discard,
		crossfadeBlocks: defaultCrossfadeBlocks,
		maxSources:      defaultMaxSources,
		queue:           defaultCommandQueue,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maxSources > sp.MaxVoices() {
		return nil, fmt.Errorf("%w: %d sources but only %d spatializer voices", ErrInvalidOrchestrator, cfg.maxSources, sp.MaxVoices())
	}

	n := format.BlockSize
	o := &Orchestrator{
		format:   format,
		poses:    poses,
		spatial:  sp,
		post:     pp,
		opts:     cfg,
		log:      cfg.logger,
		commands: make(chan command, cfg.queue),
		active:   make(map[SourceID]*stream, cfg.maxSources),
		out:      core.NewStereo(n),
		fadeIn:   make([]float64, n),
		fadeOut:  make([]float64, n),
		home:     tracking.Pose{Orientation: geom.Identity()},
		tailPad:  sp.Bank().Length() + format.Samples(tailMargin),

		blockSeconds: float64(format.BlockSize) / format.SampleRate,
	}

	for range cfg.maxSources {
		stage, err := distance.NewStage(format, cfg.distance...)
		if err != nil {
			return nil, err
		}
		s := &stream{stage: stage, mono: make([]float64, n), aux: make([]float64, n)}
		o.streams = append(o.streams, s)
	}
	// Pop from the end so slot 0 is used first.
	for i := len(o.streams) - 1; i >= 0; i-- {
		o.free = append(o.free, o.streams[i])
	}

	return o, nil
}

// Format returns the block format.
func (o *Orchestrator) Format() core.Format { return o.format }

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{Blocks: o.blocks.Load(), Faults: o.faults.Load(), Active: int(o.count.Load())}
}

// State returns the playback state of id. A source that ended reports Idle
// while its tail drains. Call State from the render goroutine or while no
// render is running.
func (o *Orchestrator) State(id SourceID) State {
	if s, ok := o.active[id]; ok {
		return s.state
	}
	return Idle
}

// accept checks that p can serve a full block.
func (o *Orchestrator) accept(p ChunkProvider) error {
	if p == nil {
		return ErrNilProvider
	}
	if b, ok := p.(interface{ Capacity() int }); ok && b.Capacity() < o.format.BlockSize {
		return fmt.Errorf("%w: %d < %d", ErrShortStream, b.Capacity(), o.format.BlockSize)
	}
	return nil
}

func (o *Orchestrator) send(c command) error {
	select {
	case o.commands <- c:
		return nil
	default:
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(o.commands))
	}
}

// Activate starts id playing src. Activating a live id switches it to the
// new provider.
func (o *Orchestrator) Activate(id SourceID, src Source) error {
	if err := o.accept(src.Provider); err != nil {
		return err
	}
	return o.send(command{kind: cmdActivate, id: id, src: src})
}

// Switch crossfades id from its current asset to p.
func (o *Orchestrator) Switch(id SourceID, p ChunkProvider, loop bool) error {
	if err := o.accept(p); err != nil {
		return err
	}
	return o.send(command{kind: cmdSwitch, id: id, src: Source{Provider: p, Loop: loop}})
}

// SwitchTo crossfades id to src.Provider and relocates the source to
// src.Position and src.Velocity at the crossfade midpoint, when the incoming
// asset starts to dominate.
func (o *Orchestrator) SwitchTo(id SourceID, src Source) error {
	if err := o.accept(src.Provider); err != nil {
		return err
	}
	return o.send(command{kind: cmdSwitch, id: id, src: src, relocate: true})
}

// Position returns the world position of id and whether id is live. Like
// State, call it from the render goroutine or while no render is running.
func (o *Orchestrator) Position(id SourceID) (geom.Vec, bool) {
	if s, ok := o.active[id]; ok {
		return s.position, true
	}
	return geom.Vec{}, false
}

// Queue sets the asset that follows the current one when it ends.
func (o *Orchestrator) Queue(id SourceID, p ChunkProvider, loop bool) error {
	if err := o.accept(p); err != nil {
		return err
	}
	return o.send(command{kind: cmdQueue, id: id, src: Source{Provider: p, Loop: loop}})
}

// Deactivate stops id, fading out over the crossfade length when fade is
// set.
func (o *Orchestrator) Deactivate(id SourceID, fade bool) error {
	return o.send(command{kind: cmdDeactivate, id: id, fade: fade})
}

// Move updates the world position and velocity of id.
func (o *Orchestrator) Move(id SourceID, position, velocity geom.Vec) error {
	return o.send(command{kind: cmdMove, id: id, src: Source{Position: position, Velocity: velocity}})
}

// Reset clears every per-source history and the post-processor state at
// the start of the next block. Sources keep playing.
func (o *Orchestrator) Reset() {
	o.resetReq.Store(true)
}

// RenderBlock renders one block. It always returns a valid block; failed
// or starved sources contribute silence. The block is reused by the next
// call.
func (o *Orchestrator) RenderBlock(ctx context.Context) core.Stereo {
	start := time.Now()

	if o.resetReq.Swap(false) {
		o.reset()
	}
	o.drain(ctx)

	pose := o.poses.Load()
	if pose == nil {
		pose = &o.home
	}

	o.post.Begin()
	for _, s := range o.streams {
		if s.state != Idle || s.tail > 0 {
			o.render(ctx, s, pose)
		}
	}

	out, err := o.post.Finish()
	if err == nil && !out.Finite() {
		err = errors.New("render: non-finite output")
	}
	if err != nil {
		out.Zero()
		o.post.Reset()
		o.report(ctx, "", fault.ReasonRender, err)
	}

	o.blocks.Add(1)
	if o.opts.observer != nil {
		o.opts.observer.BlockRendered(ctx, time.Since(start), len(o.active))
	}

	return out
}

// Run renders at block cadence on the clock carried by ctx and delivers
// each block to sink until ctx is done or the sink fails.
func (o *Orchestrator) Run(ctx context.Context, sink Sink) error {
	t := clock.FromContext(ctx).NewTicker(o.format.BlockDuration())
	defer t.Stop()

	o.log.Info("render started",
		"sample_rate", o.format.SampleRate,
		"block_size", o.format.BlockSize,
		"sources", o.opts.maxSources,
		"environment", o.post.Environment().String(),
		"target", o.post.Target().String())
	defer o.log.Info("render stopped", "blocks", o.blocks.Load(), "faults", o.faults.Load())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if err := sink.WriteBlock(o.RenderBlock(ctx)); err != nil {
				return fmt.Errorf("render: sink: %w", err)
			}
		}
	}
}

func (o *Orchestrator) drain(ctx context.Context) {
	for range cap(o.commands) {
		select {
		case c := <-o.commands:
			o.apply(ctx, c)
		default:
			return
		}
	}
}

func (o *Orchestrator) apply(ctx context.Context, c command) {
	s, live := o.active[c.id]

	switch c.kind {
	case cmdActivate:
		if live {
			o.switchTo(s, asset{provider: c.src.Provider, loop: c.src.Loop}, TriggerActivate)
			s.position, s.velocity = c.src.Position, c.src.Velocity
			return
		}
		if len(o.free) == 0 {
			o.report(ctx, c.id.String(), fault.ReasonNoVoice, fmt.Errorf("render: all %d source slots in use", len(o.streams)))
			return
		}
		s = o.free[len(o.free)-1]
		o.free = o.free[:len(o.free)-1]
		s.id = c.id
		s.cur = asset{provider: c.src.Provider, loop: c.src.Loop}
		s.position, s.velocity = c.src.Position, c.src.Velocity
		o.active[c.id] = s
		o.count.Store(int64(len(o.active)))
		o.transition(s, Playing, TriggerActivate)

	case cmdSwitch:
		if !live {
			o.log.Debug("switch for inactive source", "source", c.id)
			return
		}
		o.switchTo(s, asset{
			provider: c.src.Provider,
			loop:     c.src.Loop,
			relocate: c.relocate,
			position: c.src.Position,
			velocity: c.src.Velocity,
		}, TriggerSwitch)

	case cmdQueue:
		if !live {
			o.log.Debug("queue for inactive source", "source", c.id)
			return
		}
		s.queued = &asset{provider: c.src.Provider, loop: c.src.Loop}

	case cmdDeactivate:
		if !live {
			return
		}
		s.queued = nil
		if !c.fade {
			o.retire(s, TriggerDeactivate)
			return
		}
		o.switchTo(s, asset{}, TriggerDeactivate)

	case cmdMove:
		if live {
			s.position, s.velocity = c.src.Position, c.src.Velocity
		}
	}
}

// switchTo starts a crossfade to a, or defers it until a running crossfade
// completes. A zero asset fades to silence. A draining source restarts
// directly with a.
func (o *Orchestrator) switchTo(s *stream, a asset, trig Trigger) {
	switch {
	case s.state == Idle && a.provider == nil:
		return
	case s.state == Idle:
		s.cur, s.tail = a, 0
		o.relocate(s, &s.cur)
		o.transition(s, Playing, trig)
		return
	case s.state == Crossfading:
		s.pending = &a
		return
	}
	s.next = a
	s.fade = 0
	o.transition(s, Crossfading, trig)
}

// relocate applies a pending move carried by a.
func (o *Orchestrator) relocate(s *stream, a *asset) {
	if !a.relocate {
		return
	}
	s.position, s.velocity = a.position, a.velocity
	a.relocate = false
	o.log.Debug("source relocated", "source", s.id, "position", s.position)
}

func (o *Orchestrator) transition(s *stream, to State, trig Trigger) {
	o.log.Debug("source transition", "source", s.id, "from", s.state.String(), "to", to.String(), "trigger", trig.String())
	s.state = to
}

// finish moves s to Idle and lets the delay and HRIR tails drain before the
// slot is released.
func (o *Orchestrator) finish(s *stream, trig Trigger) {
	o.transition(s, Idle, trig)
	s.cur, s.next = asset{}, asset{}
	s.queued, s.pending = nil, nil
	pad := int(math.Ceil(s.stage.Delay())) + o.tailPad
	s.tail = (pad + o.format.BlockSize - 1) / o.format.BlockSize
}

func (o *Orchestrator) retire(s *stream, trig Trigger) {
	if s.state != Idle {
		o.transition(s, Idle, trig)
	}
	o.spatial.Release(s.id)
	s.stage.Reset()
	delete(o.active, s.id)
	o.count.Store(int64(len(o.active)))

	s.cur, s.next = asset{}, asset{}
	s.queued, s.pending = nil, nil
	s.fade, s.tail = 0, 0
	o.free = append(o.free, s)
}

func (o *Orchestrator) render(ctx context.Context, s *stream, pose *tracking.Pose) {
	done := false
	retire := false

	switch s.state {
	case Idle:
		core.Zero(s.mono)
		s.tail--
		retire = s.tail <= 0

	case Playing:
		o.pull(ctx, s, &s.cur, s.mono)
		if s.cur.ended {
			if s.queued != nil {
				next := *s.queued
				s.queued = nil
				o.switchTo(s, next, TriggerEndOfAsset)
			} else {
				done = true
			}
		}

	case Crossfading:
		o.pull(ctx, s, &s.cur, s.mono)
		o.pull(ctx, s, &s.next, s.aux)

		o.fadeGains(s.fade)
		vecmath.MulBlockInPlace(s.mono, o.fadeOut)
		vecmath.MulAddBlock(s.mono, s.aux, o.fadeIn, s.mono)

		s.fade++
		if 2*s.fade >= o.opts.crossfadeBlocks {
			o.relocate(s, &s.next)
		}
		if s.fade >= o.opts.crossfadeBlocks {
			s.cur, s.next = s.next, asset{}
			s.fade = 0
			if s.cur.provider == nil {
				done = true
			} else {
				o.transition(s, Playing, TriggerFadeComplete)
				if s.pending != nil {
					next := *s.pending
					s.pending = nil
					o.switchTo(s, next, TriggerSwitch)
				}
			}
		}
	}

	geo := distance.Geometry{
		Listener:         pose.Position,
		ListenerVelocity: pose.Velocity,
		Orientation:      pose.Orientation,
		Source:           s.position,
		SourceVelocity:   s.velocity,
	}
	res, err := s.stage.Process(s.mono, s.mono, geo)
	if err == nil {
		err = o.spatial.Process(s.id, o.out, s.mono, res.Azimuth, res.Elevation)
	}
	if err != nil {
		o.report(ctx, s.id.String(), fault.ReasonRender, err)
	} else {
		o.post.Add(o.out)
	}
	// Velocity carries the source between Move calls.
	s.position = r3.Add(s.position, r3.Scale(o.blockSeconds, s.velocity))

	switch {
	case retire:
		o.retire(s, TriggerEndOfAsset)
	case done:
		o.finish(s, TriggerEndOfAsset)
	}
}

// pull fills dst from a, rewinding looped assets and padding with silence
// on underrun or end of stream.
func (o *Orchestrator) pull(ctx context.Context, s *stream, a *asset, dst []float64) {
	if a.provider == nil || a.ended {
		core.Zero(dst)
		return
	}

	filled := 0
	rewound := false
	for filled < len(dst) {
		n, err := a.provider.NextChunk(s.id, dst[filled:])
		filled += n

		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, ErrUnderrun):
			o.report(ctx, s.id.String(), fault.ReasonUnderrun, ErrUnderrun)
		case errors.Is(err, io.EOF):
			if rw, ok := a.provider.(Rewinder); ok && a.loop && !(rewound && n == 0) {
				rerr := rw.Rewind()
				if rerr == nil {
					rewound = true
					continue
				}
				o.report(ctx, s.id.String(), fault.ReasonSourceError, rerr)
			}
			a.ended = true
			if filled < len(dst) {
				o.report(ctx, s.id.String(), fault.ReasonEndOfStream, io.EOF)
			}
		default:
			a.ended = true
			o.report(ctx, s.id.String(), fault.ReasonSourceError, err)
		}
		break
	}

	core.Zero(dst[filled:])
}

// fadeGains fills the equal-power crossfade ramps for crossfade block step.
func (o *Orchestrator) fadeGains(step int) {
	n := len(o.fadeIn)
	total := float64(o.opts.crossfadeBlocks * n)
	for i := range n {
		p := float64(step*n+i+1) / total
		o.fadeIn[i] = math.Sin(0.5 * math.Pi * p)
		o.fadeOut[i] = math.Cos(0.5 * math.Pi * p)
	}
}

func (o *Orchestrator) reset() {
	for _, s := range o.streams {
		s.stage.Reset()
	}
	o.spatial.Reset()
	o.post.Reset()
	o.log.Debug("render state reset", "active", len(o.active))
}

func (o *Orchestrator) report(ctx context.Context, source, reason string, err error) {
	o.faults.Add(1)
	o.log.Debug("audio fault", "source", source, "reason", reason, "error", err)
	o.opts.reporter.Report(ctx, fault.Fault{
		Kind:   fault.KindRuntimeAudio,
		Reason: reason,
		Source: source,
		Time:   clock.FromContext(ctx).Now(),
		Err:    err,
	})
}
