package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/fault"
)

// ErrInvalidSample is returned by the Push methods for non-finite readings.
var ErrInvalidSample = errors.New("tracking: invalid sample")

// Stats are cumulative estimator counters.
type Stats struct {
	Ticks              uint64
	PositionUpdates    uint64
	OrientationUpdates uint64
	AngularRateUpdates uint64
	MissingPosition    uint64
	MissingOrientation uint64
	Divergences        uint64
	Rejected           uint64
}

type counters struct {
	ticks, posUpdates, oriUpdates, rateUpdates atomic.Uint64
	missingPos, missingOri, divergences        atomic.Uint64
	rejected                                   atomic.Uint64
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithReporter sets the fault reporter.
func WithReporter(r fault.Reporter) Option {
	return func(e *Estimator) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithExchange publishes into x instead of a private exchange.
func WithExchange(x *Exchange) Option {
	return func(e *Estimator) {
		if x != nil {
			e.exchange = x
		}
	}
}

type snapshot struct {
	pos *kalman
	ori *kalman
	q   geom.Quat
}

// Estimator fuses position, orientation and angular-rate samples into
// listener poses. Push methods, Reset, Latest and Stats are safe from any
// goroutine; Step and Run belong to a single tracking goroutine.
type Estimator struct {
	cfg      Config
	log      *slog.Logger
	reporter fault.Reporter
	exchange *Exchange

	positions    mailbox[PositionSample]
	orientations mailbox[OrientationSample]
	rates        mailbox[AngularRateSample]
	resetReq     atomic.Bool
	stats        counters

	// Owned by the tick goroutine.
	pos     *kalman
	ori     *kalman // error rotation vector (3) and angular rate (3)
	q       geom.Quat
	good    snapshot
	started bool
	last    time.Time
	seq     uint64

	posMiss, oriMiss   int
	posStale, oriStale bool
}

// NewEstimator validates cfg and publishes the initial pose.
func NewEstimator(cfg Config, opts ...Option) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Estimator{
		cfg:      cfg,
		log:      slog.Default(),
		reporter: fault.Discard,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.exchange == nil {
		e.exchange = NewExchange(nil)
	}

	e.reinit()
	e.exchange.Publish(e.pose(time.Time{}))

	return e, nil
}

func (e *Estimator) reinit() {
	e.pos = newKalman(e.cfg.Model.dim(), e.cfg.InitialCovariance)
	e.pos.x.SetVec(0, e.cfg.InitialPosition.X)
	e.pos.x.SetVec(1, e.cfg.InitialPosition.Y)
	e.pos.x.SetVec(2, e.cfg.InitialPosition.Z)
	e.ori = newKalman(6, e.cfg.InitialCovariance)
	e.pos.limit(e.cfg.covarianceCeiling())
	e.ori.limit(e.cfg.covarianceCeiling())
	e.q = geom.Identity()
	e.save()

	e.started = false
	e.posMiss, e.oriMiss = 0, 0
	e.posStale, e.oriStale = false, false
}

func (e *Estimator) save() {
	e.good = snapshot{pos: e.pos.clone(), ori: e.ori.clone(), q: e.q}
}

// Config returns the estimator configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Exchange returns the exchange poses are published into.
func (e *Estimator) Exchange() *Exchange { return e.exchange }

// Latest returns the most recently published pose.
func (e *Estimator) Latest() *Pose { return e.exchange.Load() }

// Stats returns a snapshot of the counters.
func (e *Estimator) Stats() Stats {
	return Stats{
		Ticks:              e.stats.ticks.Load(),
		PositionUpdates:    e.stats.posUpdates.Load(),
		OrientationUpdates: e.stats.oriUpdates.Load(),
		AngularRateUpdates: e.stats.rateUpdates.Load(),
		MissingPosition:    e.stats.missingPos.Load(),
		MissingOrientation: e.stats.missingOri.Load(),
		Divergences:        e.stats.divergences.Load(),
		Rejected:           e.stats.rejected.Load(),
	}
}

func finiteVec(v geom.Vec) bool {
	s := v.X + v.Y + v.Z
	return !math.IsNaN(s) && !math.IsInf(s, 0)
}

func validCovariance(c *mat.SymDense) bool {
	if c == nil {
		return true
	}
	if c.SymmetricDim() != 3 {
		return false
	}
	for i := range 3 {
		for j := i; j < 3; j++ {
			if v := c.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func (e *Estimator) reject(format string, args ...any) error {
	e.stats.rejected.Add(1)
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidSample}, args...)...)
}

// PushPosition offers a position fix. Only the newest fix is kept.
func (e *Estimator) PushPosition(s PositionSample) error {
	if !finiteVec(s.Position) || !validCovariance(s.Covariance) {
		return e.reject("position %v", s.Position)
	}
	e.positions.put(s)
	return nil
}

// PushOrientation offers an orientation reading. Only the newest is kept.
func (e *Estimator) PushOrientation(s OrientationSample) error {
	q := s.Orientation
	n := geom.Norm(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) || !validCovariance(s.Covariance) {
		return e.reject("orientation %v", q)
	}
	s.Orientation = geom.Normalize(q)
	e.orientations.put(s)
	return nil
}

// PushAngularRate offers a gyroscope reading. Only the newest is kept.
func (e *Estimator) PushAngularRate(s AngularRateSample) error {
	if !finiteVec(s.Rate) || !validCovariance(s.Covariance) {
		return e.reject("angular rate %v", s.Rate)
	}
	e.rates.put(s)
	return nil
}

// Reset discards the fused state. It takes effect at the next tick.
func (e *Estimator) Reset() {
	e.resetReq.Store(true)
}

// Step runs one tick at time now and returns the published pose. A now
// that is not after the previous tick publishes nothing.
func (e *Estimator) Step(ctx context.Context, now time.Time) *Pose {
	if e.resetReq.Swap(false) {
		e.reinit()
	}

	if !e.last.IsZero() && !now.After(e.last) {
		return e.exchange.Load()
	}
	if e.started {
		e.predict(now.Sub(e.last).Seconds())
	}
	e.started = true
	e.last = now
	e.stats.ticks.Add(1)

	b := e.collect(ctx, now)
	err := e.apply(b)
	if err == nil && !e.healthy() {
		err = errors.New("tracking: state left the valid region")
	}
	if err == nil {
		e.save()
		e.count(b)
	} else {
		e.recover(ctx, now, err)
		// Retry on the restored state, skipping samples that fail, so one
		// bad reading does not cost the fixes that came with it.
		if applied := e.applyEach(b); e.healthy() {
			e.save()
			e.count(applied)
		} else {
			e.restore()
		}
	}

	p := e.pose(now)
	e.exchange.Publish(p)
	return p
}

// Run ticks Step every period (Config.Period when period <= 0) on the
// clock carried by ctx until ctx is done.
func (e *Estimator) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = e.cfg.Period()
	}

	t := clock.FromContext(ctx).NewTicker(period)
	defer t.Stop()

	e.log.Info("tracking started", "rate_hz", float64(time.Second)/float64(period), "model", e.cfg.Model.String())
	defer e.log.Info("tracking stopped", "ticks", e.stats.ticks.Load())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C():
			e.Step(ctx, now)
		}
	}
}

func (e *Estimator) predict(dt float64) {
	e.pos.propagate(e.cfg.Model.transition(dt), e.cfg.Model.processNoise(e.cfg.PositionProcessNoise, dt))

	w := e.angularRate()
	e.q = geom.Normalize(geom.Mul(e.q, geom.FromRotationVector(r3.Scale(dt, w))))

	f := mat.NewDense(6, 6, nil)
	for i := range 6 {
		f.Set(i, i, 1)
	}
	for i := range 3 {
		f.Set(i, 3+i, dt)
	}
	q := mat.NewSymDense(6, nil)
	for i := range 3 {
		q.SetSym(i, i, e.cfg.OrientationProcessNoise*dt)
		q.SetSym(3+i, 3+i, e.cfg.AngularRateProcessNoise*dt)
	}
	e.ori.propagateCovariance(f, q)

	// Unobserved blocks grow without bound; hold them below the
	// divergence limit so dead reckoning never reads as divergence.
	e.pos.limit(e.cfg.covarianceCeiling())
	e.ori.limit(e.cfg.covarianceCeiling())
}

// batch holds the samples taken from the mailboxes in one tick.
type batch struct {
	pos  *PositionSample
	ori  *OrientationSample
	rate *AngularRateSample
}

// collect drains the mailboxes and updates the missing and stale counters.
func (e *Estimator) collect(ctx context.Context, now time.Time) batch {
	var b batch
	if s, ok := e.positions.take(); ok {
		b.pos = &s
		e.posMiss = 0
		if e.posStale {
			e.posStale = false
			e.log.Info("position sensor recovered")
		}
	} else {
		e.stats.missingPos.Add(1)
		e.posMiss++
		if e.posMiss == e.cfg.StaleAfter {
			e.posStale = true
			e.stale(ctx, now, fault.ReasonPositionStale)
		}
	}

	if s, ok := e.rates.take(); ok {
		b.rate = &s
	}
	if s, ok := e.orientations.take(); ok {
		b.ori = &s
	}
	if b.rate != nil || b.ori != nil {
		e.oriMiss = 0
		if e.oriStale {
			e.oriStale = false
			e.log.Info("orientation sensor recovered")
		}
	} else {
		e.stats.missingOri.Add(1)
		e.oriMiss++
		if e.oriMiss == e.cfg.StaleAfter {
			e.oriStale = true
			e.stale(ctx, now, fault.ReasonOrientationStale)
		}
	}
	return b
}

// apply corrects the state with the collected samples.
func (e *Estimator) apply(b batch) error {
	if b.pos != nil {
		if err := e.correctPosition(*b.pos); err != nil {
			return err
		}
	}
	if b.rate != nil {
		if err := e.correctAngularRate(*b.rate); err != nil {
			return err
		}
	}
	if b.ori != nil {
		if err := e.correctOrientation(*b.ori); err != nil {
			return err
		}
	}
	return nil
}

// applyEach corrects with every sample that can be applied and returns
// those. A failed correction leaves the state untouched.
func (e *Estimator) applyEach(b batch) batch {
	var ok batch
	if b.pos != nil && e.correctPosition(*b.pos) == nil {
		ok.pos = b.pos
	}
	if b.rate != nil && e.correctAngularRate(*b.rate) == nil {
		ok.rate = b.rate
	}
	if b.ori != nil && e.correctOrientation(*b.ori) == nil {
		ok.ori = b.ori
	}
	return ok
}

// count records the samples of an applied batch.
func (e *Estimator) count(b batch) {
	if b.pos != nil {
		e.stats.posUpdates.Add(1)
	}
	if b.rate != nil {
		e.stats.rateUpdates.Add(1)
	}
	if b.ori != nil {
		e.stats.oriUpdates.Add(1)
	}
}

func (e *Estimator) stale(ctx context.Context, now time.Time, reason string) {
	e.log.Warn("sensor stale, dead reckoning", "reason", reason, "ticks", e.cfg.StaleAfter)
	e.reporter.Report(ctx, fault.Fault{Kind: fault.KindSensor, Reason: reason, Time: now})
}

func noise(c *mat.SymDense, variance float64) mat.Symmetric {
	if c != nil {
		return c
	}
	return diagonal(3, variance)
}

func (e *Estimator) correctPosition(s PositionSample) error {
	h := e.cfg.Model.positionObservation()
	var hx mat.VecDense
	hx.MulVec(h, e.pos.x)

	y := mat.NewVecDense(3, []float64{
		s.Position.X - hx.AtVec(0),
		s.Position.Y - hx.AtVec(1),
		s.Position.Z - hx.AtVec(2),
	})
	_, err := e.pos.correct(h, noise(s.Covariance, e.cfg.PositionMeasurementNoise), y)
	return err
}

func orientationObservation(offset int) *mat.Dense {
	h := mat.NewDense(3, 6, nil)
	for i := range 3 {
		h.Set(i, offset+i, 1)
	}
	return h
}

func (e *Estimator) correctOrientation(s OrientationSample) error {
	r := geom.RotationVector(geom.Mul(geom.Conj(e.q), s.Orientation))
	y := mat.NewVecDense(3, []float64{r.X, r.Y, r.Z})

	if _, err := e.ori.correct(orientationObservation(0), noise(s.Covariance, e.cfg.OrientationMeasurementNoise), y); err != nil {
		return err
	}
	e.foldError()
	return nil
}

func (e *Estimator) correctAngularRate(s AngularRateSample) error {
	w := e.angularRate()
	y := mat.NewVecDense(3, []float64{s.Rate.X - w.X, s.Rate.Y - w.Y, s.Rate.Z - w.Z})

	if _, err := e.ori.correct(orientationObservation(3), noise(s.Covariance, e.cfg.AngularRateMeasurementNoise), y); err != nil {
		return err
	}
	e.foldError()
	return nil
}

// foldError moves the estimated error rotation into the nominal quaternion
// and zeroes it.
func (e *Estimator) foldError() {
	d := geom.Vec{X: e.ori.x.AtVec(0), Y: e.ori.x.AtVec(1), Z: e.ori.x.AtVec(2)}
	e.q = geom.Normalize(geom.Mul(e.q, geom.FromRotationVector(d)))
	for i := range 3 {
		e.ori.x.SetVec(i, 0)
	}
}

func (e *Estimator) angularRate() geom.Vec {
	return geom.Vec{X: e.ori.x.AtVec(3), Y: e.ori.x.AtVec(4), Z: e.ori.x.AtVec(5)}
}

func (e *Estimator) healthy() bool {
	if !e.pos.finite() || !e.ori.finite() {
		return false
	}
	if n := geom.Norm(e.q); math.IsNaN(n) || math.Abs(n-1) > 1e-6 {
		return false
	}
	return e.pos.trace()+e.ori.trace() <= e.cfg.MaxCovarianceTrace
}

// recover restores the last good state with inflated covariance and
// reports the divergence.
func (e *Estimator) recover(ctx context.Context, now time.Time, cause error) {
	e.stats.divergences.Add(1)
	e.restore()

	e.log.Warn("tracking diverged, restored last good state", "error", cause)
	e.reporter.Report(ctx, fault.Fault{Kind: fault.KindSensor, Reason: fault.ReasonDivergence, Time: now, Err: cause})
}

// restore resets the state to the last good snapshot. The inflated
// covariance is capped so the restored state passes the health check.
func (e *Estimator) restore() {
	e.pos = e.good.pos.clone()
	e.ori = e.good.ori.clone()
	e.q = e.good.q
	e.pos.inflate(e.cfg.DivergenceInflation)
	e.ori.inflate(e.cfg.DivergenceInflation)
	e.pos.limit(e.cfg.covarianceCeiling())
	e.ori.limit(e.cfg.covarianceCeiling())
}

func (e *Estimator) pose(now time.Time) *Pose {
	e.seq++
	x := e.pos.x
	return &Pose{
		Seq:                   e.seq,
		Time:                  now,
		Position:              geom.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)},
		Velocity:              geom.Vec{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)},
		Orientation:           e.q,
		AngularRate:           e.angularRate(),
		PositionCovariance:    e.pos.block(0, 6),
		OrientationCovariance: e.ori.block(0, 3),
	}
}
