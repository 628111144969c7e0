package render

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/hrir"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
	"github.com/cwbudde/algo-binaural/fault"
	"github.com/cwbudde/algo-binaural/internal/testutil"
	"github.com/cwbudde/algo-binaural/tracking"
)

const (
	testRate  = 48000.0
	testBlock = 128
	testFade  = 4
)

var testFormat = core.NewFormat(core.WithSampleRate(testRate), core.WithBlockSize(testBlock))

var testBank = sync.OnceValues(func() (*hrir.Bank, error) {
	return hrir.NewBank(testRate, testBlock, hrir.WithLength(128))
})

type fixture struct {
	o       *Orchestrator
	faults  *fault.Counter
	poses   *tracking.Exchange
	spatial *spatial.Spatializer
}

func newFixture(t *testing.T, env post.Environment, opts ...Option) fixture {
	t.Helper()

	bank, err := testBank()
	require.NoError(t, err)
	sp, err := spatial.NewSpatializer(bank, spatial.WithMaxVoices(4))
	require.NoError(t, err)
	pp, err := post.NewProcessor(testFormat, env)
	require.NoError(t, err)

	f := fixture{
		faults:  &fault.Counter{},
		poses:   tracking.NewExchange(&tracking.Pose{Orientation: geom.Identity()}),
		spatial: sp,
	}
	base := []Option{WithReporter(f.faults), WithMaxSources(4), WithCrossfadeBlocks(testFade)}
	f.o, err = New(testFormat, f.poses, sp, pp, append(base, opts...)...)
	require.NoError(t, err)

	return f
}

func render(f fixture, blocks int) (left, right []float64) {
	for range blocks {
		out := f.o.RenderBlock(context.Background())
		left = append(left, out.Left...)
		right = append(right, out.Right...)
	}
	return left, right
}

func TestNewValidatesWiring(t *testing.T) {
	bank, err := testBank()
	require.NoError(t, err)
	sp, err := spatial.NewSpatializer(bank, spatial.WithMaxVoices(2))
	require.NoError(t, err)
	pp, err := post.NewProcessor(testFormat, post.Dry)
	require.NoError(t, err)
	poses := tracking.NewExchange(nil)

	_, err = New(testFormat, nil, sp, pp)
	assert.ErrorIs(t, err, ErrInvalidOrchestrator)

	other := core.NewFormat(core.WithSampleRate(testRate), core.WithBlockSize(256))
	pp256, err := post.NewProcessor(other, post.Dry)
	require.NoError(t, err)
	_, err = New(other, poses, sp, pp256)
	assert.ErrorIs(t, err, ErrInvalidOrchestrator)

	_, err = New(testFormat, poses, sp, pp, WithMaxSources(3))
	assert.ErrorIs(t, err, ErrInvalidOrchestrator)

	_, err = New(testFormat, poses, sp, pp, WithCrossfadeBlocks(0))
	assert.ErrorIs(t, err, ErrInvalidOrchestrator)
}

func TestRenderBlockWithoutSourcesIsSilent(t *testing.T) {
	f := newFixture(t, post.Dry)

	out := f.o.RenderBlock(context.Background())
	require.Equal(t, testBlock, out.Len())
	testutil.RequireSilent(t, out.Left)
	testutil.RequireSilent(t, out.Right)
	assert.Equal(t, uint64(1), f.o.Stats().Blocks)
}

func TestNilPoseUsesOrigin(t *testing.T) {
	f := newFixture(t, post.Dry)
	f.poses.Publish(nil)

	require.NoError(t, f.o.Activate(NewSourceID(), Source{
		Provider: NewSliceProvider(testutil.DeterministicNoise(1, 0.5, 48000)),
		Position: geom.Vec{Y: 2},
	}))
	left, right := render(f, 20)
	testutil.RequireFinite(t, left)
	testutil.RequireFinite(t, right)
	assert.Greater(t, testutil.RMS(left), 0.0)
}

func TestSourceEndsIdleAndDrains(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	p := NewSliceProvider(testutil.DeterministicSine(440, testRate, 0.5, 1000))

	require.NoError(t, f.o.Activate(id, Source{Provider: p, Position: geom.Vec{Y: 2}}))

	f.o.RenderBlock(context.Background())
	assert.Equal(t, Playing, f.o.State(id))
	assert.Equal(t, 1, f.o.Stats().Active)

	// 1000 samples end inside the eighth block.
	left, _ := render(f, 7)
	assert.Equal(t, Idle, f.o.State(id))
	assert.Equal(t, 1, f.o.Stats().Active, "tail still draining")

	last, ok := f.faults.Last()
	require.True(t, ok)
	assert.Equal(t, fault.KindRuntimeAudio, last.Kind)
	assert.Equal(t, fault.ReasonEndOfStream, last.Reason)
	assert.Equal(t, id.String(), last.Source)

	tail, _ := render(f, 20)
	assert.Zero(t, f.o.Stats().Active)
	assert.Greater(t, testutil.RMS(append(left, tail...)), 0.01, "delayed audio is drained, not cut")
	assert.Equal(t, int64(1), f.faults.Count(fault.KindRuntimeAudio))
}

func TestLoopingSourceKeepsPlaying(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	p := NewSliceProvider(testutil.DeterministicSine(220, testRate, 0.5, 300))

	require.NoError(t, f.o.Activate(id, Source{Provider: p, Position: geom.Vec{Y: 1}, Loop: true}))
	left, right := render(f, 40)

	assert.Equal(t, Playing, f.o.State(id))
	assert.Zero(t, f.faults.Count(fault.KindRuntimeAudio))
	assert.Greater(t, testutil.RMS(left[len(left)/2:]), 0.01)
	testutil.RequireFinite(t, right)
}

func TestUnderrunRendersSilence(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	p, err := NewStreamProvider(4 * testBlock)
	require.NoError(t, err)

	require.NoError(t, f.o.Activate(id, Source{Provider: p, Position: geom.Vec{Y: 2}}))
	out := f.o.RenderBlock(context.Background())
	testutil.RequireSilent(t, out.Left)
	testutil.RequireSilent(t, out.Right)

	last, ok := f.faults.Last()
	require.True(t, ok)
	assert.Equal(t, fault.ReasonUnderrun, last.Reason)
	assert.Equal(t, Playing, f.o.State(id), "underrun does not stop the source")

	p.Write(testutil.DeterministicNoise(3, 0.5, 2*testBlock))
	render(f, 2)
	assert.Equal(t, int64(1), f.faults.Count(fault.KindRuntimeAudio))
	assert.Zero(t, p.Buffered())
}

func TestShortStreamIsRejected(t *testing.T) {
	f := newFixture(t, post.Dry)
	p, err := NewStreamProvider(testBlock - 1)
	require.NoError(t, err)

	err = f.o.Activate(NewSourceID(), Source{Provider: p, Position: geom.Vec{Y: 2}})
	assert.ErrorIs(t, err, ErrShortStream)
	assert.ErrorIs(t, f.o.Queue(NewSourceID(), p, false), ErrShortStream)
	assert.Empty(t, f.o.commands)

	ok, err := NewStreamProvider(testBlock)
	require.NoError(t, err)
	assert.NoError(t, f.o.Activate(NewSourceID(), Source{Provider: ok, Position: geom.Vec{Y: 2}}))
}

func TestVelocityMovesSourceBetweenMoves(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	require.NoError(t, f.o.Activate(id, Source{
		Provider: NewSliceProvider(testutil.DeterministicNoise(5, 0.5, 96000)),
		Position: geom.Vec{Y: 5},
		Velocity: geom.Vec{Y: 10},
	}))

	blocks := 375 // one second
	render(f, blocks)
	pos, ok := f.o.Position(id)
	require.True(t, ok)
	assert.InDelta(t, 15, pos.Y, 1e-9)
	assert.Zero(t, pos.X)

	require.NoError(t, f.o.Move(id, geom.Vec{X: 1}, geom.Vec{}))
	render(f, 10)
	pos, _ = f.o.Position(id)
	assert.Equal(t, geom.Vec{X: 1}, pos)

	_, ok = f.o.Position(NewSourceID())
	assert.False(t, ok)
}

func TestSwitchCrossfadesToSuccessor(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	a := NewSliceProvider(testutil.DeterministicSine(330, testRate, 0.5, 48000))
	b := NewSliceProvider(testutil.DeterministicSine(660, testRate, 0.5, 48000))

	require.NoError(t, f.o.Activate(id, Source{Provider: a, Position: geom.Vec{Y: 2}}))
	render(f, 2)

	require.NoError(t, f.o.Switch(id, b, false))
	render(f, 1)
	assert.Equal(t, Crossfading, f.o.State(id))
	assert.Equal(t, testBlock, b.pos)

	render(f, testFade-1)
	assert.Equal(t, Playing, f.o.State(id))
	assert.Equal(t, (2+testFade)*testBlock, a.pos)

	render(f, 1)
	assert.Equal(t, (2+testFade)*testBlock, a.pos, "outgoing asset is no longer pulled")
	assert.Equal(t, (testFade+1)*testBlock, b.pos)
}

func TestSwitchDuringCrossfadeIsDeferred(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	a := NewSliceProvider(testutil.Ones(48000))
	b := NewSliceProvider(testutil.Ones(48000))
	c := NewSliceProvider(testutil.Ones(48000))

	require.NoError(t, f.o.Activate(id, Source{Provider: a, Position: geom.Vec{Y: 2}}))
	require.NoError(t, f.o.Switch(id, b, false))
	render(f, 1)
	require.NoError(t, f.o.Switch(id, c, false))
	render(f, testFade-1)

	assert.Zero(t, c.pos)
	render(f, 1)
	assert.Equal(t, Crossfading, f.o.State(id))
	assert.Equal(t, testBlock, c.pos)
}

func TestQueuedSuccessorFollowsEnd(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	a := NewSliceProvider(testutil.DeterministicSine(330, testRate, 0.5, 2*testBlock))
	b := NewSliceProvider(testutil.DeterministicSine(440, testRate, 0.5, 48000))

	require.NoError(t, f.o.Activate(id, Source{Provider: a, Position: geom.Vec{Y: 2}}))
	require.NoError(t, f.o.Queue(id, b, false))

	render(f, 2)
	assert.Equal(t, Crossfading, f.o.State(id))
	assert.Zero(t, f.faults.Count(fault.KindRuntimeAudio), "asset ended on a block boundary")

	render(f, testFade)
	assert.Equal(t, Playing, f.o.State(id))
	assert.Equal(t, testFade*testBlock, b.pos)
}

func TestDeactivate(t *testing.T) {
	t.Run("fade", func(t *testing.T) {
		f := newFixture(t, post.Dry)
		id := NewSourceID()
		require.NoError(t, f.o.Activate(id, Source{Provider: NewSliceProvider(testutil.Ones(48000)), Position: geom.Vec{Y: 2}}))
		render(f, 1)

		require.NoError(t, f.o.Deactivate(id, true))
		render(f, 1)
		assert.Equal(t, Crossfading, f.o.State(id))

		render(f, testFade-1)
		assert.Equal(t, Idle, f.o.State(id))

		render(f, 20)
		assert.Zero(t, f.o.Stats().Active)
		assert.Zero(t, f.spatial.Active())
	})

	t.Run("immediate", func(t *testing.T) {
		f := newFixture(t, post.Dry)
		id := NewSourceID()
		require.NoError(t, f.o.Activate(id, Source{Provider: NewSliceProvider(testutil.Ones(48000)), Position: geom.Vec{Y: 2}}))
		render(f, 1)

		require.NoError(t, f.o.Deactivate(id, false))
		render(f, 1)
		assert.Equal(t, Idle, f.o.State(id))
		assert.Zero(t, f.o.Stats().Active)
		assert.Zero(t, f.spatial.Active())
	})
}

func TestReactivateDrainingSource(t *testing.T) {
	f := newFixture(t, post.Dry)
	id := NewSourceID()
	require.NoError(t, f.o.Activate(id, Source{Provider: NewSliceProvider(testutil.Ones(testBlock)), Position: geom.Vec{Y: 2}}))
	render(f, 1)
	require.Equal(t, Idle, f.o.State(id))

	next := NewSliceProvider(testutil.Ones(48000))
	require.NoError(t, f.o.Activate(id, Source{Provider: next, Position: geom.Vec{Y: 2}}))
	render(f, 1)
	assert.Equal(t, Playing, f.o.State(id))
	assert.Equal(t, testBlock, next.pos)
	assert.Equal(t, 1, f.o.Stats().Active)
}

func TestSourceLimitReportsFault(t *testing.T) {
	f := newFixture(t, post.Dry, WithMaxSources(1))

	for range 2 {
		require.NoError(t, f.o.Activate(NewSourceID(), Source{Provider: NewSliceProvider(testutil.Ones(48000))}))
	}
	render(f, 1)

	last, ok := f.faults.Last()
	require.True(t, ok)
	assert.Equal(t, fault.ReasonNoVoice, last.Reason)
	assert.Equal(t, 1, f.o.Stats().Active)
}

func TestCommandQueueIsBounded(t *testing.T) {
	f := newFixture(t, post.Dry, WithCommandQueue(1))
	src := Source{Provider: NewSliceProvider(testutil.Ones(16))}

	require.NoError(t, f.o.Activate(NewSourceID(), src))
	assert.ErrorIs(t, f.o.Activate(NewSourceID(), src), ErrQueueFull)
	assert.ErrorIs(t, f.o.Activate(NewSourceID(), Source{}), ErrNilProvider)
	assert.ErrorIs(t, f.o.Switch(NewSourceID(), nil, false), ErrNilProvider)

	render(f, 1)
	assert.NoError(t, f.o.Activate(NewSourceID(), src))
}

func TestEqualPowerCrossfade(t *testing.T) {
	f := newFixture(t, post.Dry)

	prevIn := 0.0
	for step := range testFade {
		f.o.fadeGains(step)
		for i := range testBlock {
			in, out := f.o.fadeIn[i], f.o.fadeOut[i]
			assert.InDelta(t, 1, in*in+out*out, 1e-12)
			assert.Greater(t, in, prevIn)
			prevIn = in
		}
	}
	assert.InDelta(t, 1, f.o.fadeIn[testBlock-1], 1e-12)
	assert.InDelta(t, 0, f.o.fadeOut[testBlock-1], 1e-12)
}

func TestSourceOnTheRightIsLouderOnTheRight(t *testing.T) {
	f := newFixture(t, post.Dry)
	require.NoError(t, f.o.Activate(NewSourceID(), Source{
		Provider: NewSliceProvider(testutil.DeterministicNoise(5, 0.5, 96000)),
		Position: geom.Vec{X: 2},
	}))

	left, right := render(f, 40)
	l := testutil.RMS(left[20*testBlock:])
	r := testutil.RMS(right[20*testBlock:])
	assert.Greater(t, 20*math.Log10(r/l), 3.0)
}

func TestListenerPoseRotatesScene(t *testing.T) {
	f := newFixture(t, post.Dry)
	require.NoError(t, f.o.Activate(NewSourceID(), Source{
		Provider: NewSliceProvider(testutil.DeterministicNoise(6, 0.5, 48000)),
		Position: geom.Vec{X: 2},
	}))

	// Facing the source puts it in front: the ear levels match.
	facing := geom.FromAxisAngle(geom.Vec{Z: 1}, -math.Pi/2)
	require.InDelta(t, 0, core.SignedDegrees(geom.HeadDirection(facing, geom.Vec{}, geom.Vec{X: 2}, 0.1).Azimuth), 1e-9)
	f.poses.Publish(&tracking.Pose{Seq: 2, Orientation: facing})

	left, right := render(f, 40)
	l := testutil.RMS(left[20*testBlock:])
	r := testutil.RMS(right[20*testBlock:])
	assert.InDelta(t, 0, 20*math.Log10(r/l), 0.5)
}

func TestResetClearsTails(t *testing.T) {
	f := newFixture(t, post.Room)
	id := NewSourceID()
	require.NoError(t, f.o.Activate(id, Source{
		Provider: NewSliceProvider(testutil.DeterministicNoise(9, 0.5, 48000)),
		Position: geom.Vec{Y: 2},
		Loop:     true,
	}))
	render(f, 20)

	require.NoError(t, f.o.Deactivate(id, false))
	out := f.o.RenderBlock(context.Background())
	assert.Greater(t, out.Peak(), 0.0, "reverb tail rings on")

	f.o.Reset()
	out = f.o.RenderBlock(context.Background())
	assert.Zero(t, out.Peak())
}

func TestRunDeliversBlocksOnClock(t *testing.T) {
	f := newFixture(t, post.Dry)
	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	var delivered atomic.Int64
	sink := SinkFunc(func(b core.Stereo) error {
		if b.Len() != testBlock {
			t.Errorf("block length = %d, want %d", b.Len(), testBlock)
		}
		delivered.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(clock.WithClock(context.Background(), m))
	done := make(chan error, 1)
	go func() { done <- f.o.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return m.Tickers() == 1 }, time.Second, time.Millisecond)
	for i := 1; i <= 3; i++ {
		m.Advance(testFormat.BlockDuration())
		want := int64(i)
		require.Eventually(t, func() bool { return delivered.Load() == want }, time.Second, time.Millisecond)
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, uint64(3), f.o.Stats().Blocks)
}

func TestRunStopsOnSinkError(t *testing.T) {
	f := newFixture(t, post.Dry)
	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	boom := assert.AnError

	ctx := clock.WithClock(context.Background(), m)
	done := make(chan error, 1)
	go func() { done <- f.o.Run(ctx, SinkFunc(func(core.Stereo) error { return boom })) }()

	require.Eventually(t, func() bool { return m.Tickers() == 1 }, time.Second, time.Millisecond)
	m.Advance(testFormat.BlockDuration())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after a sink error")
	}
}
