package render

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/internal/testutil"
)

func testAssets() []Asset {
	return []Asset{
		{Name: "birds", Samples: testutil.DeterministicSine(880, testRate, 0.3, 4800), Position: geom.Vec{X: 4, Y: 4, Z: 3}},
		{Name: "stream", Samples: testutil.DeterministicNoise(11, 0.2, 4800), Position: geom.Vec{X: 3, Y: -4, Z: 0.2}},
		{Name: "wind", Samples: testutil.DeterministicNoise(12, 0.1, 4800), Position: geom.Vec{Z: 12}},
	}
}

func TestNewPlaylistValidates(t *testing.T) {
	_, err := NewPlaylist(NewSourceID(), 0, testAssets()...)
	assert.Error(t, err)

	_, err = NewPlaylist(NewSourceID(), time.Second)
	assert.ErrorIs(t, err, ErrEmptyPlaylist)

	_, err = NewPlaylist(NewSourceID(), time.Second, Asset{Name: "empty"})
	assert.ErrorIs(t, err, ErrEmptyPlaylist)
}

func TestPlaylistAdvanceWraps(t *testing.T) {
	f := newFixture(t, post.Dry)
	p, err := NewPlaylist(NewSourceID(), 5*time.Second, testAssets()...)
	require.NoError(t, err)

	require.NoError(t, p.Start(f.o))
	render(f, 1)
	assert.Equal(t, Playing, f.o.State(p.ID()))
	assert.Equal(t, "birds", p.Current().Name)

	for _, want := range []string{"stream", "wind", "birds"} {
		require.NoError(t, p.Advance(f.o))
		render(f, 1)
		assert.Equal(t, Crossfading, f.o.State(p.ID()))
		assert.Equal(t, want, p.Current().Name)
		render(f, testFade)
		assert.Equal(t, Playing, f.o.State(p.ID()))
	}
}

func TestPlaylistMovesSourceWithEachAsset(t *testing.T) {
	f := newFixture(t, post.Dry)
	assets := testAssets()
	p, err := NewPlaylist(NewSourceID(), 5*time.Second, assets...)
	require.NoError(t, err)

	require.NoError(t, p.Start(f.o))
	render(f, 1)
	pos, ok := f.o.Position(p.ID())
	require.True(t, ok)
	assert.Equal(t, assets[0].Position, pos)

	for _, next := range []int{1, 2, 0} {
		prev := pos
		require.NoError(t, p.Advance(f.o))
		render(f, testFade/2-1)
		pos, _ = f.o.Position(p.ID())
		assert.Equal(t, prev, pos, "outgoing asset keeps its place in the first half of the fade")

		render(f, 1)
		pos, _ = f.o.Position(p.ID())
		assert.Equal(t, assets[next].Position, pos, "%s position", assets[next].Name)

		render(f, testFade)
		assert.Equal(t, Playing, f.o.State(p.ID()))
		pos, _ = f.o.Position(p.ID())
		assert.Equal(t, assets[next].Position, pos)
	}
}

func TestPlaylistRunRotatesOnClock(t *testing.T) {
	f := newFixture(t, post.Dry)
	p, err := NewPlaylist(NewSourceID(), 5*time.Second, testAssets()...)
	require.NoError(t, err)
	require.NoError(t, p.Start(f.o))
	render(f, 1)

	m := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(clock.WithClock(context.Background(), m))
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, f.o) }()

	require.Eventually(t, func() bool { return m.Tickers() == 1 }, time.Second, time.Millisecond)
	m.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return len(f.o.commands) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	render(f, 1)
	assert.Equal(t, Crossfading, f.o.State(p.ID()))
	assert.Equal(t, "stream", p.Current().Name)
}
