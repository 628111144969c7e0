package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/dither"
)

func TestWAVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := newWAVSink(path, 48000, 4)
	require.NoError(t, err)

	block := core.NewStereo(4)
	copy(block.Left, []float64{0.5, -0.5, 0.25, 2})
	copy(block.Right, []float64{0.5, -0.5, 0.25, -2})
	require.NoError(t, sink.WriteBlock(block))
	require.NoError(t, sink.WriteBlock(block))
	require.NoError(t, sink.Close())
	assert.Equal(t, 4, sink.Clipped())
	left, right := sink.meter.Result()
	assert.Equal(t, 2, left.Clipped)
	assert.Equal(t, 2, right.Clipped)

	mono, err := loadAsset(path, 48000)
	require.NoError(t, err)
	require.Len(t, mono, 8)
	assert.InDelta(t, 0.5, mono[0], 1e-4)
	assert.InDelta(t, -0.5, mono[1], 1e-4)
	assert.InDelta(t, 0.25, mono[2], 1e-4)
	// Full-scale clips of opposite sign cancel in the mono mix.
	assert.InDelta(t, 0, mono[3], 1e-4)
}

func TestWAVSinkBitDepthAndLoudness(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out24.wav")
	sink, err := newWAVSink(path, 48000, 480, dither.WithBitDepth(24), dither.WithType(dither.None))
	require.NoError(t, err)

	block := core.NewStereo(480)
	for n := range 100 {
		for i := range block.Left {
			k := float64(n*480 + i)
			block.Left[i] = 0.5 * math.Sin(2*math.Pi*1000*k/48000)
			block.Right[i] = block.Left[i]
		}
		require.NoError(t, sink.WriteBlock(block))
	}
	require.NoError(t, sink.Close())
	assert.Zero(t, sink.Clipped())
	// A -6 dBFS sine in both channels sits near -6 LUFS.
	assert.InDelta(t, -6.0, sink.loudness.Integrated(), 0.3)

	mono, err := loadAsset(path, 48000)
	require.NoError(t, err)
	require.Len(t, mono, 48000)
	assert.InDelta(t, 0.5*math.Sin(2*math.Pi*1000*100/48000.0), mono[100], 1e-6)
}

func TestWAVSinkRejectsBitDepth(t *testing.T) {
	_, err := newWAVSink(filepath.Join(t.TempDir(), "x.wav"), 48000, 16, dither.WithBitDepth(4))
	require.ErrorIs(t, err, dither.ErrInvalidBitDepth)
}

func TestLoadAssetResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	sink, err := newWAVSink(path, 24000, 240)
	require.NoError(t, err)

	block := core.NewStereo(240)
	for i := range block.Left {
		block.Left[i] = 0.4 * math.Sin(2*math.Pi*500*float64(i)/24000)
		block.Right[i] = block.Left[i]
	}
	for range 10 {
		require.NoError(t, sink.WriteBlock(block))
	}
	require.NoError(t, sink.Close())

	mono, err := loadAsset(path, 48000)
	require.NoError(t, err)
	assert.InDelta(t, 4800, len(mono), 480)
}

func TestLoadAssetMissingFile(t *testing.T) {
	_, err := loadAsset(filepath.Join(t.TempDir(), "nope.wav"), 48000)
	assert.Error(t, err)
}

func TestLoadAssetUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.flac")
	require.NoError(t, os.WriteFile(path, []byte("fLaC"), 0o600))
	_, err := loadAsset(path, 48000)
	assert.ErrorIs(t, err, errUnsupportedFormat)
}

func TestLoadAssetRejectsGarbage(t *testing.T) {
	for _, name := range []string{"bad.wav", "bad.mp3", "bad.ogg"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.WriteFile(path, []byte("not audio at all"), 0o600))
			_, err := loadAsset(path, 48000)
			assert.Error(t, err)
		})
	}
}

func TestPCMMono(t *testing.T) {
	p := pcm{data: []float64{1, 0, 0.5, 0.5, -1, 1}, channels: 2, rate: 8000}
	mono, err := p.mono()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5, 0}, mono)

	_, err = pcm{channels: 1}.mono()
	assert.Error(t, err)
	_, err = pcm{data: []float64{1}}.mono()
	assert.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	for _, a := range demoAssets {
		t.Run(a.file, func(t *testing.T) {
			x, err := synthesize(a.file, 8000, 1)
			require.NoError(t, err)
			require.Len(t, x, 8000)
			assert.Zero(t, x[0])
			var e float64
			for _, v := range x {
				require.False(t, math.IsNaN(v))
				e += v * v
			}
			assert.Positive(t, e)
		})
	}

	_, err := synthesize("synth:square:100", 8000, 1)
	assert.Error(t, err)
	_, err = synthesize("synth:tone:abc", 8000, 1)
	assert.Error(t, err)
}

func TestUseDemo(t *testing.T) {
	cfg := config.Default()
	useDemo(cfg, false)
	require.NotNil(t, cfg.Playlist)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "forest", cfg.Post.Environment)
	require.Len(t, cfg.Playlist.Files, len(demoAssets))
	assert.Equal(t, []float64{4, 4, 3}, cfg.Playlist.PositionOf(0))
	assert.Equal(t, []float64{0, 1, 0}, cfg.Playlist.PositionOf(4))

	fromFile := config.Default()
	useDemo(fromFile, true)
	require.NotNil(t, fromFile.Playlist)
	assert.Equal(t, config.Default().Post.Environment, fromFile.Post.Environment, "a configured environment is kept")

	withSources := config.Default()
	withSources.Sources = []config.SourceConfig{{File: "a.wav", Position: []float64{0, 1, 0}}}
	useDemo(withSources, false)
	assert.Nil(t, withSources.Playlist)
	assert.Equal(t, config.Default().Post.Environment, withSources.Post.Environment)
}

func TestLoaderDispatch(t *testing.T) {
	load := loader(8000)
	x, err := load("synth:tone:100")
	require.NoError(t, err)
	assert.Len(t, x, 5*8000)

	_, err = load(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
