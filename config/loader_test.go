package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-binaural/config"
	"github.com/cwbudde/algo-binaural/dsp/distance"
	"github.com/cwbudde/algo-binaural/dsp/geom"
	"github.com/cwbudde/algo-binaural/dsp/hrir"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
	"github.com/cwbudde/algo-binaural/dsp/spatial"
	"github.com/cwbudde/algo-binaural/tracking"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	f := cfg.Format()
	assert.Equal(t, 48000.0, f.SampleRate)
	assert.Equal(t, 512, f.BlockSize)
	assert.Equal(t, hrir.DefaultGrid(), cfg.Grid())
	assert.Equal(t, 10*time.Millisecond, cfg.TickPeriod())

	tc, err := cfg.TrackingConfig()
	require.NoError(t, err)
	assert.Equal(t, tracking.DefaultConfig(), tc)
}

func TestLoadFromReaderEmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadFromReaderOverrides(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: debug
audio:
  sample_rate: 44100
  block_size: 256
hrir:
  scheme: nearest
  length: 128
distance:
  model: inverse_offset
  doppler_headroom: 50ms
tracking:
  motion_model: ca
  initial_position: [1, 2, 1.7]
post:
  environment: hall
  output_target: loudspeakers
  eq_gains: [0, 1, 2, 3, 4, 5, 4, 3, 2, 1]
  room:
    rt60: 1.5s
    damp: 0.5
    pre_delay: 15ms
    wet: 0.3
    dry: 1
sources:
  - name: birds
    file: birds.wav
    position: [0, 2, 1.6]
    loop: true
playlist:
  interval: 5s
  position: [-1, 1, 1.6]
  files: [a.wav, b.wav]
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, config.LogDebug, cfg.LogLevel)
	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, 8, cfg.Audio.CrossfadeBlocks, "unset fields keep defaults")

	scheme, err := cfg.Scheme()
	require.NoError(t, err)
	assert.Equal(t, hrir.Nearest, scheme)

	att, err := cfg.Attenuation()
	require.NoError(t, err)
	assert.Equal(t, distance.InverseOffset, att.Model)
	assert.Equal(t, 50*time.Millisecond, cfg.Distance.DopplerHeadroom)

	tc, err := cfg.TrackingConfig()
	require.NoError(t, err)
	assert.Equal(t, tracking.ConstantAcceleration, tc.Model)
	assert.Equal(t, geom.Vec{X: 1, Y: 2, Z: 1.7}, tc.InitialPosition)

	env, err := cfg.Environment()
	require.NoError(t, err)
	assert.Equal(t, post.Hall, env)
	target, err := cfg.Target()
	require.NoError(t, err)
	assert.Equal(t, post.Loudspeakers, target)

	variant, err := cfg.ReverbVariant()
	require.NoError(t, err)
	assert.Equal(t, reverb.Convolution, variant)
	assert.Equal(t, 1500*time.Millisecond, cfg.Room().RT60)

	require.Len(t, cfg.Sources, 1)
	assert.True(t, cfg.Sources[0].Loop)
	require.NotNil(t, cfg.Playlist)
	assert.Equal(t, 5*time.Second, cfg.Playlist.Interval)
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  samplerate: 48000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "samplerate")
}

func TestValidateJoinsAllFailures(t *testing.T) {
	t.Parallel()
	yaml := `
log_level: loud
audio:
  sample_rate: 1000
  block_size: 0
hrir:
  scheme: cubic
  fft_size: 300
distance:
  model: linear
tracking:
  rate_hz: 0
  initial_position: [0, 0]
post:
  environment: cave
  output_target: radio
  eq_gains: [1, 2]
  reverb: plate
sources:
  - name: nofile
    position: [0, 0, 0]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.GreaterOrEqual(t, len(joined.Unwrap()), 12)

	for _, want := range []string{
		"log_level", "audio.sample_rate", "audio.block_size", "hrir.scheme", "hrir.fft_size",
		"distance.model", "tracking.initial_position", "post.environment", "post.output_target",
		"post.eq_gains", "post.reverb", "sources[0].file",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateConvolutionNeedsPowerOfTwoBlock(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Audio.BlockSize = 480
	cfg.Post.Environment = "hall"

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "power-of-two")

	cfg.Post.Reverb = "fdn"
	assert.NoError(t, cfg.Validate())
}

func TestValidateSourceLimit(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Audio.MaxSources = 1
	cfg.Sources = []config.SourceConfig{{File: "a.wav", Position: []float64{0, 1, 0}}}
	require.NoError(t, cfg.Validate())

	cfg.Playlist = &config.PlaylistConfig{Interval: time.Second, Position: []float64{0, 1, 0}, Files: []string{"b.wav"}}
	assert.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
}

func TestValidateCrosstalkLayout(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	l := cfg.Layout()
	assert.Equal(t, cfg.HRIR.HeadRadius, l.HeadRadius)
	assert.Equal(t, cfg.Distance.SpeedOfSound, l.SpeedOfSound)

	cfg.Post.Crosstalk.Attenuation = 1
	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.ErrorIs(t, err, spatial.ErrInvalidLayout)
	assert.Contains(t, err.Error(), "post.crosstalk")
}

func TestValidatePlaylistPositions(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Playlist = &config.PlaylistConfig{
		Interval:  time.Second,
		Positions: [][]float64{{4, 4, 3}, {3, -4, 0.2}},
		Files:     []string{"a.wav", "b.wav"},
	}
	require.NoError(t, cfg.Validate(), "positions replace the shared position")
	assert.Equal(t, []float64{3, -4, 0.2}, cfg.Playlist.PositionOf(1))

	cfg.Playlist.Positions = cfg.Playlist.Positions[:1]
	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "1 entries for 2 files")

	cfg.Playlist.Positions = [][]float64{{4, 4, 3}, {1, 2}}
	err = cfg.Validate()
	require.ErrorIs(t, err, config.ErrInvalid)
	assert.Contains(t, err.Error(), "positions[1]")

	cfg.Playlist.Positions = nil
	cfg.Playlist.Position = []float64{0, 1, 0}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []float64{0, 1, 0}, cfg.Playlist.PositionOf(1))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "binaural.yaml")
	require.NoError(t, os.WriteFile(path, []byte("post:\n  environment: forest\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "forest", cfg.Post.Environment)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	assert.True(t, config.LogWarn.IsValid())
	assert.False(t, config.LogLevel("verbose").IsValid())
	assert.Equal(t, "DEBUG", config.LogDebug.Level().String())
	assert.Equal(t, "INFO", config.LogLevel("").Level().String())
}
