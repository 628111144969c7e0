// Package config provides the YAML configuration schema and loader for the
// binaural renderer. Every setting has a default; a file only needs to name
// what it changes.
package config

import (
	"log/slog"
	"time"

	"github.com/cwbudde/algo-binaural/tracking"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown levels map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration. Load it with [Load] or
// [LoadFromReader], or start from [Default].
type Config struct {
	LogLevel LogLevel       `yaml:"log_level"`
	Audio    AudioConfig    `yaml:"audio"`
	HRIR     HRIRConfig     `yaml:"hrir"`
	Distance DistanceConfig `yaml:"distance"`
	Tracking TrackingConfig `yaml:"tracking"`
	Post     PostConfig     `yaml:"post"`

	// Sources are static sources started with the renderer.
	Sources []SourceConfig `yaml:"sources"`
	// Playlist optionally rotates one source through a list of files.
	Playlist *PlaylistConfig `yaml:"playlist"`
}

// AudioConfig fixes the block format and the source pool.
type AudioConfig struct {
	SampleRate      float64 `yaml:"sample_rate"`
	BlockSize       int     `yaml:"block_size"`
	CrossfadeBlocks int     `yaml:"crossfade_blocks"`
	MaxSources      int     `yaml:"max_sources"`
	CommandQueue    int     `yaml:"command_queue"`
}

// HRIRConfig describes the synthesized HRIR bank and the spatializer.
type HRIRConfig struct {
	Length        int     `yaml:"length"`
	FFTSize       int     `yaml:"fft_size"` // 0 derives the smallest valid size
	Azimuths      int     `yaml:"azimuths"`
	Elevations    int     `yaml:"elevations"`
	ElevationMin  float64 `yaml:"elevation_min"`
	ElevationStep float64 `yaml:"elevation_step"`
	Scheme        string  `yaml:"scheme"`
	HeadRadius    float64 `yaml:"head_radius"`
	ITD           bool    `yaml:"itd"`
}

// DistanceConfig covers attenuation and Doppler.
type DistanceConfig struct {
	Model             string        `yaml:"model"`
	Reference         float64       `yaml:"reference"`
	Near              float64       `yaml:"near"`
	Far               float64       `yaml:"far"`
	MinGain           float64       `yaml:"min_gain"`
	MaxGain           float64       `yaml:"max_gain"`
	MinDistance       float64       `yaml:"min_distance"`
	SpeedOfSound      float64       `yaml:"speed_of_sound"`
	Doppler           bool          `yaml:"doppler"`
	DopplerHeadroom   time.Duration `yaml:"doppler_headroom"`
	MaxRadialFraction float64       `yaml:"max_radial_fraction"`
}

// TrackingConfig tunes the sensor fusion estimator.
type TrackingConfig struct {
	RateHz                      float64   `yaml:"rate_hz"`
	MotionModel                 string    `yaml:"motion_model"`
	InitialPosition             []float64 `yaml:"initial_position"`
	InitialCovariance           float64   `yaml:"initial_covariance"`
	PositionProcessNoise        float64   `yaml:"position_process_noise"`
	OrientationProcessNoise     float64   `yaml:"orientation_process_noise"`
	AngularRateProcessNoise     float64   `yaml:"angular_rate_process_noise"`
	PositionMeasurementNoise    float64   `yaml:"position_measurement_noise"`
	OrientationMeasurementNoise float64   `yaml:"orientation_measurement_noise"`
	AngularRateMeasurementNoise float64   `yaml:"angular_rate_measurement_noise"`
	MaxCovarianceTrace          float64   `yaml:"max_covariance_trace"`
	DivergenceInflation         float64   `yaml:"divergence_inflation"`
	StaleAfter                  int       `yaml:"stale_after"`
}

// PostConfig selects the environment and the playback target.
type PostConfig struct {
	Environment  string `yaml:"environment"`
	OutputTarget string `yaml:"output_target"`

	// EQGains overrides the environment's ten octave band gains in dB.
	EQGains []float64 `yaml:"eq_gains"`
	// Reverb overrides the environment's reverb variant when set.
	Reverb string `yaml:"reverb"`
	// Room overrides the environment's reverb parameters when set.
	Room *RoomConfig `yaml:"room"`

	Crosstalk CrosstalkConfig `yaml:"crosstalk"`
}

// RoomConfig holds reverb parameters.
type RoomConfig struct {
	RT60     time.Duration `yaml:"rt60"`
	Damp     float64       `yaml:"damp"`
	PreDelay time.Duration `yaml:"pre_delay"`
	Wet      float64       `yaml:"wet"`
	Dry      float64       `yaml:"dry"`
}

// CrosstalkConfig describes the loudspeaker layout for crosstalk
// cancellation. It is ignored for headphones.
type CrosstalkConfig struct {
	ListenerDistance float64 `yaml:"listener_distance"`
	SpeakerDistance  float64 `yaml:"speaker_distance"`
	Attenuation      float64 `yaml:"attenuation"`
	Stages           int     `yaml:"stages"`
}

// SourceConfig is a source started with the renderer.
type SourceConfig struct {
	Name     string    `yaml:"name"`
	File     string    `yaml:"file"`
	Position []float64 `yaml:"position"`
	Velocity []float64 `yaml:"velocity"`
	Loop     bool      `yaml:"loop"`
}

// PlaylistConfig rotates one source through Files every Interval. Each
// file plays at the matching entry of Positions; without Positions every
// file plays at Position.
type PlaylistConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Position  []float64     `yaml:"position"`
	Positions [][]float64   `yaml:"positions"`
	Files     []string      `yaml:"files"`
}

// PositionOf returns the position of file i.
func (p PlaylistConfig) PositionOf(i int) []float64 {
	if i < len(p.Positions) {
		return p.Positions[i]
	}
	return p.Position
}

// Default returns the built-in configuration: 48 kHz, 512-sample blocks,
// a 24 x 12 bilinear HRIR bank, 100 Hz constant-velocity tracking, dry
// headphone output.
func Default() *Config {
	tc := tracking.DefaultConfig()
	return &Config{
		LogLevel: LogInfo,
		Audio: AudioConfig{
			SampleRate:      48000,
			BlockSize:       512,
			CrossfadeBlocks: 8,
			MaxSources:      8,
			CommandQueue:    64,
		},
		HRIR: HRIRConfig{
			Length:        256,
			Azimuths:      24,
			Elevations:    12,
			ElevationMin:  -90,
			ElevationStep: 15,
			Scheme:        "bilinear",
			HeadRadius:    0.0875,
			ITD:           true,
		},
		Distance: DistanceConfig{
			Model:             "inverse",
			Reference:         1,
			Near:              0.25,
			Far:               100,
			MinGain:           0,
			MaxGain:           4,
			MinDistance:       0.1,
			SpeedOfSound:      343,
			Doppler:           true,
			DopplerHeadroom:   20 * time.Millisecond,
			MaxRadialFraction: 0.5,
		},
		Tracking: TrackingConfig{
			RateHz:                      tc.Rate,
			MotionModel:                 tc.Model.String(),
			InitialPosition:             []float64{tc.InitialPosition.X, tc.InitialPosition.Y, tc.InitialPosition.Z},
			InitialCovariance:           tc.InitialCovariance,
			PositionProcessNoise:        tc.PositionProcessNoise,
			OrientationProcessNoise:     tc.OrientationProcessNoise,
			AngularRateProcessNoise:     tc.AngularRateProcessNoise,
			PositionMeasurementNoise:    tc.PositionMeasurementNoise,
			OrientationMeasurementNoise: tc.OrientationMeasurementNoise,
			AngularRateMeasurementNoise: tc.AngularRateMeasurementNoise,
			MaxCovarianceTrace:          tc.MaxCovarianceTrace,
			DivergenceInflation:         tc.DivergenceInflation,
			StaleAfter:                  tc.StaleAfter,
		},
		Post: PostConfig{
			Environment:  "dry",
			OutputTarget: "headphones",
			Crosstalk: CrosstalkConfig{
				ListenerDistance: 1,
				SpeakerDistance:  2,
				Attenuation:      0.65,
				Stages:           2,
			},
		},
	}
}
