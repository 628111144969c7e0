package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/dsp/eq"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Load reads the YAML configuration file at path on top of [Default] and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of [Default] and validates the
// result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that c is coherent. It returns a joined error listing
// every failure, each wrapping [ErrInvalid].
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	wrap := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrInvalid, field, err))
		}
	}
	positive := func(field string, v float64) {
		if !(v > 0) || math.IsInf(v, 0) {
			fail("%s must be > 0, got %v", field, v)
		}
	}

	if c.LogLevel != "" && !c.LogLevel.IsValid() {
		fail("log_level %q is invalid; valid values: debug, info, warn, error", c.LogLevel)
	}

	// Audio
	a := c.Audio
	if a.SampleRate < 8000 || a.SampleRate > 384000 {
		fail("audio.sample_rate %v is out of range [8000, 384000]", a.SampleRate)
	}
	if a.BlockSize < 16 || a.BlockSize > 8192 {
		fail("audio.block_size %d is out of range [16, 8192]", a.BlockSize)
	}
	if a.CrossfadeBlocks < 1 {
		fail("audio.crossfade_blocks must be >= 1, got %d", a.CrossfadeBlocks)
	}
	if a.MaxSources < 1 || a.MaxSources > 256 {
		fail("audio.max_sources %d is out of range [1, 256]", a.MaxSources)
	}
	if a.CommandQueue < 1 {
		fail("audio.command_queue must be >= 1, got %d", a.CommandQueue)
	}

	// HRIR
	h := c.HRIR
	if h.Length < 2 {
		fail("hrir.length must be >= 2, got %d", h.Length)
	}
	if h.FFTSize != 0 && (!conv.IsPowerOfTwo(h.FFTSize) || h.FFTSize < a.BlockSize+h.Length-1) {
		fail("hrir.fft_size %d must be 0 or a power of two >= %d", h.FFTSize, a.BlockSize+h.Length-1)
	}
	wrap("hrir grid", c.Grid().Validate())
	_, err := c.Scheme()
	wrap("hrir.scheme", err)
	if h.HeadRadius <= 0 || h.HeadRadius > 0.2 {
		fail("hrir.head_radius %v is out of range (0, 0.2]", h.HeadRadius)
	}

	// Distance
	d := c.Distance
	att, err := c.Attenuation()
	wrap("distance.model", err)
	if err == nil {
		wrap("distance", att.Validate())
	}
	positive("distance.min_distance", d.MinDistance)
	if d.SpeedOfSound < 1 {
		fail("distance.speed_of_sound must be >= 1, got %v", d.SpeedOfSound)
	}
	if d.DopplerHeadroom <= 0 || d.DopplerHeadroom > time.Second {
		fail("distance.doppler_headroom %v is out of range (0, 1s]", d.DopplerHeadroom)
	}
	if !(d.MaxRadialFraction > 0) || d.MaxRadialFraction > 0.95 {
		fail("distance.max_radial_fraction %v is out of range (0, 0.95]", d.MaxRadialFraction)
	}

	// Tracking
	if len(c.Tracking.InitialPosition) != 3 {
		fail("tracking.initial_position needs 3 values, got %d", len(c.Tracking.InitialPosition))
	} else {
		tc, err := c.TrackingConfig()
		wrap("tracking", err)
		if err == nil {
			wrap("tracking", tc.Validate())
		}
	}

	// Post
	p := c.Post
	_, err = c.Environment()
	wrap("post.environment", err)
	_, err = c.Target()
	wrap("post.output_target", err)
	if p.EQGains != nil {
		if len(p.EQGains) != eq.Bands {
			fail("post.eq_gains needs %d values, got %d", eq.Bands, len(p.EQGains))
		}
		for i, g := range p.EQGains {
			if math.IsNaN(g) || math.Abs(g) > eq.MaxGainDB {
				fail("post.eq_gains[%d] = %v is out of range [-%v, %v] dB", i, g, eq.MaxGainDB, eq.MaxGainDB)
			}
		}
	}
	variant, err := c.ReverbVariant()
	wrap("post.reverb", err)
	if err == nil && variant == reverb.Convolution && !conv.IsPowerOfTwo(a.BlockSize) {
		fail("convolution reverb needs a power-of-two audio.block_size, got %d", a.BlockSize)
	}
	if p.Room != nil {
		wrap("post.room", c.Room().Validate())
	}
	wrap("post.crosstalk", c.Layout().Validate())

	// Sources
	for i, s := range c.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if s.File == "" {
			fail("%s.file is required", prefix)
		}
		if _, err := Vec(s.Position); err != nil {
			fail("%s.position: %v", prefix, err)
		}
		if s.Velocity != nil {
			if _, err := Vec(s.Velocity); err != nil {
				fail("%s.velocity: %v", prefix, err)
			}
		}
	}
	if pl := c.Playlist; pl != nil {
		if pl.Interval <= 0 {
			fail("playlist.interval must be > 0, got %v", pl.Interval)
		}
		if len(pl.Files) == 0 {
			fail("playlist.files is empty")
		}
		if len(pl.Positions) == 0 {
			if _, err := Vec(pl.Position); err != nil {
				fail("playlist.position: %v", err)
			}
		} else if len(pl.Positions) != len(pl.Files) {
			fail("playlist.positions has %d entries for %d files", len(pl.Positions), len(pl.Files))
		}
		for i, pos := range pl.Positions {
			if _, err := Vec(pos); err != nil {
				fail("playlist.positions[%d]: %v", i, err)
			}
		}
	}
	total := len(c.Sources)
	if c.Playlist != nil {
		total++
	}
	if total > a.MaxSources {
		fail("%d configured sources exceed audio.max_sources %d", total, a.MaxSources)
	}

	return errors.Join(errs...)
}
