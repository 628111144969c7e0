package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/algo-binaural/config"
)

const synthPrefix = "synth:"

// demoAssets stand in for five field recordings (forest, river, night,
// wind and leaves), each placed where that recording belongs in the scene.
var demoAssets = []struct {
	file     string
	position []float64
}{
	{"synth:noise:0.2", []float64{4, 4, 3}},
	{"synth:tone:220", []float64{3, -4, 0.2}},
	{"synth:chirp:300", []float64{-5, 2, 0.5}},
	{"synth:noise:0.05", []float64{0, 0, 12}},
	{"synth:tone:660", []float64{0, 1, 0}},
}

// demoEnvironment is the ambience the demo scene plays in.
const demoEnvironment = "forest"

// useDemo fills cfg with the demo playlist when it configures no sources.
// The demo environment applies only when no configuration file was read.
func useDemo(cfg *config.Config, fromFile bool) {
	if len(cfg.Sources) > 0 || cfg.Playlist != nil {
		return
	}
	pl := &config.PlaylistConfig{Interval: 5 * time.Second}
	for _, a := range demoAssets {
		pl.Files = append(pl.Files, a.file)
		pl.Positions = append(pl.Positions, a.position)
	}
	cfg.Playlist = pl
	if !fromFile {
		cfg.Post.Environment = demoEnvironment
	}
}

// synthesize renders a synth:<kind>:<param> asset of seconds length at
// rate. Kinds are tone (frequency), chirp (start frequency, one octave per
// second) and noise (amplitude).
func synthesize(name string, rate, seconds float64) ([]float64, error) {
	spec := strings.TrimPrefix(name, synthPrefix)
	kind, arg, _ := strings.Cut(spec, ":")

	param := 0.0
	if arg != "" {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		param = v
	}

	n := int(rate * seconds)
	out := make([]float64, n)
	switch kind {
	case "tone":
		if param <= 0 {
			param = 440
		}
		for i := range out {
			out[i] = 0.3 * math.Sin(2*math.Pi*param*float64(i)/rate)
		}
	case "chirp":
		if param <= 0 {
			param = 200
		}
		phase := 0.0
		for i := range out {
			f := param * math.Exp2(math.Mod(float64(i)/rate, 3))
			phase += 2 * math.Pi * f / rate
			out[i] = 0.3 * math.Sin(phase)
		}
	case "noise":
		if param <= 0 {
			param = 0.1
		}
		rng := rand.New(rand.NewPCG(uint64(len(name)), uint64(param*1e6)))
		for i := range out {
			out[i] = param * rng.NormFloat64()
		}
	default:
		return nil, fmt.Errorf("unknown synth kind %q", kind)
	}

	// 10 ms fades so looping does not click.
	fade := min(int(0.01*rate), n/2)
	for i := range fade {
		g := float64(i) / float64(fade)
		out[i] *= g
		out[n-1-i] *= g
	}
	return out, nil
}
