// Command hririnfo prints interaural properties of the synthesized HRIR
// bank and the decay of the environment reverbs.
//
// Usage:
//
//	hririnfo [flags] [azimuth[,elevation] ...]
//
// Without arguments it prints every twelfth grid azimuth on the horizontal
// plane.
//
// Examples:
//
//	hririnfo
//	hririnfo 0 45 90,30 270,-15
//	hririnfo -scheme nearest -length 512 90
//	hririnfo -rooms
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/algo-binaural/dsp/hrir"
	"github.com/cwbudde/algo-binaural/dsp/post"
	"github.com/cwbudde/algo-binaural/dsp/reverb"
	"github.com/cwbudde/algo-binaural/measure/binaural"
)

type direction struct {
	azimuth, elevation float64
}

func main() {
	rate := flag.Float64("rate", 48000, "sample rate in Hz")
	length := flag.Int("length", 256, "impulse response length in samples")
	azimuths := flag.Int("azimuths", 24, "grid azimuth count")
	elevations := flag.Int("elevations", 12, "grid elevation count")
	schemeName := flag.String("scheme", "bilinear", "direction lookup: bilinear or nearest")
	radius := flag.Float64("radius", 0.0875, "head radius in metres")
	rooms := flag.Bool("rooms", false, "print measured decay of the environment reverbs instead")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hririnfo [flags] [azimuth[,elevation] ...]\n\n")
		fmt.Fprintf(os.Stderr, "Prints interaural level, correlation and model delay of HRIR directions.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hririnfo 0 90 180 270\n")
		fmt.Fprintf(os.Stderr, "  hririnfo -scheme nearest 7.5,10\n")
		fmt.Fprintf(os.Stderr, "  hririnfo -rooms\n")
	}
	flag.Parse()

	if *rooms {
		printRooms(*rate)
		return
	}

	scheme, err := hrir.ParseScheme(*schemeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	grid := hrir.DefaultGrid()
	grid.Azimuths = *azimuths
	grid.Elevations = *elevations
	head := hrir.DefaultHead()
	head.Radius = *radius

	// The block size only sizes the FFT; any value works for inspection.
	bank, err := hrir.NewBank(*rate, *length, hrir.WithLength(*length), hrir.WithGrid(grid), hrir.WithSource(head))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	dirs, err := parseDirections(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if len(dirs) == 0 {
		step := bank.Grid().AzimuthStep()
		for a := 0.0; a < 360; a += 2 * step {
			dirs = append(dirs, direction{azimuth: a})
		}
	}

	printDirections(bank, scheme, head, dirs)
}

func parseDirections(args []string) ([]direction, error) {
	var dirs []direction
	for _, arg := range args {
		azStr, elStr, hasEl := strings.Cut(arg, ",")
		az, err := strconv.ParseFloat(strings.TrimSpace(azStr), 64)
		if err != nil {
			return nil, fmt.Errorf("azimuth %q: %w", azStr, err)
		}
		d := direction{azimuth: az}
		if hasEl {
			if d.elevation, err = strconv.ParseFloat(strings.TrimSpace(elStr), 64); err != nil {
				return nil, fmt.Errorf("elevation %q: %w", elStr, err)
			}
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

func printDirections(bank *hrir.Bank, scheme hrir.Scheme, head hrir.SphericalHead, dirs []direction) {
	an := binaural.NewAnalyzer(bank.SampleRate())
	left := make([]float64, bank.Length())
	right := make([]float64, bank.Length())

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "Azimuth\tElevation\tCells\tILD [dB]\tILD 4-8k [dB]\tIACC\tModel ITD [us]\n"); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output header: %v\n", err)
		return
	}
	if _, err := fmt.Fprintf(tw, "-------\t---------\t-----\t--------\t-------------\t----\t--------------\n"); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output header: %v\n", err)
		return
	}

	for _, d := range dirs {
		w := bank.Grid().Weights(d.azimuth, d.elevation, scheme)
		bank.BlendImpulse(left, right, w)

		cues, err := an.Analyze(left, right)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %.1f,%.1f: %v\n", d.azimuth, d.elevation, err)
			continue
		}
		band, err := an.BandILD(left, right, 4000, 8000)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "warning: %.1f,%.1f: %v\n", d.azimuth, d.elevation, err)
			continue
		}
		itd := hrir.WoodworthITD(d.azimuth, d.elevation, head.Radius, head.SpeedOfSound)

		if _, err := fmt.Fprintf(tw, "%.1f\t%.1f\t%d\t%.2f\t%.2f\t%.3f\t%.1f\n",
			d.azimuth, d.elevation, w.N, cues.ILD, band, cues.IACC, itd*1e6,
		); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output row: %v\n", err)
			return
		}
	}
	if err := tw.Flush(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
}

func printRooms(rate float64) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "Environment\tReverb\tRT60 set\tRT60 measured\n"); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output header: %v\n", err)
		return
	}

	for _, env := range []post.Environment{post.Dry, post.Forest, post.Room, post.Hall} {
		p := env.Preset()
		measured := "-"
		if p.Reverb != reverb.None {
			ir := reverb.SyntheticIR(rate, p.Room, 1)
			if rt, err := binaural.DecayTime(ir, rate); err == nil {
				measured = rt.Round(time.Millisecond).String()
			}
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", env, p.Reverb, p.Room.RT60, measured); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "error: failed to write output row: %v\n", err)
			return
		}
	}
	if err := tw.Flush(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: failed to flush output: %v\n", err)
	}
}
