package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/algo-binaural/clock"
	"github.com/cwbudde/algo-binaural/dsp/geom"
)

// ErrEmptyPlaylist is returned for a playlist without playable assets.
var ErrEmptyPlaylist = errors.New("render: empty playlist")

// Asset is a named mono clip at the pipeline sample rate, placed at a world
// position.
type Asset struct {
	Name     string
	Samples  []float64
	Position geom.Vec
}

// Playlist rotates one source through a list of assets. Each asset loops
// until the next rotation, which crossfades to its successor and moves the
// source to the successor's position halfway through the fade.
type Playlist struct {
	id       SourceID
	assets   []Asset
	interval time.Duration
	index    int
	log      *slog.Logger
}

// NewPlaylist returns a playlist switching every interval.
func NewPlaylist(id SourceID, interval time.Duration, assets ...Asset) (*Playlist, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("render: playlist interval must be > 0: %v", interval)
	}
	if len(assets) == 0 {
		return nil, ErrEmptyPlaylist
	}
	for _, a := range assets {
		if len(a.Samples) == 0 {
			return nil, fmt.Errorf("%w: asset %q has no samples", ErrEmptyPlaylist, a.Name)
		}
	}

	return &Playlist{id: id, assets: assets, interval: interval, log: slog.Default()}, nil
}

// SetLogger replaces the logger.
func (p *Playlist) SetLogger(l *slog.Logger) {
	if l != nil {
		p.log = l
	}
}

// ID returns the source id the playlist drives.
func (p *Playlist) ID() SourceID { return p.id }

// Current returns the asset now playing.
func (p *Playlist) Current() Asset { return p.assets[p.index] }

// Start activates the first asset at its position.
func (p *Playlist) Start(o *Orchestrator) error {
	p.index = 0
	return o.Activate(p.id, Source{
		Provider: NewSliceProvider(p.assets[0].Samples),
		Position: p.assets[0].Position,
		Loop:     true,
	})
}

// Advance crossfades to the next asset, wrapping at the end.
func (p *Playlist) Advance(o *Orchestrator) error {
	next := (p.index + 1) % len(p.assets)
	a := p.assets[next]
	err := o.SwitchTo(p.id, Source{
		Provider: NewSliceProvider(a.Samples),
		Position: a.Position,
		Loop:     true,
	})
	if err != nil {
		return err
	}
	p.index = next
	p.log.Info("playlist advanced", "source", p.id, "asset", a.Name, "position", a.Position)
	return nil
}

// Run calls Advance every interval on the clock carried by ctx until ctx is
// done. A full command queue skips the rotation.
func (p *Playlist) Run(ctx context.Context, o *Orchestrator) error {
	t := clock.FromContext(ctx).NewTicker(p.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			if err := p.Advance(o); err != nil {
				p.log.Warn("playlist rotation skipped", "error", err)
			}
		}
	}
}
