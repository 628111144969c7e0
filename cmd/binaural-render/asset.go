package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	resampler "github.com/tphakala/go-audio-resampler"
)

var errUnsupportedFormat = errors.New("unsupported audio format")

// pcm is a decoded asset: interleaved samples in [-1, 1].
type pcm struct {
	data     []float64
	channels int
	rate     float64
}

// loadAsset decodes a WAV, MP3 or Ogg Vorbis file, mixes it down to mono
// and resamples it to rate.
func loadAsset(path string, rate float64) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var p pcm
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		p, err = decodeWAV(f)
	case ".mp3":
		p, err = decodeMP3(f)
	case ".ogg", ".oga":
		p, err = decodeVorbis(f)
	default:
		return nil, fmt.Errorf("%s: %w %q", path, errUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	mono, err := p.mono()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.rate == rate {
		return mono, nil
	}
	out, err := resampler.ResampleMono(mono, p.rate, rate, resampler.QualityHigh)
	if err != nil {
		return nil, fmt.Errorf("resample %s from %g Hz: %w", path, p.rate, err)
	}
	return out, nil
}

func (p pcm) mono() ([]float64, error) {
	if p.channels < 1 {
		return nil, errors.New("no channels")
	}
	frames := len(p.data) / p.channels
	if frames == 0 {
		return nil, errors.New("no samples")
	}
	if p.channels == 1 {
		return p.data[:frames], nil
	}
	out := make([]float64, frames)
	gain := 1 / float64(p.channels)
	for i := range out {
		var sum float64
		for _, v := range p.data[i*p.channels : (i+1)*p.channels] {
			sum += v
		}
		out[i] = sum * gain
	}
	return out, nil
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.New("invalid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return pcm{}, err
	}
	bits := buf.SourceBitDepth
	if bits == 0 {
		bits = int(dec.BitDepth)
	}
	scale := 1 / fullScale(bits)
	data := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		data[i] = float64(v) * scale
	}
	return pcm{data: data, channels: buf.Format.NumChannels, rate: float64(buf.Format.SampleRate)}, nil
}

// decodeMP3 reads the whole stream; go-mp3 always yields 16-bit
// little-endian stereo.
func decodeMP3(r io.Reader) (pcm, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return pcm{}, err
	}
	data := make([]float64, len(raw)/2)
	for i := range data {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		data[i] = float64(v) / 32768
	}
	return pcm{data: data, channels: 2, rate: float64(dec.SampleRate())}, nil
}

func decodeVorbis(r io.Reader) (pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return pcm{}, err
	}
	data := make([]float64, len(samples))
	for i, v := range samples {
		data[i] = float64(v)
	}
	return pcm{data: data, channels: format.Channels, rate: float64(format.SampleRate)}, nil
}

func fullScale(bits int) float64 {
	if bits <= 0 {
		bits = 16
	}
	return math.Exp2(float64(bits - 1))
}
