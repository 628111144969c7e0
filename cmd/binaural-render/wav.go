package main

import (
	"errors"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cwbudde/algo-binaural/dsp/core"
	"github.com/cwbudde/algo-binaural/dsp/dither"
	"github.com/cwbudde/algo-binaural/measure/binaural"
	"github.com/cwbudde/algo-binaural/measure/loudness"
)

// wavSink writes rendered blocks to a stereo WAV file, dithering them down
// to the quantizer's bit depth.
type wavSink struct {
	file     *os.File
	enc      *wav.Encoder
	buf      *audio.IntBuffer
	q        *dither.Quantizer
	meter    *binaural.Meter
	loudness *loudness.Meter
}

func newWAVSink(path string, rate float64, blockSize int, opts ...dither.Option) (*wavSink, error) {
	q, err := dither.NewQuantizer(opts...)
	if err != nil {
		return nil, err
	}
	lm, err := loudness.NewMeter(rate)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bits := q.BitDepth()
	return &wavSink{
		file: f,
		enc:  wav.NewEncoder(f, int(rate), bits, 2, 1),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: int(rate)},
			Data:           make([]int, 2*blockSize),
			SourceBitDepth: bits,
		},
		q:        q,
		meter:    binaural.NewMeter(),
		loudness: lm,
	}, nil
}

// WriteBlock implements render.Sink.
func (s *wavSink) WriteBlock(block core.Stereo) error {
	s.meter.Update(block)
	s.loudness.Update(block)

	n := 2 * block.Len()
	if cap(s.buf.Data) < n {
		s.buf.Data = make([]int, n)
	}
	s.buf.Data = s.buf.Data[:n]
	s.q.Quantize(s.buf.Data, block)
	return s.enc.Write(s.buf)
}

// Clipped reports how many samples saturated during quantization.
func (s *wavSink) Clipped() int { return s.q.Clipped() }

// Close finalizes the header and closes the file.
func (s *wavSink) Close() error {
	return errors.Join(s.enc.Close(), s.file.Close())
}
