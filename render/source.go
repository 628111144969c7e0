package render

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// ErrUnderrun is returned by a ChunkProvider that has no data ready.
var ErrUnderrun = errors.New("render: source underrun")

// SourceID identifies a source stream.
type SourceID = uuid.UUID

// NewSourceID returns a random source id.
func NewSourceID() SourceID { return uuid.New() }

// ChunkProvider supplies mono samples at the pipeline rate. NextChunk fills
// up to len(dst) samples and returns how many were written. It returns
// io.EOF at the end of the asset and ErrUnderrun when data is not ready.
type ChunkProvider interface {
	NextChunk(id SourceID, dst []float64) (int, error)
}

// Rewinder is implemented by providers that can restart their asset.
type Rewinder interface {
	Rewind() error
}

// SliceProvider plays an in-memory asset.
type SliceProvider struct {
	samples []float64
	pos     int
}

// NewSliceProvider returns a provider over samples. The slice is not copied.
func NewSliceProvider(samples []float64) *SliceProvider {
	return &SliceProvider{samples: samples}
}

// NextChunk implements ChunkProvider.
func (p *SliceProvider) NextChunk(_ SourceID, dst []float64) (int, error) {
	n := copy(dst, p.samples[p.pos:])
	p.pos += n
	if p.pos >= len(p.samples) {
		return n, io.EOF
	}
	return n, nil
}

// Rewind implements Rewinder.
func (p *SliceProvider) Rewind() error {
	p.pos = 0
	return nil
}

// Len returns the asset length in samples.
func (p *SliceProvider) Len() int { return len(p.samples) }

// StreamProvider is a bounded FIFO filled by a producer goroutine, such as a
// decoder or a network receiver. The render side never waits: a read that
// cannot be satisfied in full reports ErrUnderrun and leaves the data for
// the next block.
type StreamProvider struct {
	mu     sync.Mutex
	buf    []float64
	r, n   int
	closed bool
}

// NewStreamProvider returns a provider buffering up to capacity samples.
// The orchestrator rejects a capacity below its block size.
func NewStreamProvider(capacity int) (*StreamProvider, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("render: stream capacity must be > 0: %d", capacity)
	}
	return &StreamProvider{buf: make([]float64, capacity)}, nil
}

// Write appends as many samples as fit and returns the count.
func (p *StreamProvider) Write(samples []float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0
	}
	written := 0
	for written < len(samples) && p.n < len(p.buf) {
		w := (p.r + p.n) % len(p.buf)
		c := copy(p.buf[w:min(len(p.buf), w+len(p.buf)-p.n)], samples[written:])
		written += c
		p.n += c
	}
	return written
}

// Close marks the end of the stream. Buffered samples remain readable.
func (p *StreamProvider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Capacity returns the buffer size in samples.
func (p *StreamProvider) Capacity() int { return len(p.buf) }

// Buffered returns the number of samples waiting.
func (p *StreamProvider) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

// NextChunk implements ChunkProvider.
func (p *StreamProvider) NextChunk(_ SourceID, dst []float64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.n < len(dst) && !p.closed {
		return 0, ErrUnderrun
	}

	want := min(len(dst), p.n)
	read := 0
	for read < want {
		c := copy(dst[read:want], p.buf[p.r:])
		read += c
		p.r = (p.r + c) % len(p.buf)
		p.n -= c
	}

	if p.closed && p.n == 0 {
		return read, io.EOF
	}
	return read, nil
}
