package core

// Stereo is a planar two-channel block. Left and Right always have equal length.
type Stereo struct {
	Left  []float64
	Right []float64
}

// NewStereo allocates a zeroed stereo block of n frames.
func NewStereo(n int) Stereo {
	if n < 0 {
		n = 0
	}
	return Stereo{
		Left:  make([]float64, n),
		Right: make([]float64, n),
	}
}

// Len returns the number of frames.
func (s Stereo) Len() int {
	return len(s.Left)
}

// Zero silences both channels.
func (s Stereo) Zero() {
	clear(s.Left)
	clear(s.Right)
}

// CopyFrom copies src into s and returns the number of frames copied.
func (s Stereo) CopyFrom(src Stereo) int {
	n := copy(s.Left, src.Left)
	copy(s.Right, src.Right)
	return n
}

// Add accumulates src into s frame by frame.
func (s Stereo) Add(src Stereo) {
	AddScaled(s.Left, src.Left, 1)
	AddScaled(s.Right, src.Right, 1)
}

// Scale multiplies both channels by gain.
func (s Stereo) Scale(gain float64) {
	Scale(s.Left, gain)
	Scale(s.Right, gain)
}

// Peak returns the largest absolute sample across both channels.
func (s Stereo) Peak() float64 {
	return max(Peak(s.Left), Peak(s.Right))
}

// Finite reports whether both channels contain only finite samples.
func (s Stereo) Finite() bool {
	return AllFinite(s.Left) && AllFinite(s.Right)
}

// Interleave writes s as L,R,L,R... into dst, which must hold 2*Len samples.
// It returns the number of frames written.
func (s Stereo) Interleave(dst []float64) int {
	n := min(s.Len(), len(dst)/2)
	for i := range n {
		dst[2*i] = s.Left[i]
		dst[2*i+1] = s.Right[i]
	}
	return n
}
