// Package binaural measures rendered stereo signals.
//
// Analyzer estimates the interaural time and level differences and the
// interaural cross-correlation of an ear-signal pair. DecayTime estimates
// reverberation time from an impulse response through the Schroeder
// backward integral. Meter accumulates streaming peak and RMS levels of a
// rendered stereo stream.
package binaural
