// Package spatial renders mono sources to binaural stereo.
//
// Spatializer convolves each source block with a head-related impulse
// response pair selected from an [hrir.Bank], applies the interaural time
// difference as a fractional delay on the lagging ear and crossfades between
// filter sets when the source direction changes. Canceller removes
// loudspeaker crosstalk so the binaural image survives speaker playback.
package spatial
