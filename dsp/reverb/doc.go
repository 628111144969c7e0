// Package reverb provides the stereo reverb variants of the post chain.
//
// Included processors:
//   - FDN: modulated eight-line feedback delay network with damping.
//   - Convolution: partitioned convolution with a synthetic, exponentially
//     decaying stereo impulse response.
package reverb
