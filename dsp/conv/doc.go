// Package conv provides the FFT block convolution used by the binaural
// renderer, plus a direct time-domain reference and cross-correlation.
//
// The central type is [OverlapSave]. It splits block convolution into an
// analysis step, which transforms the frame [history | block] once, and a
// filter step, which multiplies that frame spectrum by any precomputed kernel
// spectrum and keeps the last block of the inverse transform:
//
//	ols, err := conv.NewOverlapSave(512, 1024)
//	err = ols.Analyze(block)
//	err = ols.FilterTo(left, leftSpectrum)
//	err = ols.FilterTo(right, rightSpectrum)
//
// One analysis can feed several kernels, so a spatializer pays for a single
// forward FFT per source and block no matter how many filters it blends.
//
// History length is fftSize-blockSize and does not depend on the kernel.
// Kernels up to fftSize-blockSize+1 taps produce exact linear convolution.
//
// For impulse responses much longer than a block, [Partitioned] implements
// uniformly partitioned overlap-save with a frequency-domain delay line.
//
// [Direct] is the O(N*M) reference that the block algorithms are tested
// against.
package conv
