// Package spectrum turns complex FFT bins into averaged dB power spectra.
//
// The package does not implement FFT itself. It operates on complex bins
// produced by the dsp/fft engine, converts them to normalised dB power and
// folds consecutive spectra together with peak-hold, min-hold or
// exponential averaging. All state lives in the caller's output slice, one
// value per bin.
package spectrum
