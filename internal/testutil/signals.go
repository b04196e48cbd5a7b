package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
)

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// BinTone returns amplitude*cos(2*pi*bin*n/length), a tone that lands
// exactly on FFT bin `bin` of a length-point transform.
func BinTone(length int, bin, amplitude float64) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * bin / float64(length)
	for i := range out {
		out[i] = amplitude * math.Cos(step*float64(i))
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	return DC(1.0, n)
}

// Spectrum builds a dB spectrum of m bins at floor dB with triangular
// peaks. Each peak rises to its level at the given bin and falls off by
// slope dB per bin on both sides until it meets the floor.
func Spectrum(m int, floor, slope float64, peaks map[int]float64) []float64 {
	out := DC(floor, m)
	for bin, level := range peaks {
		for i := range out {
			d := float64(i - bin)
			if d < 0 {
				d = -d
			}
			v := level - slope*d
			if v > out[i] {
				out[i] = v
			}
		}
	}
	return out
}

// Interleave encodes per-channel integer samples into a little-endian raw
// buffer of the given byte width, one frame per sample index with the
// channels in order. All channels must have the same length.
func Interleave(width int, channels ...[]int64) []byte {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]byte, n*len(channels)*width)
	off := 0
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			switch width {
			case 1:
				out[off] = byte(int8(ch[i]))
			case 2:
				binary.LittleEndian.PutUint16(out[off:], uint16(int16(ch[i])))
			default:
				binary.LittleEndian.PutUint32(out[off:], uint32(int32(ch[i])))
			}
			off += width
		}
	}
	return out
}
