package spectrum

import (
	"math"
	"sync"

	"github.com/cwbudde/algo-vecmath"
)

// Unset marks a bin that has not yet received a power value. The first
// value written into such a bin is stored without averaging.
const Unset = math.MaxFloat32

// scratchBuf holds pooled scratch memory for complex-to-real unpacking.
type scratchBuf struct {
	data []float64
}

var scratchPool = sync.Pool{
	New: func() any { return &scratchBuf{} },
}

func getScratch(n int) (re, im []float64, buf *scratchBuf) {
	buf = scratchPool.Get().(*scratchBuf)
	need := 2 * n
	if cap(buf.data) < need {
		buf.data = make([]float64, need)
	} else {
		buf.data = buf.data[:need]
	}
	return buf.data[:n], buf.data[n:need], buf
}

func putScratch(buf *scratchBuf) {
	scratchPool.Put(buf)
}

// FFTCorrection returns the full-scale normalisation 20*log10(2 / 2^(bits-1))
// for a converter with the given number of used bits.
func FFTCorrection(bits int) float64 {
	if bits < 1 {
		bits = 1
	}
	return 20 * math.Log10(2/math.Exp2(float64(bits-1)))
}

// PowerDB converts complex bins into dB power normalised by m^2:
//
//	dst[k] = 10*log10(|bins[k]|^2 / m^2) + offset
//
// m is the per-channel half length of the transform (N/2 for real input,
// N for I/Q input). offset carries every additive dB term (full-scale
// correction, user power offset, window correction). dst and bins must have
// the same length. A zero bin yields -Inf.
func PowerDB(dst []float64, bins []complex128, m int, offset float64) {
	n := len(bins)
	if n == 0 || len(dst) < n {
		return
	}

	re, im, buf := getScratch(n)
	for i, c := range bins {
		re[i] = real(c)
		im[i] = imag(c)
	}

	vecmath.Power(dst[:n], re, im)
	putScratch(buf)

	norm := float64(m) * float64(m)
	for i := range dst[:n] {
		dst[i] = 10*math.Log10(dst[i]/norm) + offset
	}
}
