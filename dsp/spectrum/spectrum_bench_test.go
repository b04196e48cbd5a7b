package spectrum

import (
	"strconv"
	"testing"
)

func BenchmarkPowerDBAccumulate(b *testing.B) {
	for _, n := range []int{512, 2048, 8192} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			bins := make([]complex128, n)
			for i := range bins {
				bins[i] = complex(float64(i+1), float64(n-i))
			}
			mag := make([]float64, n)
			out := make([]float64, n)
			Reset(out)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				PowerDB(mag, bins, n, 0)
				Accumulate(out, mag, 4)
			}
		})
	}
}
