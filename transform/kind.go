package transform

import "fmt"

// Kind selects the variant of a Transform.
type Kind int

const (
	KindTime Kind = iota
	KindFFT
	KindComplexFFT
	KindConstellation
	kindCount
)

var kindNames = [kindCount]string{
	KindTime:          "time",
	KindFFT:           "fft",
	KindComplexFFT:    "complex_fft",
	KindConstellation: "constellation",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k.valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a name produced by String back to its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Inputs returns how many source channels the kind reads.
func (k Kind) Inputs() int {
	switch k {
	case KindComplexFFT, KindConstellation:
		return 2
	default:
		return 1
	}
}

// Spectral reports whether the kind computes a spectrum.
func (k Kind) Spectral() bool {
	return k == KindFFT || k == KindComplexFFT
}

func (k Kind) valid() bool {
	return k >= 0 && k < kindCount
}

// kindOps is the per-kind behaviour. setup runs on configuration change and
// may allocate; update runs once per capture cycle.
type kindOps struct {
	setup  func(*Transform) error
	update func(*Transform) error
}

var ops = [kindCount]kindOps{
	KindTime:          {setup: setupTime, update: updateTime},
	KindFFT:           {setup: setupSpectrum, update: updateSpectrum},
	KindComplexFFT:    {setup: setupSpectrum, update: updateSpectrum},
	KindConstellation: {setup: setupConstellation, update: func(*Transform) error { return nil }},
}
