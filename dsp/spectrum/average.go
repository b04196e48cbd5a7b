package spectrum

// Averaging selects how a new power value is folded into the stored one.
//
// PeakHold and MinHold are reserved values; any other value n selects an
// exponential average with weight 1/n.
type Averaging uint

const (
	PeakHold Averaging = 0
	MinHold  Averaging = 128
)

// Alpha returns the exponential weight 1/avg, or 0 for the hold modes.
func (a Averaging) Alpha() float64 {
	if a == PeakHold || a == MinHold {
		return 0
	}
	return 1 / float64(a)
}

// String implements fmt.Stringer.
func (a Averaging) String() string {
	switch a {
	case PeakHold:
		return "peak-hold"
	case MinHold:
		return "min-hold"
	default:
		return "exponential"
	}
}

// Combine folds mag into prev according to the averaging mode.
func Combine(prev, mag float64, avg Averaging) float64 {
	switch {
	case prev == Unset:
		return mag
	case avg == PeakHold:
		if prev <= mag {
			return mag
		}
		return prev
	case avg == MinHold:
		if prev >= mag {
			return mag
		}
		return prev
	default:
		alpha := avg.Alpha()
		return (1-alpha)*prev + alpha*mag
	}
}

// Accumulate folds the new spectrum mag into out bin by bin. out holds the
// only averaging state; bins still at Unset take mag directly.
func Accumulate(out, mag []float64, avg Averaging) {
	n := len(out)
	if len(mag) < n {
		n = len(mag)
	}

	switch avg {
	case PeakHold:
		for i := 0; i < n; i++ {
			if out[i] == Unset || out[i] <= mag[i] {
				out[i] = mag[i]
			}
		}
	case MinHold:
		for i := 0; i < n; i++ {
			if out[i] == Unset || out[i] >= mag[i] {
				out[i] = mag[i]
			}
		}
	default:
		alpha := avg.Alpha()
		for i := 0; i < n; i++ {
			if out[i] == Unset {
				out[i] = mag[i]
				continue
			}
			out[i] = (1-alpha)*out[i] + alpha*mag[i]
		}
	}
}

// Reset marks every bin in out as Unset.
func Reset(out []float64) {
	for i := range out {
		out[i] = Unset
	}
}
