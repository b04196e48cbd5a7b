// Package marker finds and tracks frequency-domain markers on a dB spectrum.
//
// A Tracker is evaluated once per FFT cycle. Peak-based modes scan the
// spectrum for genuine local maxima; tone modes then derive DC, harmonic or
// image positions from the strongest tone.
package marker

import "fmt"

// MaxMarkers is the highest marker index. A marker set holds MaxMarkers+1
// entries.
const MaxMarkers = 10

// floorDB seeds the peak scan; any real bin above it can become a marker.
const floorDB = -100.0

// Marker is one marker position on a spectrum.
type Marker struct {
	X      float64
	Y      float64
	Bin    int
	Active bool
}

// Tracker holds the marker set of one spectrum transform.
//
// A Tracker is driven from the capture loop only; the Handoff is the one
// entry point safe for other goroutines.
type Tracker struct {
	mode    Mode
	markers [MaxMarkers + 1]Marker
	maxX    [MaxMarkers + 1]int
	maxY    [MaxMarkers + 1]float64
	handoff *Handoff
}

// NewTracker returns a tracker in mode with the first count markers active.
func NewTracker(mode Mode, count int) *Tracker {
	t := &Tracker{mode: mode, handoff: NewHandoff()}
	t.SetCount(count)
	return t
}

// Mode returns the active marker mode.
func (t *Tracker) Mode() Mode {
	return t.mode
}

// SetMode changes the marker mode. It takes effect on the next Detect.
func (t *Tracker) SetMode(m Mode) {
	t.mode = m
}

// Count returns the number of active markers.
func (t *Tracker) Count() int {
	n := 0
	for n <= MaxMarkers && t.markers[n].Active {
		n++
	}
	return n
}

// SetCount activates markers 0..n-1 and deactivates the rest.
func (t *Tracker) SetCount(n int) {
	if n < 0 {
		n = 0
	}
	if n > MaxMarkers+1 {
		n = MaxMarkers + 1
	}
	for j := range t.markers {
		t.markers[j].Active = j < n
	}
}

// SetBin pins marker j to a bin. It is used by ModeFixed.
func (t *Tracker) SetBin(j, bin int) error {
	if j < 0 || j > MaxMarkers {
		return fmt.Errorf("marker: index %d out of range [0,%d]", j, MaxMarkers)
	}
	if bin < 0 {
		return fmt.Errorf("marker: negative bin %d", bin)
	}
	t.markers[j].Bin = bin
	return nil
}

// Markers returns a copy of the full marker set.
func (t *Tracker) Markers() []Marker {
	out := make([]Marker, len(t.markers))
	copy(out, t.markers[:])
	return out
}

// Handoff returns the snapshot rendezvous of this tracker.
func (t *Tracker) Handoff() *Handoff {
	return t.handoff
}

// Detect updates the marker set from spectrum y over frequency axis x.
// centered selects the I/Q layout where DC sits at bin len(y)/2.
//
// When a snapshot request is pending it is fulfilled with the finished set.
func (t *Tracker) Detect(x, y []float64, centered bool) {
	m := len(y)
	if t.mode == ModeOff || m < 2 || len(x) < m {
		return
	}
	if t.mode.NeedsIQ() && !centered {
		return
	}

	if t.mode.searchesPeaks() {
		t.scan(y)
	}

	if t.mode.tracksTone() {
		dc := 0
		if centered {
			dc = m / 2
		}
		if t.maxX[0] == dc {
			t.maxX[0], t.maxX[1] = t.maxX[1], t.maxX[0]
		}
	}

	harmonic := 1
	for j := 0; j <= MaxMarkers && t.markers[j].Active; j++ {
		mk := &t.markers[j]

		switch t.mode {
		case ModePeak:
			mk.Bin = t.maxX[j]
		case ModeFixed:
			mk.Bin = clampBin(mk.Bin, m)
		case ModeOneTone, ModeTwoTone:
			switch j {
			case 0:
				mk.Bin = t.maxX[0]
			case 1:
				mk.Bin = dcBin(m, centered)
			default:
				harmonic++
				mk.Bin = harmonicBin(t.markers[0].Bin, harmonic, m, centered)
			}
			mk.Bin = nudge(y, clampBin(mk.Bin, m))
		case ModeImage:
			switch j {
			case 0:
				mk.Bin = t.maxX[0]
			case 1:
				mk.Bin = m / 2
			case 2:
				mk.Bin = clampBin(m/2-(t.markers[0].Bin-m/2), m)
			default:
				continue
			}
		}

		mk.X = x[mk.Bin]
		mk.Y = y[mk.Bin]
	}

	t.handoff.Fulfill(t.markers[:])
}

// scan fills maxX/maxY with local maxima of y. For ModePeak the list is
// kept sorted by height; the tone modes only replace the first entry a
// candidate beats.
func (t *Tracker) scan(y []float64) {
	for j := range t.maxX {
		t.maxX[j] = 0
		t.maxY[j] = floorDB
	}

	if !t.markers[0].Active {
		return
	}

	t.maxX[0] = 0
	t.maxY[0] = y[0]

	for i := 2; i < len(y); i++ {
		c := y[i-1]
		rising := y[i-2] < c && c < y[i]
		falling := y[i-2] > c && c > y[i]
		if rising || falling {
			continue
		}

		for j := 0; j <= MaxMarkers && t.markers[j].Active; j++ {
			if c <= t.maxY[j] {
				continue
			}
			if t.mode == ModePeak {
				for k := MaxMarkers; k > j; k-- {
					t.maxY[k] = t.maxY[k-1]
					t.maxX[k] = t.maxX[k-1]
				}
			}
			t.maxY[j] = c
			t.maxX[j] = i - 1
			break
		}
	}
}

func dcBin(m int, centered bool) int {
	if centered {
		return m / 2
	}
	return 0
}

// harmonicBin projects harmonic h of the tone at fund. Bins past the edge of
// the spectrum are reflected back. The real and I/Q layouts reflect
// differently because DC sits at a different edge.
func harmonicBin(fund, h, m int, centered bool) int {
	var bin int
	if centered {
		bin = (fund-m/2)*h + m/2
		if bin > m {
			bin -= 2 * (bin - m)
		}
		if bin < m/2 {
			bin += 2 * (m/2 - bin)
		}
		return bin
	}

	bin = fund * h
	if bin > m {
		bin -= 2 * (bin - m)
	}
	if bin < 0 {
		bin = -bin
	}
	return bin
}

// nudge moves bin onto the nearest local maximum, preferring whichever of
// the forward or backward climb ends higher.
func nudge(y []float64, bin int) int {
	fwd := bin
	for fwd+1 < len(y) && y[fwd] < y[fwd+1] {
		fwd++
	}

	back := bin
	for back > 0 && y[back] < y[back-1] {
		back--
	}

	if y[fwd] > y[back] {
		return fwd
	}
	return back
}

func clampBin(bin, m int) int {
	if bin < 0 {
		return 0
	}
	if bin >= m {
		return m - 1
	}
	return bin
}
