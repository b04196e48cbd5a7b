package marker

import (
	"fmt"
	"strings"
)

// Mode selects how markers are placed on a spectrum.
type Mode int

const (
	ModeOff Mode = iota
	ModePeak
	ModeFixed
	ModeOneTone
	ModeTwoTone
	ModeImage
)

var modeNames = map[Mode]string{
	ModeOff:     "off",
	ModePeak:    "peak",
	ModeFixed:   "fixed",
	ModeOneTone: "one-tone",
	ModeTwoTone: "two-tone",
	ModeImage:   "image",
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a mode name to a Mode. Matching is case insensitive.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeOff, fmt.Errorf("marker: unknown mode %q", s)
}

// searchesPeaks reports whether the mode needs the per-cycle peak scan.
func (m Mode) searchesPeaks() bool {
	switch m {
	case ModePeak, ModeOneTone, ModeTwoTone, ModeImage:
		return true
	default:
		return false
	}
}

// tracksTone reports whether marker 0 must be a tone rather than DC.
func (m Mode) tracksTone() bool {
	return m == ModeOneTone || m == ModeTwoTone || m == ModeImage
}

// NeedsIQ reports whether the mode only makes sense on an I/Q spectrum.
func (m Mode) NeedsIQ() bool {
	return m == ModeImage
}
