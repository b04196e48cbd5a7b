package capture

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
)

// Tone is one sinusoid added to a synthetic channel. Amplitude is a fraction
// of the channel's full scale.
type Tone struct {
	Frequency float64
	Amplitude float64
	Phase     float64
}

// SynthOption configures a Synth.
type SynthOption func(*Synth)

// WithNoise adds uniform noise of the given full-scale fraction, drawn from
// a generator seeded with seed.
func WithNoise(amplitude float64, seed int64) SynthOption {
	return func(s *Synth) {
		s.noise = amplitude
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// Synth is a Source producing tones on demand. Phase is continuous across
// refills; Close rewinds a device to sample zero.
type Synth struct {
	DeviceAttributes

	mu    sync.Mutex
	tones map[*Channel][]Tone
	pos   map[*Device]int
	bufs  map[*Device][]byte
	noise float64
	rng   *rand.Rand
}

// NewSynth returns a silent synthesizer.
func NewSynth(opts ...SynthOption) *Synth {
	s := &Synth{
		tones: make(map[*Channel][]Tone),
		pos:   make(map[*Device]int),
		bufs:  make(map[*Device][]byte),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddTone adds t to ch.
func (s *Synth) AddTone(ch *Channel, t Tone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tones[ch] = append(s.tones[ch], t)
}

// AddIQTone adds a complex exponential at freq to the pair (i, q): a cosine
// on i and a sine on q. A negative freq lands below DC.
func (s *Synth) AddIQTone(i, q *Channel, freq, amplitude float64) {
	s.AddTone(i, Tone{Frequency: freq, Amplitude: amplitude})
	s.AddTone(q, Tone{Frequency: freq, Amplitude: amplitude, Phase: -math.Pi / 2})
}

// Refill renders the next n frames of dev.
func (s *Synth) Refill(ctx context.Context, dev *Device, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := n * s.SampleSize(dev)
	buf := s.bufs[dev]
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	s.bufs[dev] = buf

	start := s.pos[dev]
	off := 0
	for k := 0; k < n; k++ {
		t := float64(start+k) / dev.SampleRate
		for _, ch := range dev.Channels {
			if !s.ChannelEnabled(ch) {
				continue
			}
			v := s.sample(ch, t)
			encode(buf[off:off+ch.Width], ch.Width, quantize(v, s.BitDepth(ch)))
			off += ch.Width
		}
	}
	s.pos[dev] = start + n

	return buf, nil
}

// Close rewinds dev.
func (s *Synth) Close(dev *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pos, dev)
	return nil
}

func (s *Synth) sample(ch *Channel, t float64) float64 {
	v := 0.0
	for _, tone := range s.tones[ch] {
		v += tone.Amplitude * math.Cos(2*math.Pi*tone.Frequency*t+tone.Phase)
	}
	if s.rng != nil && s.noise > 0 {
		v += (s.rng.Float64()*2 - 1) * s.noise
	}
	return v
}

// quantize scales a full-scale fraction to a signed integer of bits,
// saturating at the converter limits.
func quantize(v float64, bits int) int64 {
	full := math.Exp2(float64(bits-1)) - 1
	x := math.Round(v * full)
	if x > full {
		x = full
	}
	if x < -full-1 {
		x = -full - 1
	}
	return int64(x)
}

func encode(p []byte, width int, v int64) {
	switch width {
	case 1:
		p[0] = byte(int8(v))
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(int16(v)))
	default:
		binary.LittleEndian.PutUint32(p, uint32(int32(v)))
	}
}
