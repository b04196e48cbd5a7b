// Package capture owns the acquisition side of the pipeline: the device
// model, the per-device SampleBuffer that demultiplexes interleaved raw
// samples into per-channel float arrays, and the sources that refill them.
package capture

import "fmt"

// DefaultSampleRate is used when a device does not report a sampling
// frequency.
const DefaultSampleRate = 400.0

// Channel is one hardware data source of a device.
//
// Channel fields are configuration; they are changed only while capture is
// stopped. The float array returned by Data is written by the capture loop
// and read by transforms on the same goroutine.
type Channel struct {
	Name    string
	Width   int // bytes per sample: 1, 2 or 4
	Bits    int // bits used by the converter
	Enabled bool

	device *Device
	data   []float64
}

// Device returns the owning device.
func (c *Channel) Device() *Device {
	return c.device
}

// Data returns the demultiplexed samples of the last refill. It is nil while
// no SampleBuffer is allocated for the channel.
func (c *Channel) Data() []float64 {
	return c.data
}

// BitDepth returns the converter bits, or the container width when unset.
func (c *Channel) BitDepth() int {
	if c.Bits > 0 {
		return c.Bits
	}
	return 8 * c.Width
}

// SampleRate returns the sampling frequency of the owning device.
func (c *Channel) SampleRate() float64 {
	if c.device == nil || c.device.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return c.device.SampleRate
}

// String implements fmt.Stringer.
func (c *Channel) String() string {
	if c.device == nil {
		return c.Name
	}
	return c.device.Name + "/" + c.Name
}

// Device groups the channels captured together into one interleaved buffer.
type Device struct {
	Name       string
	SampleRate float64
	Channels   []*Channel

	depths map[string]int
}

// NewDevice returns a device owning chans. A non-positive rate selects
// DefaultSampleRate.
func NewDevice(name string, rate float64, chans ...*Channel) *Device {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	d := &Device{Name: name, SampleRate: rate, depths: make(map[string]int)}
	for _, ch := range chans {
		d.Add(ch)
	}
	return d
}

// Add appends ch to the device scan order.
func (d *Device) Add(ch *Channel) {
	ch.device = d
	d.Channels = append(d.Channels, ch)
}

// Channel looks up a channel by name.
func (d *Device) Channel(name string) (*Channel, error) {
	for _, ch := range d.Channels {
		if ch.Name == name {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("capture: device %s has no channel %q", d.Name, name)
}

// EnabledChannels returns the enabled channels in scan order.
func (d *Device) EnabledChannels() []*Channel {
	out := make([]*Channel, 0, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// SampleSize returns the bytes of one interleaved frame, the sum of the
// widths of all enabled channels. It is zero when nothing is enabled.
func (d *Device) SampleSize() int {
	n := 0
	for _, ch := range d.Channels {
		if ch.Enabled {
			n += ch.Width
		}
	}
	return n
}

// RequestDepth records that consumer wants n samples per channel.
func (d *Device) RequestDepth(consumer string, n int) {
	if d.depths == nil {
		d.depths = make(map[string]int)
	}
	if n <= 0 {
		delete(d.depths, consumer)
		return
	}
	d.depths[consumer] = n
}

// ReleaseDepth drops the request of consumer.
func (d *Device) ReleaseDepth(consumer string) {
	delete(d.depths, consumer)
}

// SampleCount returns the depth the buffer must be allocated with: the
// largest depth requested by any consumer.
func (d *Device) SampleCount() int {
	n := 0
	for _, v := range d.depths {
		if v > n {
			n = v
		}
	}
	return n
}

func validWidth(w int) bool {
	return w == 1 || w == 2 || w == 4
}
