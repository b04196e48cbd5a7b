package capture

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cwbudde/algo-scope/internal/handoff"
)

// Frame is a raw capture snapshot: the interleaved bytes of one refill and
// the demultiplexed samples of every enabled channel.
type Frame struct {
	Raw      []byte
	Names    []string
	Channels [][]float64
}

// SampleBuffer demultiplexes the raw buffer of one device into the float
// arrays of its enabled channels.
//
// The channel layout is fixed at construction; a layout or depth change
// needs a new SampleBuffer.
type SampleBuffer struct {
	dev     *Device
	count   int
	frame   int
	order   []*Channel
	offsets []int
	raw     []byte

	snapshots handoff.Slot[*Frame]
}

// NewSampleBuffer allocates count samples for every channel attrs reports as
// enabled. A device whose sample size is zero gets an empty buffer that
// demuxes nothing.
func NewSampleBuffer(dev *Device, attrs Attributes, count int) (*SampleBuffer, error) {
	if count < 0 {
		return nil, fmt.Errorf("capture: negative sample count %d", count)
	}

	b := &SampleBuffer{dev: dev, count: count, frame: attrs.SampleSize(dev)}
	if b.frame == 0 {
		return b, nil
	}

	size := 0
	for _, ch := range dev.Channels {
		if !attrs.ChannelEnabled(ch) {
			continue
		}
		if !validWidth(ch.Width) {
			return nil, fmt.Errorf("capture: channel %s: unsupported width %d", ch, ch.Width)
		}
		b.order = append(b.order, ch)
		size += ch.Width
	}
	if size != b.frame {
		return nil, fmt.Errorf("capture: device %s: frame of %d bytes does not match channel widths (%d)",
			dev.Name, b.frame, size)
	}

	b.offsets = make([]int, len(b.order))
	for _, ch := range b.order {
		if cap(ch.data) >= count {
			ch.data = ch.data[:count]
		} else {
			ch.data = make([]float64, count)
		}
	}

	return b, nil
}

// Device returns the device the buffer belongs to.
func (b *SampleBuffer) Device() *Device { return b.dev }

// Count returns the samples held per channel.
func (b *SampleBuffer) Count() int { return b.count }

// FrameSize returns the bytes of one interleaved frame.
func (b *SampleBuffer) FrameSize() int { return b.frame }

// Channels returns the demux order.
func (b *SampleBuffer) Channels() []*Channel { return b.order }

// Demux splits raw into the channel arrays. Sample slots are assigned to the
// enabled channels in turn, sign-converted from their little-endian width
// and stored at the next free offset; offsets restart at zero on every call.
// Bytes past Count frames and a trailing partial slot are ignored.
//
// It returns the number of complete frames stored.
func (b *SampleBuffer) Demux(raw []byte) int {
	b.raw = raw
	for i := range b.offsets {
		b.offsets[i] = 0
	}
	if len(b.order) == 0 {
		return 0
	}

	limit := b.count * b.frame
	if len(raw) < limit {
		limit = len(raw)
	}

	k := 0
	for pos := 0; ; {
		ch := b.order[k]
		w := ch.Width
		if pos+w > limit {
			break
		}
		ch.data[b.offsets[k]] = decode(raw[pos:pos+w], w)
		b.offsets[k]++
		pos += w

		k++
		if k == len(b.order) {
			k = 0
		}
	}

	frames := b.offsets[len(b.offsets)-1]
	if b.snapshots.Pending() {
		b.snapshots.Fulfill(b.fill)
	}
	return frames
}

// Snapshot blocks until the next Demux and copies its raw bytes and channel
// samples into dst. Only one snapshot may be pending at a time.
func (b *SampleBuffer) Snapshot(ctx context.Context, dst *Frame) (int, error) {
	return b.snapshots.Request(ctx, dst)
}

// Release detaches the channel arrays and interrupts a pending snapshot.
func (b *SampleBuffer) Release() {
	b.snapshots.Interrupt()
	for _, ch := range b.order {
		ch.data = nil
	}
	b.order = nil
	b.offsets = nil
	b.raw = nil
}

func (b *SampleBuffer) fill(dst *Frame) int {
	dst.Raw = append(dst.Raw[:0], b.raw...)
	dst.Names = dst.Names[:0]
	if cap(dst.Channels) < len(b.order) {
		dst.Channels = make([][]float64, len(b.order))
	}
	dst.Channels = dst.Channels[:len(b.order)]
	for i, ch := range b.order {
		dst.Names = append(dst.Names, ch.Name)
		dst.Channels[i] = append(dst.Channels[i][:0], ch.data[:b.offsets[i]]...)
	}
	return len(dst.Raw)
}

func decode(p []byte, width int) float64 {
	switch width {
	case 1:
		return float64(int8(p[0]))
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(p)))
	default:
		return float64(int32(binary.LittleEndian.Uint32(p)))
	}
}
