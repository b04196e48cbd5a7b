package capture

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable reports that a device buffer could not be refilled.
	ErrSourceUnavailable = errors.New("capture: source unavailable")
	// ErrStopped is returned by Refill when capture was stopped mid-cycle.
	ErrStopped = errors.New("capture: stopped")
	// ErrUnsupported is returned by sources not available on this platform.
	ErrUnsupported = errors.New("capture: source not supported on this platform")
)

// SourceError wraps a refill failure of one device. It matches both
// ErrSourceUnavailable and the underlying cause.
type SourceError struct {
	Device string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("capture: device %s: %v", e.Device, e.Err)
}

// Unwrap exposes ErrSourceUnavailable and the cause.
func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// Source provides the raw interleaved buffers of devices.
//
// Refill returns n frames of SampleSize(dev) bytes; the returned slice is
// owned by the source and valid until the next Refill of the same device.
// It must not block longer than one capture period. Close releases any
// handle held for dev; a later Refill reopens it. Close may be called
// from any goroutine, including while Refill is in flight.
type Source interface {
	Attributes

	Refill(ctx context.Context, dev *Device, n int) ([]byte, error)
	Close(dev *Device) error
}

// Attributes answers the layout queries a sample buffer is sized from.
type Attributes interface {
	SampleSize(dev *Device) int
	ChannelCount(dev *Device) int
	ChannelEnabled(ch *Channel) bool
	BitDepth(ch *Channel) int
}

// DeviceAttributes answers the attribute queries of a Source from the
// device model itself. Sources embed it when the model is authoritative.
type DeviceAttributes struct{}

// SampleSize returns dev.SampleSize().
func (DeviceAttributes) SampleSize(dev *Device) int { return dev.SampleSize() }

// ChannelCount returns the number of channels of dev.
func (DeviceAttributes) ChannelCount(dev *Device) int { return len(dev.Channels) }

// ChannelEnabled returns ch.Enabled.
func (DeviceAttributes) ChannelEnabled(ch *Channel) bool { return ch.Enabled }

// BitDepth returns ch.Bits, or the full container width when unset.
func (DeviceAttributes) BitDepth(ch *Channel) int { return ch.BitDepth() }

var (
	_ Source     = (*Synth)(nil)
	_ Source     = (*DeviceNode)(nil)
	_ Attributes = DeviceAttributes{}
)
