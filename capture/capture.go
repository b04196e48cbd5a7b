package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Capture drives the refill of every device of a session.
//
// Setup, Refill and Release run on the capture loop. Stop may be called from
// any goroutine; it closes the source handles so an in-flight Refill
// returns, and Refill then reports ErrStopped.
type Capture struct {
	src     Source
	devices []*Device
	buffers map[*Device]*SampleBuffer
	fresh   map[*Device]bool
	running atomic.Bool
}

// New returns a capture of devices fed by src.
func New(src Source, devices ...*Device) *Capture {
	return &Capture{
		src:     src,
		devices: devices,
		buffers: make(map[*Device]*SampleBuffer),
		fresh:   make(map[*Device]bool),
	}
}

// Source returns the source feeding the capture.
func (c *Capture) Source() Source { return c.src }

// Devices returns the captured devices.
func (c *Capture) Devices() []*Device { return c.devices }

// Device looks up a device by name.
func (c *Capture) Device(name string) (*Device, error) {
	for _, d := range c.devices {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("capture: unknown device %q", name)
}

// Setup allocates a SampleBuffer for every device with at least one enabled
// channel and a non-zero requested depth, replacing buffers from an earlier
// setup. Channel bit depths are refreshed from the source.
func (c *Capture) Setup() error {
	c.release()

	for _, dev := range c.devices {
		for _, ch := range dev.Channels {
			if bits := c.src.BitDepth(ch); bits > 0 {
				ch.Bits = bits
			}
		}

		count := dev.SampleCount()
		if count == 0 || c.src.SampleSize(dev) == 0 {
			continue
		}

		buf, err := NewSampleBuffer(dev, c.src, count)
		if err != nil {
			c.release()
			return err
		}
		c.buffers[dev] = buf
	}

	c.running.Store(true)
	return nil
}

// Running reports whether capture is set up and not stopped.
func (c *Capture) Running() bool {
	return c.running.Load()
}

// Stop marks capture stopped and closes the source handle of every device.
func (c *Capture) Stop() error {
	c.running.Store(false)

	var errs []error
	for _, dev := range c.devices {
		if err := c.src.Close(dev); err != nil {
			errs = append(errs, fmt.Errorf("capture: close %s: %w", dev.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Release frees every SampleBuffer. It must run on the capture loop after
// Stop.
func (c *Capture) Release() {
	c.release()
}

func (c *Capture) release() {
	for dev, buf := range c.buffers {
		buf.Release()
		delete(c.buffers, dev)
	}
	for dev := range c.fresh {
		delete(c.fresh, dev)
	}
}

// Buffer returns the SampleBuffer of dev, or nil when the device is not
// captured.
func (c *Capture) Buffer(dev *Device) *SampleBuffer {
	return c.buffers[dev]
}

// Fresh reports whether dev was refilled and demuxed in the last Refill.
func (c *Capture) Fresh(dev *Device) bool {
	return c.fresh[dev]
}

// Refill refills and demuxes every captured device in order. A device whose
// refill fails or returns fewer frames than its buffer holds is marked stale
// and skipped; its error is joined into the
// result as a *SourceError. When capture is stopped during the cycle Refill
// returns ErrStopped and no device of the cycle counts as fresh after the
// stop.
func (c *Capture) Refill(ctx context.Context) error {
	for dev := range c.fresh {
		c.fresh[dev] = false
	}

	var errs []error
	for _, dev := range c.devices {
		buf := c.buffers[dev]
		if buf == nil {
			continue
		}
		if !c.running.Load() {
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := c.src.Refill(ctx, dev, buf.Count())
		if !c.running.Load() {
			return ErrStopped
		}
		if err != nil {
			errs = append(errs, &SourceError{Device: dev.Name, Err: err})
			continue
		}

		if n := buf.Demux(raw); n < buf.Count() {
			errs = append(errs, &SourceError{
				Device: dev.Name,
				Err:    fmt.Errorf("%w: %d of %d frames", io.ErrUnexpectedEOF, n, buf.Count()),
			})
			continue
		}
		c.fresh[dev] = true
	}

	return errors.Join(errs...)
}
