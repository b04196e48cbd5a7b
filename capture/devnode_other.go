//go:build !unix

package capture

import "context"

// Refill is not supported on this platform.
func (s *DeviceNode) Refill(ctx context.Context, dev *Device, n int) ([]byte, error) {
	return nil, ErrUnsupported
}

// Close is a no-op on this platform.
func (s *DeviceNode) Close(dev *Device) error {
	return nil
}
