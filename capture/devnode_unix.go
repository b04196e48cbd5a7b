//go:build unix

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Refill reads n complete frames from the node of dev. Interrupted reads are
// retried; a short read at end of file is an error.
func (s *DeviceNode) Refill(ctx context.Context, dev *Device, n int) ([]byte, error) {
	fd, err := s.open(dev)
	if err != nil {
		return nil, err
	}

	data := s.buffer(dev, n*s.SampleSize(dev))

	total := 0
	for total < len(data) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := unix.Read(fd, data[total:])
		if m > 0 {
			total += m
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("read %s after %d bytes: %w", dev.Name, total, err)
		}
		if m == 0 {
			return nil, fmt.Errorf("read %s after %d of %d bytes: %w", dev.Name, total, len(data), io.ErrUnexpectedEOF)
		}
	}

	return data, nil
}

// Close closes the node of dev if it is open.
func (s *DeviceNode) Close(dev *Device) error {
	s.mu.Lock()
	fd, ok := s.fds[dev]
	delete(s.fds, dev)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return unix.Close(fd)
}

func (s *DeviceNode) open(dev *Device) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fd, ok := s.fds[dev]; ok {
		return fd, nil
	}

	path, ok := s.paths[dev.Name]
	if !ok {
		return -1, errors.New("no device node configured")
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("could not open device %s: %w", path, err)
	}
	s.fds[dev] = fd
	return fd, nil
}
