package capture

import "sync"

// DeviceNode reads interleaved frames from character device nodes such as
// the buffer node of an IIO device. Each device maps to one node path; the
// node is opened on the first refill and kept open until Close.
type DeviceNode struct {
	DeviceAttributes

	mu    sync.Mutex
	paths map[string]string
	fds   map[*Device]int
	bufs  map[*Device][]byte
}

// NewDeviceNode returns a source reading device name -> node path.
func NewDeviceNode(paths map[string]string) *DeviceNode {
	p := make(map[string]string, len(paths))
	for k, v := range paths {
		p[k] = v
	}
	return &DeviceNode{
		paths: p,
		fds:   make(map[*Device]int),
		bufs:  make(map[*Device][]byte),
	}
}

// Path returns the node path configured for dev.
func (s *DeviceNode) Path(dev *Device) (string, bool) {
	p, ok := s.paths[dev.Name]
	return p, ok
}

func (s *DeviceNode) buffer(dev *Device, size int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bufs[dev]
	if cap(b) < size {
		b = make([]byte, size)
	}
	b = b[:size]
	s.bufs[dev] = b
	return b
}
