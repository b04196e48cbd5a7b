package marker

import (
	"context"

	"github.com/cwbudde/algo-scope/internal/handoff"
)

// Errors returned by Handoff.Request.
var (
	ErrBusy        = handoff.ErrBusy
	ErrInterrupted = handoff.ErrInterrupted
)

// Handoff is a single-slot rendezvous between marker detection and an
// external reader. At most one request can be pending; the detector copies
// the finished marker set into it once and releases the reader.
type Handoff struct {
	slot handoff.Slot[[]Marker]
}

// NewHandoff returns an empty handoff.
func NewHandoff() *Handoff {
	return &Handoff{}
}

// Request registers dst and blocks until the next detection cycle has
// copied its markers into it. It returns the number of markers copied.
func (h *Handoff) Request(ctx context.Context, dst []Marker) (int, error) {
	return h.slot.Request(ctx, dst)
}

// Pending reports whether a request is waiting to be fulfilled.
func (h *Handoff) Pending() bool {
	return h.slot.Pending()
}

// Fulfill copies markers into a pending request, if any, and releases it.
func (h *Handoff) Fulfill(markers []Marker) bool {
	return h.slot.Fulfill(func(dst []Marker) int {
		return copy(dst, markers)
	})
}

// Interrupt releases a pending request with ErrInterrupted.
func (h *Handoff) Interrupt() {
	h.slot.Interrupt()
}
