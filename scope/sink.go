package scope

import (
	"context"
	"time"

	"github.com/cwbudde/algo-scope/dsp/marker"
)

// Sink renders the axes of a transform after each update. The slices are
// owned by the session and valid only during the call; they may be
// replaced by new ones after a resize.
type Sink interface {
	Render(name string, x, y []float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, x, y []float64)

// Render calls f.
func (f SinkFunc) Render(name string, x, y []float64) { f(name, x, y) }

// MarkerSink receives the marker set of a spectrum after each update. The
// slice is only valid during the call.
type MarkerSink interface {
	Markers(name string, at time.Time, markers []marker.Marker)
}

// Status is one reading of the status worker.
type Status map[string]string

// StatusReader produces status readings. It must not touch transform
// buffers.
type StatusReader interface {
	ReadStatus(ctx context.Context) (Status, error)
}

// StatusFunc adapts a function to StatusReader.
type StatusFunc func(ctx context.Context) (Status, error)

// ReadStatus calls f.
func (f StatusFunc) ReadStatus(ctx context.Context) (Status, error) { return f(ctx) }
