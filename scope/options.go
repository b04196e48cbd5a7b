package scope

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTick is the capture period.
	DefaultTick = 50 * time.Millisecond
	// DefaultStatusInterval is the polling period of the status worker.
	DefaultStatusInterval = time.Second
)

type config struct {
	log            *zap.Logger
	tick           time.Duration
	sinks          []Sink
	markerSinks    []MarkerSink
	status         StatusReader
	statusInterval time.Duration
	onStatus       []func(Status)
	now            func() time.Time
}

func defaultConfig() config {
	return config{
		log:            zap.NewNop(),
		tick:           DefaultTick,
		statusInterval: DefaultStatusInterval,
		now:            time.Now,
	}
}

// Option configures a Session.
type Option func(*config)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithTick sets the capture period.
func WithTick(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithSink adds a renderer that receives every updated transform.
func WithSink(s Sink) Option {
	return func(c *config) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

// WithMarkerSink adds a consumer of the marker set of every updated
// spectrum with markers.
func WithMarkerSink(s MarkerSink) Option {
	return func(c *config) {
		if s != nil {
			c.markerSinks = append(c.markerSinks, s)
		}
	}
}

// WithStatus starts a status worker polling r every interval while the
// session runs. A non-positive interval selects DefaultStatusInterval.
func WithStatus(r StatusReader, interval time.Duration) Option {
	return func(c *config) {
		c.status = r
		if interval > 0 {
			c.statusInterval = interval
		}
	}
}

// OnStatus registers fn to receive every published status. fn runs with
// the session's UI lock held.
func OnStatus(fn func(Status)) Option {
	return func(c *config) {
		if fn != nil {
			c.onStatus = append(c.onStatus, fn)
		}
	}
}

// WithClock replaces the time source used to stamp marker sets.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
