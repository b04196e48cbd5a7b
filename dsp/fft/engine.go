// Package fft owns the windowed forward FFT used by spectrum plots.
//
// An Engine caches exactly one execution plan keyed by (size, channel
// count). One channel is treated as real input and yields the N/2 positive
// frequency bins. Two channels are combined as I + jQ and yield all N bins
// reordered so that DC sits in the middle of the block.
package fft

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-scope/dsp/window"
)

const (
	// MinSize is the smallest supported transform length.
	MinSize = 32
	// MaxSize is the largest supported transform length.
	MaxSize = 1 << 20
)

// Errors returned by the engine.
var (
	ErrInvalidSize     = errors.New("fft: size must be a power of two within limits")
	ErrInvalidChannels = errors.New("fft: channel count must be 1 or 2")
	ErrShortInput      = errors.New("fft: input shorter than transform size")
	ErrPlan            = errors.New("fft: plan allocation failed")
)

// Plan is a forward complex transform of fixed length.
type Plan interface {
	Forward(dst, src []complex128) error
}

// Planner builds a Plan for a transform length.
type Planner func(n int) (Plan, error)

// DefaultPlanner builds plans with algo-fft.
func DefaultPlanner(n int) (Plan, error) {
	p, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithPlanner replaces the plan constructor.
func WithPlanner(p Planner) Option {
	return func(e *Engine) {
		if p != nil {
			e.planner = p
		}
	}
}

// Engine performs windowed forward transforms with a cached plan.
//
// An Engine belongs to a single transform and is not safe for concurrent use.
type Engine struct {
	planner Planner
	win     *window.Cache

	plan     Plan
	size     int
	channels int
	re, im   []float64
	in       []complex128
	raw      []complex128
	ordered  []complex128
	rebuilds int
}

// New returns an engine with a Hann window and the algo-fft planner.
func New(opts ...Option) *Engine {
	e := &Engine{
		planner: DefaultPlanner,
		win:     window.NewCache(window.TypeHann),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ValidateSize reports whether n is a supported transform length.
func ValidateSize(n int) error {
	if n < MinSize || n > MaxSize || n&(n-1) != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	return nil
}

// Bins returns the number of output bins m for a configuration: N/2 for a
// single real channel and N for an I/Q pair.
func Bins(size, channels int) int {
	if channels == 2 {
		return size
	}
	return size / 2
}

// Rebuilds reports how many plans the engine has built.
func (e *Engine) Rebuilds() int {
	return e.rebuilds
}

// Prepare makes sure a plan for (size, channels) exists. The plan and its
// buffers are rebuilt as a whole when either value differs from the last
// successful build.
func (e *Engine) Prepare(size, channels int) error {
	if err := ValidateSize(size); err != nil {
		return err
	}
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d", ErrInvalidChannels, channels)
	}

	if e.plan != nil && e.size == size && e.channels == channels {
		return nil
	}

	e.release()

	plan, err := e.planner(size)
	if err != nil {
		return fmt.Errorf("%w: size %d: %w", ErrPlan, size, err)
	}
	if plan == nil {
		return fmt.Errorf("%w: size %d", ErrPlan, size)
	}

	e.plan = plan
	e.size = size
	e.channels = channels
	e.re = make([]float64, size)
	if channels == 2 {
		e.im = make([]float64, size)
	}
	e.in = make([]complex128, size)
	e.raw = make([]complex128, size)
	e.ordered = make([]complex128, Bins(size, channels))
	e.win.Coefficients(size)
	e.rebuilds++

	return nil
}

// Forward windows the first size samples of i (and q for I/Q input),
// transforms them and returns the ordered bins. q == nil selects the real
// single-channel path.
//
// The returned slice is owned by the engine and valid until the next call.
func (e *Engine) Forward(i, q []float64, size int) ([]complex128, error) {
	channels := 1
	if q != nil {
		channels = 2
	}

	if err := e.Prepare(size, channels); err != nil {
		return nil, err
	}

	if len(i) < size || (q != nil && len(q) < size) {
		return nil, fmt.Errorf("%w: need %d", ErrShortInput, size)
	}

	w := e.win.Coefficients(size)
	if err := window.ApplyCoefficients(e.re, i[:size], w); err != nil {
		return nil, err
	}
	if q != nil {
		if err := window.ApplyCoefficients(e.im, q[:size], w); err != nil {
			return nil, err
		}
		for k, v := range e.re {
			e.in[k] = complex(v, e.im[k])
		}
	} else {
		for k, v := range e.re {
			e.in[k] = complex(v, 0)
		}
	}

	if err := e.plan.Forward(e.raw, e.in); err != nil {
		return nil, fmt.Errorf("fft: forward: %w", err)
	}

	m := len(e.ordered)
	if channels == 2 {
		half := m / 2
		copy(e.ordered[:half], e.raw[half:m])
		copy(e.ordered[half:], e.raw[:half])
	} else {
		copy(e.ordered, e.raw[:m])
	}

	return e.ordered, nil
}

// Release drops the plan and buffers. The next Forward rebuilds them.
func (e *Engine) Release() {
	e.release()
}

func (e *Engine) release() {
	e.plan = nil
	e.size = 0
	e.channels = 0
	e.re = nil
	e.im = nil
	e.in = nil
	e.raw = nil
	e.ordered = nil
}
