// Package transform turns demultiplexed channel arrays into plot axes.
//
// A Transform is one of four kinds: a time trace, a real or complex
// spectrum, or a constellation. Each kind has a setup step that runs when
// the configuration changes and an update step that runs once per capture
// cycle. Transforms of one plot are grouped in a List.
package transform

import (
	"fmt"

	"github.com/cwbudde/algo-scope/capture"
	"github.com/cwbudde/algo-scope/dsp/fft"
	"github.com/cwbudde/algo-scope/dsp/marker"
	"github.com/cwbudde/algo-scope/dsp/spectrum"
)

// TimeSettings post-processes a time trace. With every step disabled the
// trace is a view of the channel array.
type TimeSettings struct {
	Inverse    bool
	Multiply   bool
	MultiplyBy float64
	Add        bool
	AddValue   float64
}

func (s TimeSettings) postProcessed() bool {
	return s.Inverse || s.Multiply || s.Add
}

// FFTSettings configures a spectrum transform.
type FFTSettings struct {
	Size        int
	Average     spectrum.Averaging
	PowerOffset float64
	// Markers is the tracker evaluated after every update. Nil disables
	// marker detection for this transform.
	Markers *marker.Tracker
}

// Config is the full configuration of a Transform.
type Config struct {
	Kind    Kind
	Inputs  []Input
	Samples int // depth of time and constellation plots
	Time    TimeSettings
	FFT     FFTSettings
}

// Depth returns the samples per channel the configuration reads.
func (c Config) Depth() int {
	if c.Kind.Spectral() {
		return c.FFT.Size
	}
	return c.Samples
}

// Validate checks the configuration without touching any transform.
func (c Config) Validate() error {
	if !c.Kind.valid() {
		return &ConfigError{Field: "kind", Value: c.Kind, Err: ErrUnknownKind}
	}

	if len(c.Inputs) != c.Kind.Inputs() {
		return &ConfigError{Field: "inputs", Value: len(c.Inputs), Err: ErrChannelCount}
	}
	for _, in := range c.Inputs {
		if in == nil {
			return &ConfigError{Field: "inputs", Value: nil, Err: ErrChannelCount}
		}
	}
	if len(c.Inputs) == 2 && !sameDevice(c.Inputs[0], c.Inputs[1]) {
		return &ConfigError{Field: "inputs", Value: c.Inputs, Err: ErrMixedDevices}
	}

	if c.Kind.Spectral() {
		if err := fft.ValidateSize(c.FFT.Size); err != nil {
			return &ConfigError{Field: "fft size", Value: c.FFT.Size, Err: err}
		}
		if m := c.FFT.Markers; m != nil && m.Mode().NeedsIQ() && c.Kind != KindComplexFFT {
			return &ConfigError{Field: "marker mode", Value: m.Mode(), Err: ErrImageNeedsIQ}
		}
		return nil
	}

	if c.Samples <= 0 {
		return &ConfigError{Field: "samples", Value: c.Samples, Err: ErrSampleCount}
	}
	return nil
}

func sameDevice(a, b Input) bool {
	ca, okA := a.(*capture.Channel)
	cb, okB := b.(*capture.Channel)
	if !okA || !okB {
		return true
	}
	return ca.Device() == cb.Device()
}

// Option configures a Transform.
type Option func(*Transform)

// WithPlanner replaces the FFT plan constructor of spectrum transforms.
func WithPlanner(p fft.Planner) Option {
	return func(t *Transform) {
		t.planner = p
	}
}

// WithCorrection sets the source of the global dB correction added to every
// spectrum bin. It is read once per update.
func WithCorrection(corr func() float64) Option {
	return func(t *Transform) {
		t.correction = corr
	}
}

// Transform converts one or two inputs into an x and a y axis.
//
// Setup and Update run on the capture loop; readers of X and Y must be on
// the same goroutine or copy the axes.
type Transform struct {
	name       string
	cfg        Config
	planner    fft.Planner
	correction func() float64

	x, y     Axis
	engine   *fft.Engine
	mag      []float64
	fftCorr  float64
	ready    bool
	disabled error
}

// New returns a transform for a validated cfg. Setup must run before the
// first Update.
func New(name string, cfg Config, opts ...Option) (*Transform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Transform{name: name, cfg: cfg, planner: fft.DefaultPlanner}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Name returns the transform name.
func (t *Transform) Name() string { return t.name }

// Kind returns the transform kind.
func (t *Transform) Kind() Kind { return t.cfg.Kind }

// Config returns the active configuration.
func (t *Transform) Config() Config { return t.cfg }

// Inputs returns the source inputs.
func (t *Transform) Inputs() []Input { return t.cfg.Inputs }

// X returns the x axis.
func (t *Transform) X() []float64 { return t.x.Data() }

// Y returns the y axis.
func (t *Transform) Y() []float64 { return t.y.Data() }

// YOwned reports whether the y axis holds its own buffer.
func (t *Transform) YOwned() bool { return t.y.Owned() }

// Markers returns the marker tracker of a spectrum transform, or nil.
func (t *Transform) Markers() *marker.Tracker { return t.cfg.FFT.Markers }

// Ready reports whether setup completed and the transform is enabled.
func (t *Transform) Ready() bool { return t.ready && t.disabled == nil }

// Disabled returns the allocation error that disabled the transform, or nil.
func (t *Transform) Disabled() error { return t.disabled }

// Configure replaces the configuration. An invalid cfg is rejected with a
// *ConfigError and the previous configuration stays active. A valid cfg
// takes effect at the next Setup.
func (t *Transform) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.cfg = cfg
	t.ready = false
	return nil
}

// Setup rebuilds the axes for the current configuration. A failure to build
// buffers or the FFT plan is returned as *AllocationError and disables the
// transform for good.
func (t *Transform) Setup() error {
	if t.disabled != nil {
		return t.disabled
	}

	t.release()
	if err := ops[t.cfg.Kind].setup(t); err != nil {
		t.Release()
		t.disabled = &AllocationError{Transform: t.name, Err: err}
		return t.disabled
	}

	t.ready = true
	return nil
}

// Update recomputes the axes from the latest input arrays. It is a no-op
// before Setup and after the transform was disabled.
func (t *Transform) Update() error {
	if !t.Ready() {
		return nil
	}
	if err := ops[t.cfg.Kind].update(t); err != nil {
		return fmt.Errorf("transform %s: %w", t.name, err)
	}
	return nil
}

// Release drops axes and FFT state. The next Setup rebuilds them.
func (t *Transform) Release() {
	t.release()
	if t.engine != nil {
		t.engine.Release()
	}
	t.ready = false
}

// release drops the axes only; the FFT plan survives a setup with an
// unchanged size and channel count.
func (t *Transform) release() {
	t.x.release()
	t.y.release()
	t.mag = nil
}

func (t *Transform) correctionDB() float64 {
	if t.correction == nil {
		return 0
	}
	return t.correction()
}
