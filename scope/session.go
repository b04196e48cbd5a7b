// Package scope runs the capture loop of an oscilloscope session: one tick
// refills every device, updates every plot's transforms in order and hands
// the axes to the sinks. A session replaces the process-wide plot list,
// capture flag and correction scalar with one explicit object.
package scope

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-scope/capture"
	"github.com/cwbudde/algo-scope/dsp/marker"
	"github.com/cwbudde/algo-scope/dsp/spectrum"
	"github.com/cwbudde/algo-scope/dsp/window"
	"github.com/cwbudde/algo-scope/transform"
)

// Errors returned by Session.
var (
	ErrUnknownPlot      = errors.New("scope: unknown plot")
	ErrUnknownTransform = errors.New("scope: unknown transform")
	ErrNoSpectrum       = errors.New("scope: no spectrum plot for device")
	ErrNoMarkers        = errors.New("scope: transform has no markers")
	ErrNotCaptured      = errors.New("scope: device is not captured")
)

// Session owns the plots of one capture.
//
// All plot state is guarded by the UI lock. A tick holds it for the whole
// cycle; the status worker and the public methods take it briefly. Stop is
// the one method that does not wait for the lock, so it can cut a tick
// short.
type Session struct {
	cfg     config
	log     *zap.Logger
	capture *capture.Capture

	ui        sync.Mutex
	plots     []*transform.List
	dirty     bool
	quiesced  map[*transform.Transform]bool
	status    Status
	stats     Stats
	corrBits  atomic.Uint64
	published atomic.Int64
}

// Stats counts session activity.
type Stats struct {
	Ticks          uint64
	SkippedDevices uint64
	Interrupted    uint64
	Quiesced       int
}

// New returns a session driving c.
func New(c *capture.Capture, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Session{
		cfg:      cfg,
		log:      cfg.log,
		capture:  c,
		quiesced: make(map[*transform.Transform]bool),
	}
}

// Capture returns the capture driven by the session.
func (s *Session) Capture() *capture.Capture { return s.capture }

// SetCorrection sets the dB correction added to every spectrum bin. It may
// be called at any time.
func (s *Session) SetCorrection(db float64) {
	s.corrBits.Store(math.Float64bits(db))
}

// Correction returns the current dB correction.
func (s *Session) Correction() float64 {
	return math.Float64frombits(s.corrBits.Load())
}

// WindowCorrection returns the noise bandwidth correction of the Hann window
// of length n, suitable for SetCorrection.
func WindowCorrection(n int) (float64, error) {
	w, err := window.Hann(n)
	if err != nil {
		return 0, err
	}
	return window.CorrectionDB(w)
}

// TransformOptions returns the options a transform needs to follow the
// session, currently the correction input.
func (s *Session) TransformOptions() []transform.Option {
	return []transform.Option{transform.WithCorrection(s.Correction)}
}

// AddPlot registers a plot. Its depth requests take effect at the next
// tick.
func (s *Session) AddPlot(l *transform.List) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	for _, p := range s.plots {
		if p.Name() == l.Name() {
			return fmt.Errorf("scope: plot %q already exists", l.Name())
		}
	}
	s.plots = append(s.plots, l)
	s.dirty = true
	return nil
}

// RemovePlot drops a plot and its depth requests.
func (s *Session) RemovePlot(name string) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	for i, p := range s.plots {
		if p.Name() != name {
			continue
		}
		releasePlot(p)
		for _, dev := range s.capture.Devices() {
			dev.ReleaseDepth(name)
		}
		s.plots = append(s.plots[:i], s.plots[i+1:]...)
		s.dirty = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownPlot, name)
}

// Plots returns the registered plot names in order.
func (s *Session) Plots() []string {
	s.ui.Lock()
	defer s.ui.Unlock()

	out := make([]string, len(s.plots))
	for i, p := range s.plots {
		out[i] = p.Name()
	}
	return out
}

// Configure replaces the configuration of one transform. An invalid
// configuration is returned as *transform.ConfigError and changes nothing;
// a valid one is set up at the next tick.
func (s *Session) Configure(plot, name string, cfg transform.Config) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	t, err := s.find(plot, name)
	if err != nil {
		return err
	}
	if err := t.Configure(cfg); err != nil {
		return err
	}
	s.dirty = true
	return nil
}

// Start sets up capture and every plot.
func (s *Session) Start() error {
	s.ui.Lock()
	defer s.ui.Unlock()
	return s.setup()
}

// Stop halts capture. It closes the device handles so an in-flight refill
// returns, and the current tick skips its remaining updates. It is safe to
// call from any goroutine.
func (s *Session) Stop() error {
	err := s.capture.Stop()
	s.log.Info("capture stopped")
	return err
}

// Running reports whether capture is running.
func (s *Session) Running() bool {
	return s.capture.Running()
}

// Release frees every buffer after Stop. Pending marker and raw snapshot
// requests return ErrInterrupted.
func (s *Session) Release() {
	s.ui.Lock()
	defer s.ui.Unlock()
	s.release()
}

func (s *Session) release() {
	for _, p := range s.plots {
		releasePlot(p)
	}
	s.capture.Release()
	s.dirty = true
}

// releasePlot frees the buffers of p and interrupts marker snapshot
// requests that would otherwise wait for a detection that never comes.
func releasePlot(p *transform.List) {
	for _, t := range p.All() {
		if tr := t.Markers(); tr != nil {
			tr.Handoff().Interrupt()
		}
	}
	p.Release()
}

// setup re-derives the depth of every device, reallocates the sample
// buffers and sets up every transform. Allocation failures quiesce single
// transforms and are logged once.
func (s *Session) setup() error {
	for _, p := range s.plots {
		depths := make(map[*capture.Device]int)
		for _, t := range p.All() {
			for _, dev := range devicesOf(t) {
				if d := t.Config().Depth(); d > depths[dev] {
					depths[dev] = d
				}
			}
		}
		for _, dev := range s.capture.Devices() {
			dev.RequestDepth(p.Name(), depths[dev])
		}
	}

	if err := s.capture.Setup(); err != nil {
		return fmt.Errorf("scope: capture setup: %w", err)
	}

	for _, p := range s.plots {
		if err := p.Setup(); err != nil {
			s.quiesce(p, err)
		}
	}

	s.dirty = false
	s.log.Info("capture started",
		zap.Int("devices", len(s.capture.Devices())),
		zap.Int("plots", len(s.plots)))
	return nil
}

func (s *Session) quiesce(p *transform.List, err error) {
	for _, t := range p.All() {
		if t.Disabled() == nil || s.quiesced[t] {
			continue
		}
		s.quiesced[t] = true
		s.stats.Quiesced++
		s.log.Error("transform disabled",
			zap.String("plot", p.Name()),
			zap.String("transform", t.Name()),
			zap.Error(t.Disabled()))
	}
	if !errors.As(err, new(*transform.AllocationError)) {
		s.log.Error("plot setup failed", zap.String("plot", p.Name()), zap.Error(err))
	}
}

// Tick runs one capture cycle: a refill and demux of every device followed
// by the update of every transform whose devices were refreshed. It returns
// capture.ErrStopped when capture is not running or was stopped during the
// cycle.
func (s *Session) Tick(ctx context.Context) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	if s.dirty && s.capture.Running() {
		if err := s.setup(); err != nil {
			return err
		}
	}
	if !s.capture.Running() {
		return capture.ErrStopped
	}

	s.stats.Ticks++

	err := s.capture.Refill(ctx)
	if errors.Is(err, capture.ErrStopped) {
		s.stats.Interrupted++
		s.log.Debug("tick interrupted by stop")
		return err
	}
	if err != nil {
		for _, se := range sourceErrors(err) {
			s.stats.SkippedDevices++
			s.log.Debug("device skipped", zap.String("device", se.Device), zap.Error(se.Err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	now := s.cfg.now()
	skip := func(t *transform.Transform) bool {
		for _, dev := range devicesOf(t) {
			if !s.capture.Fresh(dev) {
				return true
			}
		}
		return false
	}
	done := func(t *transform.Transform) bool {
		if !s.capture.Running() {
			return false
		}
		s.publish(t, now)
		return true
	}

	for _, p := range s.plots {
		if !s.capture.Running() {
			s.stats.Interrupted++
			return capture.ErrStopped
		}
		if err := p.Update(skip, done); err != nil {
			s.log.Debug("transform update failed", zap.String("plot", p.Name()), zap.Error(err))
		}
	}
	return nil
}

func (s *Session) publish(t *transform.Transform, now time.Time) {
	x, y := t.X(), t.Y()
	for _, sink := range s.cfg.sinks {
		sink.Render(t.Name(), x, y)
	}
	if tr := t.Markers(); tr != nil && tr.Mode() != marker.ModeOff && len(s.cfg.markerSinks) > 0 {
		mk := tr.Markers()[:tr.Count()]
		for _, ms := range s.cfg.markerSinks {
			ms.Markers(t.Name(), now, mk)
		}
	}
	s.published.Add(1)
}

// Run starts capture if needed and ticks until ctx is done or capture is
// stopped. The status worker, when configured, runs alongside. Buffers are
// released before Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.Running() {
		if err := s.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	loopDone := make(chan struct{})

	g.Go(func() error {
		defer close(loopDone)
		defer s.Release()

		ticker := time.NewTicker(s.cfg.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				_ = s.Stop()
				return nil
			case <-ticker.C:
				err := s.Tick(ctx)
				if errors.Is(err, capture.ErrStopped) {
					return nil
				}
				if err != nil && ctx.Err() == nil {
					return err
				}
			}
		}
	})

	if s.cfg.status != nil {
		g.Go(func() error {
			return s.pollStatus(ctx, loopDone)
		})
	}

	return g.Wait()
}

// Stats returns a copy of the activity counters.
func (s *Session) Stats() Stats {
	s.ui.Lock()
	defer s.ui.Unlock()
	return s.stats
}

// Published returns how many transform updates reached the sinks.
func (s *Session) Published() int64 {
	return s.published.Load()
}

func (s *Session) find(plot, name string) (*transform.Transform, error) {
	for _, p := range s.plots {
		if p.Name() != plot {
			continue
		}
		if t := p.Find(name); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownTransform, plot, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPlot, plot)
}

// spectrumFor returns the first spectrum transform reading dev.
func (s *Session) spectrumFor(dev string) (*transform.Transform, error) {
	for _, p := range s.plots {
		for _, t := range p.All() {
			if !t.Kind().Spectral() {
				continue
			}
			for _, d := range devicesOf(t) {
				if d.Name == dev {
					return t, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSpectrum, dev)
}

// MarkerMode returns the marker mode of the first spectrum plot of dev.
func (s *Session) MarkerMode(dev string) (marker.Mode, error) {
	s.ui.Lock()
	defer s.ui.Unlock()

	t, err := s.spectrumFor(dev)
	if err != nil {
		return marker.ModeOff, err
	}
	if t.Markers() == nil {
		return marker.ModeOff, nil
	}
	return t.Markers().Mode(), nil
}

// SetMarkerMode changes the marker mode of the first spectrum plot of dev.
// Image markers on a real spectrum are rejected with *transform.ConfigError.
func (s *Session) SetMarkerMode(dev string, mode marker.Mode) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	t, err := s.spectrumFor(dev)
	if err != nil {
		return err
	}
	tr := t.Markers()
	if tr == nil {
		return fmt.Errorf("%w: %s", ErrNoMarkers, t.Name())
	}
	if mode.NeedsIQ() && t.Kind() != transform.KindComplexFFT {
		return &transform.ConfigError{Field: "marker mode", Value: mode, Err: transform.ErrImageNeedsIQ}
	}
	tr.SetMode(mode)
	return nil
}

// SetMarkerBin pins marker j of the first spectrum plot of dev to bin. It
// is used by the fixed marker mode.
func (s *Session) SetMarkerBin(dev string, j, bin int) error {
	s.ui.Lock()
	defer s.ui.Unlock()

	t, err := s.spectrumFor(dev)
	if err != nil {
		return err
	}
	tr := t.Markers()
	if tr == nil {
		return fmt.Errorf("%w: %s", ErrNoMarkers, t.Name())
	}
	return tr.SetBin(j, bin)
}

// FFTAverage returns the averaging of the first spectrum plot of dev.
func (s *Session) FFTAverage(dev string) (spectrum.Averaging, error) {
	s.ui.Lock()
	defer s.ui.Unlock()

	t, err := s.spectrumFor(dev)
	if err != nil {
		return 0, err
	}
	return t.Config().FFT.Average, nil
}

// MarkerSnapshot blocks until the next detection of the named transform and
// copies its marker set into dst.
func (s *Session) MarkerSnapshot(ctx context.Context, plot, name string, dst []marker.Marker) (int, error) {
	s.ui.Lock()
	t, err := s.find(plot, name)
	s.ui.Unlock()
	if err != nil {
		return 0, err
	}

	tr := t.Markers()
	if tr == nil {
		return 0, fmt.Errorf("%w: %s", ErrNoMarkers, name)
	}
	return tr.Handoff().Request(ctx, dst)
}

// RawSnapshot blocks until the next refill of dev and copies its raw and
// demultiplexed data into dst.
func (s *Session) RawSnapshot(ctx context.Context, dev string, dst *capture.Frame) (int, error) {
	s.ui.Lock()
	d, err := s.capture.Device(dev)
	var buf *capture.SampleBuffer
	if err == nil {
		buf = s.capture.Buffer(d)
	}
	s.ui.Unlock()

	if err != nil {
		return 0, err
	}
	if buf == nil {
		return 0, fmt.Errorf("%w: %s", ErrNotCaptured, dev)
	}
	return buf.Snapshot(ctx, dst)
}

func devicesOf(t *transform.Transform) []*capture.Device {
	var out []*capture.Device
	for _, in := range t.Inputs() {
		ch, ok := in.(*capture.Channel)
		if !ok || ch.Device() == nil {
			continue
		}
		dup := false
		for _, d := range out {
			dup = dup || d == ch.Device()
		}
		if !dup {
			out = append(out, ch.Device())
		}
	}
	return out
}

// sourceErrors lists the per-device failures of a refill. A single failure
// arrives as the *SourceError itself, several as a joined error. The
// SourceError is not unwrapped further since it joins its own causes.
func sourceErrors(err error) []*capture.SourceError {
	if se, ok := err.(*capture.SourceError); ok {
		return []*capture.SourceError{se}
	}

	var out []*capture.SourceError
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range j.Unwrap() {
			var se *capture.SourceError
			if errors.As(e, &se) {
				out = append(out, se)
			}
		}
	}
	return out
}
