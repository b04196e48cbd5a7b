package scope

import (
	"context"
	"errors"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cwbudde/algo-scope/capture"
	"github.com/cwbudde/algo-scope/dsp/fft"
	"github.com/cwbudde/algo-scope/dsp/marker"
	"github.com/cwbudde/algo-scope/dsp/spectrum"
	"github.com/cwbudde/algo-scope/internal/testutil"
	"github.com/cwbudde/algo-scope/transform"
)

const (
	fftSize = 256
	rate    = 256.0
	toneBin = 32
)

type render struct {
	name string
	x, y []float64
}

type recorder struct {
	mu       sync.Mutex
	renders  []render
	markers  map[string][]marker.Marker
	onRender func(name string)
}

func (r *recorder) Render(name string, x, y []float64) {
	r.mu.Lock()
	r.renders = append(r.renders, render{name, append([]float64(nil), x...), append([]float64(nil), y...)})
	fn := r.onRender
	r.mu.Unlock()
	if fn != nil {
		fn(name)
	}
}

func (r *recorder) Markers(name string, at time.Time, mk []marker.Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markers == nil {
		r.markers = make(map[string][]marker.Marker)
	}
	r.markers[name] = append([]marker.Marker(nil), mk...)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.renders))
	for i, rd := range r.renders {
		out[i] = rd.name
	}
	return out
}

func (r *recorder) last(name string) render {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.renders) - 1; i >= 0; i-- {
		if r.renders[i].name == name {
			return r.renders[i]
		}
	}
	return render{}
}

// rig is a session over one synthetic I/Q device with a time plot and a
// spectrum plot.
type rig struct {
	dev     *capture.Device
	i, q    *capture.Channel
	synth   *capture.Synth
	session *Session
	rec     *recorder
	fft     *transform.Transform
	time    *transform.Transform
}

func newRig(t *testing.T, opts ...Option) *rig {
	t.Helper()
	r := &rig{rec: &recorder{}}
	r.i = &capture.Channel{Name: "voltage0", Width: 2, Bits: 12, Enabled: true}
	r.q = &capture.Channel{Name: "voltage1", Width: 2, Bits: 12, Enabled: true}
	r.dev = capture.NewDevice("adc", rate, r.i, r.q)

	r.synth = capture.NewSynth()
	r.synth.AddTone(r.i, capture.Tone{Frequency: toneBin, Amplitude: 0.4})

	opts = append([]Option{WithSink(r.rec), WithMarkerSink(r.rec)}, opts...)
	r.session = New(capture.New(r.synth, r.dev), opts...)

	var err error
	r.time, err = transform.New("time0", transform.Config{
		Kind:    transform.KindTime,
		Inputs:  []transform.Input{r.i},
		Samples: 100,
		Time:    transform.TimeSettings{Multiply: true, MultiplyBy: 2},
	})
	if err != nil {
		t.Fatalf("time transform: %v", err)
	}
	r.fft, err = transform.New("fft0", transform.Config{
		Kind:   transform.KindFFT,
		Inputs: []transform.Input{r.i},
		FFT: transform.FFTSettings{
			Size:    fftSize,
			Average: spectrum.PeakHold,
			Markers: marker.NewTracker(marker.ModePeak, 1),
		},
	}, r.session.TransformOptions()...)
	if err != nil {
		t.Fatalf("fft transform: %v", err)
	}

	timePlot := transform.NewList("time")
	_ = timePlot.Add(r.time)
	fftPlot := transform.NewList("spectrum")
	_ = fftPlot.Add(r.fft)
	for _, p := range []*transform.List{timePlot, fftPlot} {
		if err := r.session.AddPlot(p); err != nil {
			t.Fatalf("AddPlot: %v", err)
		}
	}
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	if err := r.session.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (r *rig) tick(t *testing.T) {
	t.Helper()
	if err := r.session.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
}

func TestTickUpdatesAndRenders(t *testing.T) {
	r := newRig(t)
	r.start(t)

	if got := r.dev.SampleCount(); got != fftSize {
		t.Fatalf("device depth=%d want the largest plot depth %d", got, fftSize)
	}

	r.tick(t)

	names := r.rec.names()
	if len(names) != 2 || names[0] != "time0" || names[1] != "fft0" {
		t.Fatalf("renders=%v want [time0 fft0]", names)
	}

	tm := r.rec.last("time0")
	if len(tm.y) != 100 {
		t.Fatalf("time y len=%d want 100", len(tm.y))
	}
	testutil.RequireNear(t, "time y[0]", tm.y[0], 2*r.i.Data()[0], 0)

	sp := r.rec.last("fft0")
	if len(sp.y) != fftSize/2 {
		t.Fatalf("fft y len=%d want %d", len(sp.y), fftSize/2)
	}
	mk := r.rec.markers["fft0"]
	if len(mk) != 1 || mk[0].Bin != toneBin {
		t.Fatalf("markers=%v want one marker at bin %d", mk, toneBin)
	}
	if st := r.session.Stats(); st.Ticks != 1 || r.session.Published() != 2 {
		t.Fatalf("stats=%+v published=%d", st, r.session.Published())
	}
}

func TestCorrectionAppliesToSpectrum(t *testing.T) {
	r := newRig(t)
	r.start(t)

	r.tick(t)
	before := r.rec.last("fft0").y[toneBin]

	r.session.SetCorrection(3)
	if r.session.Correction() != 3 {
		t.Fatalf("Correction=%v want 3", r.session.Correction())
	}
	r.tick(t)
	after := r.rec.last("fft0").y[toneBin]

	testutil.RequireNear(t, "corrected peak", after-before, 3, 1e-9)
}

// flakySource fails refills of the named devices.
type flakySource struct {
	*capture.Synth
	fail map[string]bool
}

func (f *flakySource) Refill(ctx context.Context, dev *capture.Device, n int) ([]byte, error) {
	if f.fail[dev.Name] {
		return nil, errors.New("buffer gone")
	}
	return f.Synth.Refill(ctx, dev, n)
}

func TestTickSkipsUnavailableDevice(t *testing.T) {
	tests := []struct {
		name    string
		devices []string
		fail    []string
		healthy []string
	}{
		{"one of two", []string{"good", "bad"}, []string{"bad"}, []string{"good"}},
		{"two of three", []string{"good", "bad", "worse"}, []string{"bad", "worse"}, []string{"good"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &flakySource{Synth: capture.NewSynth(), fail: map[string]bool{}}
			for _, name := range tt.fail {
				src.fail[name] = true
			}

			plot := transform.NewList("p")
			var devices []*capture.Device
			for _, name := range tt.devices {
				ch := &capture.Channel{Name: "v", Width: 2, Bits: 12, Enabled: true}
				devices = append(devices, capture.NewDevice(name, rate, ch))
				tr, err := transform.New(name, transform.Config{
					Kind: transform.KindTime, Inputs: []transform.Input{ch}, Samples: 8,
					Time: transform.TimeSettings{Add: true, AddValue: 1},
				})
				if err != nil {
					t.Fatalf("New: %v", err)
				}
				_ = plot.Add(tr)
			}

			rec := &recorder{}
			s := New(capture.New(src, devices...), WithSink(rec))
			_ = s.AddPlot(plot)
			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}

			if err := s.Tick(context.Background()); err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if names := rec.names(); !slices.Equal(names, tt.healthy) {
				t.Fatalf("renders=%v want %v", names, tt.healthy)
			}
			if st := s.Stats(); st.SkippedDevices != uint64(len(tt.fail)) {
				t.Fatalf("skipped=%d want %d", st.SkippedDevices, len(tt.fail))
			}
		})
	}
}

func TestSourceErrors(t *testing.T) {
	a := &capture.SourceError{Device: "a", Err: errors.New("gone")}
	b := &capture.SourceError{Device: "b", Err: io.ErrUnexpectedEOF}

	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"single", a, []string{"a"}},
		{"joined", errors.Join(a, b), []string{"a", "b"}},
		{"joined single", errors.Join(a), []string{"a"}},
		{"unrelated", errors.New("other"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, se := range sourceErrors(tt.err) {
				got = append(got, se.Device)
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("devices=%v want %v", got, tt.want)
			}
		})
	}
}

func TestStopDuringTickSkipsRemainingUpdates(t *testing.T) {
	r := newRig(t)
	r.rec.onRender = func(name string) {
		if name == "time0" {
			_ = r.session.Stop()
		}
	}
	r.start(t)

	err := r.session.Tick(context.Background())
	if !errors.Is(err, capture.ErrStopped) {
		t.Fatalf("err=%v want ErrStopped", err)
	}
	if names := r.rec.names(); len(names) != 1 {
		t.Fatalf("renders=%v want only the plot before the stop", names)
	}
	if r.session.Running() {
		t.Fatal("session must report stopped")
	}
	if err := r.session.Tick(context.Background()); !errors.Is(err, capture.ErrStopped) {
		t.Fatalf("tick after stop err=%v", err)
	}
}

func TestAllocationFailureLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := newRig(t, WithLogger(zap.New(core)))

	failing := func(int) (fft.Plan, error) { return nil, errors.New("no memory") }
	broken, err := transform.New("broken", transform.Config{
		Kind:   transform.KindFFT,
		Inputs: []transform.Input{r.q},
		FFT:    transform.FFTSettings{Size: 64},
	}, transform.WithPlanner(failing))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p := transform.NewList("broken")
	_ = p.Add(broken)
	_ = r.session.AddPlot(p)

	r.start(t)
	r.tick(t)

	// A reconfiguration triggers a new setup at the next tick.
	cfg := r.time.Config()
	cfg.Samples = 50
	if err := r.session.Configure("time", "time0", cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	r.tick(t)

	if got := logs.FilterMessage("transform disabled").Len(); got != 1 {
		t.Fatalf("disabled logged %d times want 1", got)
	}
	if st := r.session.Stats(); st.Quiesced != 1 {
		t.Fatalf("quiesced=%d want 1", st.Quiesced)
	}
	if len(r.rec.last("time0").y) != 50 {
		t.Fatal("reconfigured plot must render with its new depth")
	}
	for _, n := range r.rec.names() {
		if n == "broken" {
			t.Fatal("disabled transform must not render")
		}
	}
}

func TestConfigureRejectsInvalid(t *testing.T) {
	r := newRig(t)
	cfg := r.fft.Config()
	cfg.FFT.Size = 300

	var ce *transform.ConfigError
	if err := r.session.Configure("spectrum", "fft0", cfg); !errors.As(err, &ce) {
		t.Fatalf("err=%v want ConfigError", err)
	}
	if r.fft.Config().FFT.Size != fftSize {
		t.Fatal("rejected configuration must not apply")
	}
	if err := r.session.Configure("spectrum", "nope", cfg); !errors.Is(err, ErrUnknownTransform) {
		t.Fatalf("err=%v want ErrUnknownTransform", err)
	}
	if err := r.session.Configure("nope", "fft0", cfg); !errors.Is(err, ErrUnknownPlot) {
		t.Fatalf("err=%v want ErrUnknownPlot", err)
	}
}

func TestMarkerModeByDevice(t *testing.T) {
	r := newRig(t)

	mode, err := r.session.MarkerMode("adc")
	if err != nil || mode != marker.ModePeak {
		t.Fatalf("MarkerMode=%v,%v want peak", mode, err)
	}
	if err := r.session.SetMarkerMode("adc", marker.ModeOneTone); err != nil {
		t.Fatalf("SetMarkerMode: %v", err)
	}
	if r.fft.Markers().Mode() != marker.ModeOneTone {
		t.Fatal("mode not applied")
	}
	if err := r.session.SetMarkerMode("adc", marker.ModeImage); !errors.Is(err, transform.ErrImageNeedsIQ) {
		t.Fatalf("err=%v want ErrImageNeedsIQ", err)
	}
	if _, err := r.session.MarkerMode("other"); !errors.Is(err, ErrNoSpectrum) {
		t.Fatalf("err=%v want ErrNoSpectrum", err)
	}

	avg, err := r.session.FFTAverage("adc")
	if err != nil || avg != spectrum.PeakHold {
		t.Fatalf("FFTAverage=%v,%v", avg, err)
	}
}

func TestFixedMarkerBin(t *testing.T) {
	r := newRig(t)
	r.start(t)

	if err := r.session.SetMarkerMode("adc", marker.ModeFixed); err != nil {
		t.Fatalf("SetMarkerMode: %v", err)
	}
	const bin = 10
	if err := r.session.SetMarkerBin("adc", 0, bin); err != nil {
		t.Fatalf("SetMarkerBin: %v", err)
	}
	r.tick(t)

	mk := r.rec.markers["fft0"]
	if len(mk) != 1 || mk[0].Bin != bin {
		t.Fatalf("markers=%v want one marker at bin %d", mk, bin)
	}
	if mk[0].X != r.fft.X()[bin] || mk[0].Y != r.fft.Y()[bin] {
		t.Fatalf("marker=%+v does not sit on bin %d", mk[0], bin)
	}

	if err := r.session.SetMarkerBin("adc", marker.MaxMarkers+1, 0); err == nil {
		t.Fatal("want error for marker index out of range")
	}
	if err := r.session.SetMarkerBin("other", 0, 0); !errors.Is(err, ErrNoSpectrum) {
		t.Fatalf("err=%v want ErrNoSpectrum", err)
	}
}

func TestPlotsAddRemove(t *testing.T) {
	r := newRig(t)
	if got := r.session.Plots(); len(got) != 2 {
		t.Fatalf("Plots=%v", got)
	}
	if err := r.session.AddPlot(transform.NewList("time")); err == nil {
		t.Fatal("duplicate plot must be rejected")
	}

	r.start(t)
	if err := r.session.RemovePlot("spectrum"); err != nil {
		t.Fatalf("RemovePlot: %v", err)
	}
	r.tick(t)
	if got := r.dev.SampleCount(); got != 100 {
		t.Fatalf("depth=%d want 100 after the spectrum plot left", got)
	}
	if err := r.session.RemovePlot("spectrum"); !errors.Is(err, ErrUnknownPlot) {
		t.Fatalf("err=%v want ErrUnknownPlot", err)
	}
}

func TestRunUntilCancelled(t *testing.T) {
	r := newRig(t, WithTick(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.session.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if r.session.Published() == 0 {
		t.Fatal("Run never published")
	}
	if r.session.Running() {
		t.Fatal("capture must be stopped after Run")
	}
	if r.session.Capture().Buffer(r.dev) != nil || r.i.Data() != nil {
		t.Fatal("buffers must be released after Run")
	}
}

func TestRunReturnsOnStop(t *testing.T) {
	r := newRig(t, WithTick(time.Millisecond))
	r.rec.onRender = func(string) { _ = r.session.Stop() }

	errc := make(chan error, 1)
	go func() { errc <- r.session.Run(context.Background()) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestStatusWorkerPublishes(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	reader := StatusFunc(func(context.Context) (Status, error) {
		return Status{"temperature": "41.5"}, nil
	})
	r := newRig(t,
		WithTick(time.Millisecond),
		WithStatus(reader, 2*time.Millisecond),
		OnStatus(func(Status) { mu.Lock(); seen++; mu.Unlock() }),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := r.session.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := r.session.Status()["temperature"]; got != "41.5" {
		t.Fatalf("status=%q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen == 0 {
		t.Fatal("status callback never ran")
	}
}

func TestMarkerSnapshotThroughSession(t *testing.T) {
	r := newRig(t)
	r.start(t)

	dst := make([]marker.Marker, marker.MaxMarkers+1)
	type answer struct {
		n   int
		err error
	}
	got := make(chan answer, 1)
	go func() {
		n, err := r.session.MarkerSnapshot(context.Background(), "spectrum", "fft0", dst)
		got <- answer{n, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !r.fft.Markers().Handoff().Pending() {
		if time.Now().After(deadline) {
			t.Fatal("snapshot request never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	r.tick(t)

	a := <-got
	if a.err != nil || a.n != marker.MaxMarkers+1 {
		t.Fatalf("MarkerSnapshot=%d,%v", a.n, a.err)
	}
	if dst[0].Bin != toneBin || !dst[0].Active || dst[1].Active {
		t.Fatalf("snapshot=%v", dst[:2])
	}

	if _, err := r.session.MarkerSnapshot(context.Background(), "time", "time0", dst); !errors.Is(err, ErrNoMarkers) {
		t.Fatalf("err=%v want ErrNoMarkers", err)
	}
}

func TestReleaseInterruptsMarkerSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		release func(s *Session) error
	}{
		{"stop and release", func(s *Session) error {
			err := s.Stop()
			s.Release()
			return err
		}},
		{"remove plot", func(s *Session) error { return s.RemovePlot("spectrum") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.start(t)

			errc := make(chan error, 1)
			go func() {
				dst := make([]marker.Marker, marker.MaxMarkers+1)
				_, err := r.session.MarkerSnapshot(context.Background(), "spectrum", "fft0", dst)
				errc <- err
			}()

			deadline := time.Now().Add(2 * time.Second)
			for !r.fft.Markers().Handoff().Pending() {
				if time.Now().After(deadline) {
					t.Fatal("snapshot request never arrived")
				}
				time.Sleep(time.Millisecond)
			}

			if err := tt.release(r.session); err != nil {
				t.Fatalf("release: %v", err)
			}

			select {
			case err := <-errc:
				if !errors.Is(err, marker.ErrInterrupted) {
					t.Fatalf("err=%v want ErrInterrupted", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("snapshot request still blocked after release")
			}
		})
	}
}

func TestRawSnapshotThroughSession(t *testing.T) {
	r := newRig(t)
	r.start(t)

	var frame capture.Frame
	errc := make(chan error, 1)
	go func() {
		_, err := r.session.RawSnapshot(context.Background(), "adc", &frame)
		errc <- err
	}()

	// The request is registered asynchronously; keep ticking until served.
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.tick(t)
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("RawSnapshot: %v", err)
			}
			if len(frame.Raw) != fftSize*4 || len(frame.Channels) != 2 {
				t.Fatalf("frame raw=%d channels=%d", len(frame.Raw), len(frame.Channels))
			}
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("raw snapshot never served")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWindowCorrection(t *testing.T) {
	got, err := WindowCorrection(1024)
	if err != nil {
		t.Fatalf("WindowCorrection: %v", err)
	}
	testutil.RequireNear(t, "hann correction", got, 20*math.Log10(1/math.Sqrt(1.5)), 0.01)

	if _, err := WindowCorrection(0); err == nil {
		t.Fatal("expected error for empty window")
	}
}
