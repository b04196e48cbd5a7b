package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/algo-scope/dsp/marker"
	"github.com/cwbudde/algo-scope/internal/config"
	"github.com/cwbudde/algo-scope/scope"
	"github.com/cwbudde/algo-scope/transform"
)

type markerLog map[string][]marker.Marker

func (m markerLog) Markers(name string, _ time.Time, mk []marker.Marker) {
	m[name] = append([]marker.Marker(nil), mk...)
}

func TestBuildDefaultSession(t *testing.T) {
	cfg := config.Default()
	cfg.Capture.Devices[0].Noise = 0

	c, err := buildCapture(cfg.Capture)
	if err != nil {
		t.Fatalf("buildCapture: %v", err)
	}

	rendered := map[string]int{}
	markers := markerLog{}
	s, err := buildSession(cfg, c,
		scope.WithSink(scope.SinkFunc(func(name string, x, y []float64) { rendered[name] = len(y) })),
		scope.WithMarkerSink(markers))
	if err != nil {
		t.Fatalf("buildSession: %v", err)
	}
	if got := s.Plots(); len(got) != 2 {
		t.Fatalf("plots=%v", got)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Release()
	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if rendered["time0"] != 400 || rendered["fft0"] != 1024 {
		t.Fatalf("rendered=%v", rendered)
	}

	// 125 kHz of 1 MHz on a centered 1024-point spectrum.
	mk := markers["fft0"]
	if len(mk) != 3 || mk[0].Bin != 640 {
		t.Fatalf("markers=%+v", mk)
	}
	if mode, err := s.MarkerMode("adc"); err != nil || mode != marker.ModePeak {
		t.Fatalf("MarkerMode=%v, %v", mode, err)
	}
}

func TestTransformConfig(t *testing.T) {
	cfg := config.Default()
	c, err := buildCapture(cfg.Capture)
	if err != nil {
		t.Fatalf("buildCapture: %v", err)
	}

	two := 2.0
	tests := []struct {
		name  string
		tc    config.TransformConfig
		check func(t *testing.T, got transform.Config)
		want  error
	}{
		{
			name: "time with post-processing",
			tc: config.TransformConfig{
				Kind: "time", Device: "adc", Channels: []string{"voltage0"},
				Samples: 64, Inverse: true, Multiply: &two,
			},
			check: func(t *testing.T, got transform.Config) {
				if !got.Time.Inverse || !got.Time.Multiply || got.Time.MultiplyBy != 2 || got.Time.Add {
					t.Fatalf("time=%+v", got.Time)
				}
			},
		},
		{
			name: "fft defaults to one marker",
			tc: config.TransformConfig{
				Kind: "fft", Device: "adc", Channels: []string{"voltage0"},
				FFTSize: 256, Average: 4, MarkerMode: "one-tone",
			},
			check: func(t *testing.T, got transform.Config) {
				if got.FFT.Size != 256 || got.FFT.Average != 4 {
					t.Fatalf("fft=%+v", got.FFT)
				}
				if got.FFT.Markers == nil || got.FFT.Markers.Count() != 1 ||
					got.FFT.Markers.Mode() != marker.ModeOneTone {
					t.Fatalf("markers=%+v", got.FFT.Markers)
				}
			},
		},
		{
			name: "fixed bins activate markers",
			tc: config.TransformConfig{
				Kind: "fft", Device: "adc", Channels: []string{"voltage0"},
				FFTSize: 256, MarkerMode: "fixed", MarkerBins: []int{5, 40},
			},
			check: func(t *testing.T, got transform.Config) {
				tr := got.FFT.Markers
				if tr == nil || tr.Mode() != marker.ModeFixed || tr.Count() != 2 {
					t.Fatalf("markers=%+v", tr)
				}
				mk := tr.Markers()
				if mk[0].Bin != 5 || mk[1].Bin != 40 {
					t.Fatalf("bins=%d,%d want 5,40", mk[0].Bin, mk[1].Bin)
				}
			},
		},
		{
			name: "unknown kind",
			tc:   config.TransformConfig{Kind: "waterfall", Device: "adc"},
			want: transform.ErrUnknownKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transformConfig(tt.tc, c)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Fatalf("err=%v want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("transformConfig: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestBuildRejectsBadReferences(t *testing.T) {
	cfg := config.Default()

	bad := cfg
	bad.Capture.Devices = nil
	if _, err := buildCapture(bad.Capture); !errors.Is(err, errNoDevices) {
		t.Fatalf("no devices: err=%v", err)
	}

	c, err := buildCapture(cfg.Capture)
	if err != nil {
		t.Fatalf("buildCapture: %v", err)
	}

	plots := []config.PlotConfig{{Name: "p", Transforms: []config.TransformConfig{
		{Name: "a", Kind: "fft", Device: "adc", Channels: []string{"voltage0"}, FFTSize: 100},
	}}}
	var ce *transform.ConfigError
	if _, err := buildPlots(plots, c, nil); !errors.As(err, &ce) || ce.Field != "fft size" {
		t.Fatalf("bad size: err=%v", err)
	}
}

func TestWindowCorrectionFromPlots(t *testing.T) {
	cfg := config.Default()
	got, err := windowCorrection(cfg.Plots)
	if err != nil {
		t.Fatalf("windowCorrection: %v", err)
	}
	want, _ := scope.WindowCorrection(1024)
	if got != want || got >= 0 {
		t.Fatalf("got %v want %v", got, want)
	}
}
