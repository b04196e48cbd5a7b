package main

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-scope/capture"
	"github.com/cwbudde/algo-scope/dsp/marker"
	"github.com/cwbudde/algo-scope/dsp/spectrum"
	"github.com/cwbudde/algo-scope/internal/config"
	"github.com/cwbudde/algo-scope/scope"
	"github.com/cwbudde/algo-scope/transform"
)

// synthSeed keeps synthetic noise reproducible between runs.
const synthSeed = 1

var errNoDevices = errors.New("no capture devices configured")

// buildCapture creates the devices and the source described by cfg.
func buildCapture(cfg config.CaptureConfig) (*capture.Capture, error) {
	if len(cfg.Devices) == 0 {
		return nil, errNoDevices
	}

	devices := make([]*capture.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		chans := make([]*capture.Channel, 0, len(dc.Channels))
		for _, cc := range dc.Channels {
			chans = append(chans, &capture.Channel{
				Name:    cc.Name,
				Width:   cc.Width,
				Bits:    cc.Bits,
				Enabled: cc.Enabled,
			})
		}
		devices = append(devices, capture.NewDevice(dc.Name, dc.SampleRate, chans...))
	}

	switch cfg.Source {
	case "node":
		paths := make(map[string]string, len(cfg.Devices))
		for _, dc := range cfg.Devices {
			paths[dc.Name] = dc.Node
		}
		return capture.New(capture.NewDeviceNode(paths), devices...), nil

	case "synth":
		synth, err := buildSynth(cfg.Devices, devices)
		if err != nil {
			return nil, err
		}
		return capture.New(synth, devices...), nil

	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Source)
	}
}

func buildSynth(cfgs []config.DeviceConfig, devices []*capture.Device) (*capture.Synth, error) {
	noise := 0.0
	for _, dc := range cfgs {
		noise = max(noise, dc.Noise)
	}

	var opts []capture.SynthOption
	if noise > 0 {
		opts = append(opts, capture.WithNoise(noise, synthSeed))
	}
	synth := capture.NewSynth(opts...)

	for k, dc := range cfgs {
		dev := devices[k]
		for _, tc := range dc.Tones {
			i, err := dev.Channel(tc.Channel)
			if err != nil {
				return nil, err
			}
			if tc.Q == "" {
				synth.AddTone(i, capture.Tone{Frequency: tc.Frequency, Amplitude: tc.Amplitude})
				continue
			}
			q, err := dev.Channel(tc.Q)
			if err != nil {
				return nil, err
			}
			synth.AddIQTone(i, q, tc.Frequency, tc.Amplitude)
		}
	}
	return synth, nil
}

// buildPlots creates one transform list per configured plot.
func buildPlots(plots []config.PlotConfig, c *capture.Capture, opts []transform.Option) ([]*transform.List, error) {
	lists := make([]*transform.List, 0, len(plots))
	for _, pc := range plots {
		l := transform.NewList(pc.Name)
		for _, tc := range pc.Transforms {
			t, err := buildTransform(tc, c, opts)
			if err != nil {
				return nil, fmt.Errorf("plot %s: %w", pc.Name, err)
			}
			if err := l.Add(t); err != nil {
				return nil, fmt.Errorf("plot %s: %w", pc.Name, err)
			}
		}
		lists = append(lists, l)
	}
	return lists, nil
}

func buildTransform(tc config.TransformConfig, c *capture.Capture, opts []transform.Option) (*transform.Transform, error) {
	cfg, err := transformConfig(tc, c)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", tc.Name, err)
	}
	t, err := transform.New(tc.Name, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", tc.Name, err)
	}
	return t, nil
}

func transformConfig(tc config.TransformConfig, c *capture.Capture) (transform.Config, error) {
	kind, err := transform.ParseKind(tc.Kind)
	if err != nil {
		return transform.Config{}, err
	}

	dev, err := c.Device(tc.Device)
	if err != nil {
		return transform.Config{}, err
	}
	inputs := make([]transform.Input, 0, len(tc.Channels))
	for _, name := range tc.Channels {
		ch, err := dev.Channel(name)
		if err != nil {
			return transform.Config{}, err
		}
		inputs = append(inputs, ch)
	}

	cfg := transform.Config{Kind: kind, Inputs: inputs, Samples: tc.Samples}

	if kind.Spectral() {
		cfg.FFT = transform.FFTSettings{
			Size:        tc.FFTSize,
			Average:     spectrum.Averaging(tc.Average),
			PowerOffset: tc.PowerOffset,
		}
		if tc.MarkerMode != "" {
			mode, err := marker.ParseMode(tc.MarkerMode)
			if err != nil {
				return transform.Config{}, err
			}
			tr := marker.NewTracker(mode, max(tc.Markers, len(tc.MarkerBins), 1))
			for j, bin := range tc.MarkerBins {
				if err := tr.SetBin(j, bin); err != nil {
					return transform.Config{}, err
				}
			}
			cfg.FFT.Markers = tr
		}
		return cfg, nil
	}

	cfg.Time.Inverse = tc.Inverse
	if tc.Multiply != nil {
		cfg.Time.Multiply, cfg.Time.MultiplyBy = true, *tc.Multiply
	}
	if tc.Add != nil {
		cfg.Time.Add, cfg.Time.AddValue = true, *tc.Add
	}
	return cfg, nil
}

// buildSession wires capture and plots into a session.
func buildSession(cfg config.Config, c *capture.Capture, opts ...scope.Option) (*scope.Session, error) {
	s := scope.New(c, opts...)

	corr := cfg.CorrectionDB
	if cfg.WindowCorr {
		wc, err := windowCorrection(cfg.Plots)
		if err != nil {
			return nil, err
		}
		corr += wc
	}
	s.SetCorrection(corr)

	lists, err := buildPlots(cfg.Plots, c, s.TransformOptions())
	if err != nil {
		return nil, err
	}
	for _, l := range lists {
		if err := s.AddPlot(l); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// windowCorrection returns the Hann correction of the first spectrum plot.
// The correction is global, so mixed FFT sizes share it.
func windowCorrection(plots []config.PlotConfig) (float64, error) {
	for _, p := range plots {
		for _, t := range p.Transforms {
			kind, err := transform.ParseKind(t.Kind)
			if err == nil && kind.Spectral() {
				return scope.WindowCorrection(t.FFTSize)
			}
		}
	}
	return 0, nil
}
