// Package config loads the configuration of the algo-scope command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ALGO_SCOPE_LOG_LEVEL.
const EnvPrefix = "ALGO_SCOPE"

// Config is the full configuration.
type Config struct {
	LogLevel     string        `mapstructure:"log_level" yaml:"log_level"`
	CorrectionDB float64       `mapstructure:"correction_db" yaml:"correction_db"`
	WindowCorr   bool          `mapstructure:"window_correction" yaml:"window_correction"`
	Capture      CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Plots        []PlotConfig  `mapstructure:"plots" yaml:"plots"`
	Sink         SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Record       RecordConfig  `mapstructure:"record" yaml:"record"`
	Status       StatusConfig  `mapstructure:"status" yaml:"status"`
}

// CaptureConfig selects the source and the devices.
type CaptureConfig struct {
	Source  string         `mapstructure:"source" yaml:"source"` // synth or node
	Tick    time.Duration  `mapstructure:"tick" yaml:"tick"`
	Devices []DeviceConfig `mapstructure:"devices" yaml:"devices"`
}

// DeviceConfig describes one device.
type DeviceConfig struct {
	Name       string          `mapstructure:"name" yaml:"name"`
	Node       string          `mapstructure:"node" yaml:"node,omitempty"`
	SampleRate float64         `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   []ChannelConfig `mapstructure:"channels" yaml:"channels"`
	Tones      []ToneConfig    `mapstructure:"tones" yaml:"tones,omitempty"`
	Noise      float64         `mapstructure:"noise" yaml:"noise,omitempty"`
}

// ChannelConfig describes one channel.
type ChannelConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Width   int    `mapstructure:"width" yaml:"width"`
	Bits    int    `mapstructure:"bits" yaml:"bits"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ToneConfig adds a tone to a synthetic channel. With Q set the tone is a
// complex exponential on the pair (Channel, Q).
type ToneConfig struct {
	Channel   string  `mapstructure:"channel" yaml:"channel"`
	Q         string  `mapstructure:"q" yaml:"q,omitempty"`
	Frequency float64 `mapstructure:"frequency" yaml:"frequency"`
	Amplitude float64 `mapstructure:"amplitude" yaml:"amplitude"`
}

// PlotConfig is one plot and its transforms.
type PlotConfig struct {
	Name       string            `mapstructure:"name" yaml:"name"`
	Transforms []TransformConfig `mapstructure:"transforms" yaml:"transforms"`
}

// TransformConfig is one transform of a plot.
type TransformConfig struct {
	Name        string   `mapstructure:"name" yaml:"name"`
	Kind        string   `mapstructure:"kind" yaml:"kind"`
	Device      string   `mapstructure:"device" yaml:"device"`
	Channels    []string `mapstructure:"channels" yaml:"channels"`
	Samples     int      `mapstructure:"samples" yaml:"samples,omitempty"`
	FFTSize     int      `mapstructure:"fft_size" yaml:"fft_size,omitempty"`
	Average     uint     `mapstructure:"average" yaml:"average"`
	PowerOffset float64  `mapstructure:"power_offset" yaml:"power_offset,omitempty"`
	MarkerMode  string   `mapstructure:"marker_mode" yaml:"marker_mode,omitempty"`
	Markers     int      `mapstructure:"markers" yaml:"markers,omitempty"`
	MarkerBins  []int    `mapstructure:"marker_bins" yaml:"marker_bins,omitempty"` // fixed mode positions
	Inverse     bool     `mapstructure:"inverse" yaml:"inverse,omitempty"`
	Multiply    *float64 `mapstructure:"multiply" yaml:"multiply,omitempty"`
	Add         *float64 `mapstructure:"add" yaml:"add,omitempty"`
}

// SinkConfig configures the WebSocket plot stream.
type SinkConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	Path   string `mapstructure:"path" yaml:"path"`
	Queue  int    `mapstructure:"queue" yaml:"queue"`
}

// RecordConfig configures marker recording. An empty path disables it.
type RecordConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Batch int    `mapstructure:"batch" yaml:"batch"`
}

// StatusConfig configures the status worker.
type StatusConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// SetDefaults registers the scalar defaults on v so that environment
// overrides resolve for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("correction_db", 0.0)
	v.SetDefault("window_correction", false)

	v.SetDefault("capture.source", "synth")
	v.SetDefault("capture.tick", "50ms")

	v.SetDefault("sink.listen", ":8080")
	v.SetDefault("sink.path", "/ws")
	v.SetDefault("sink.queue", 64)

	v.SetDefault("record.path", "")
	v.SetDefault("record.batch", 1024)

	v.SetDefault("status.interval", "1s")
}

// Default returns the built-in configuration: a synthetic two-channel
// device with a tone, a time plot and a spectrum plot with peak markers.
func Default() Config {
	return Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			Source: "synth",
			Tick:   50 * time.Millisecond,
			Devices: []DeviceConfig{{
				Name:       "adc",
				SampleRate: 1e6,
				Channels: []ChannelConfig{
					{Name: "voltage0", Width: 2, Bits: 12, Enabled: true},
					{Name: "voltage1", Width: 2, Bits: 12, Enabled: true},
				},
				Tones: []ToneConfig{{Channel: "voltage0", Q: "voltage1", Frequency: 125e3, Amplitude: 0.5}},
				Noise: 1e-3,
			}},
		},
		Plots: []PlotConfig{
			{Name: "time", Transforms: []TransformConfig{
				{Name: "time0", Kind: "time", Device: "adc", Channels: []string{"voltage0"}, Samples: 400},
			}},
			{Name: "spectrum", Transforms: []TransformConfig{
				{
					Name: "fft0", Kind: "complex_fft", Device: "adc",
					Channels: []string{"voltage0", "voltage1"},
					FFTSize:  1024, Average: 0, MarkerMode: "peak", Markers: 3,
				},
			}},
		},
		Sink:   SinkConfig{Listen: ":8080", Path: "/ws", Queue: 64},
		Record: RecordConfig{Batch: 1024},
		Status: StatusConfig{Interval: time.Second},
	}
}

// NewViper returns a viper instance reading file, or searching the usual
// locations for algo-scope.yaml when file is empty. A missing config file
// is not an error.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("algo-scope")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "algo-scope"))
		}
		v.AddConfigPath("/etc/algo-scope")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}
	return v, nil
}

// Load decodes v and validates the result. Scalars fall back to the viper
// defaults; devices and plots fall back to Default as a whole when the
// configuration names none.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	def := Default()
	if len(cfg.Capture.Devices) == 0 {
		cfg.Capture.Devices = def.Capture.Devices
	}
	if len(cfg.Plots) == 0 {
		cfg.Plots = def.Plots
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks references between sections. Transform settings are
// validated when the transforms are built.
func (c Config) Validate() error {
	switch c.Capture.Source {
	case "synth", "node":
	default:
		return fmt.Errorf("config: unknown capture source %q", c.Capture.Source)
	}
	if c.Capture.Tick <= 0 {
		return fmt.Errorf("config: capture tick must be positive, got %s", c.Capture.Tick)
	}

	devices := make(map[string]DeviceConfig, len(c.Capture.Devices))
	for _, d := range c.Capture.Devices {
		if d.Name == "" {
			return errors.New("config: device without name")
		}
		if _, dup := devices[d.Name]; dup {
			return fmt.Errorf("config: duplicate device %q", d.Name)
		}
		if c.Capture.Source == "node" && d.Node == "" {
			return fmt.Errorf("config: device %s: node source needs a node path", d.Name)
		}
		devices[d.Name] = d
	}

	plots := make(map[string]bool, len(c.Plots))
	for _, p := range c.Plots {
		if plots[p.Name] {
			return fmt.Errorf("config: duplicate plot %q", p.Name)
		}
		plots[p.Name] = true
		for _, t := range p.Transforms {
			d, ok := devices[t.Device]
			if !ok {
				return fmt.Errorf("config: plot %s transform %s: unknown device %q", p.Name, t.Name, t.Device)
			}
			for _, ch := range t.Channels {
				if !hasChannel(d, ch) {
					return fmt.Errorf("config: plot %s transform %s: device %s has no channel %q",
						p.Name, t.Name, d.Name, ch)
				}
			}
		}
	}
	return nil
}

func hasChannel(d DeviceConfig, name string) bool {
	for _, ch := range d.Channels {
		if ch.Name == name {
			return true
		}
	}
	return false
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
