package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cwbudde/algo-scope/internal/config"
)

// app carries the state shared by the subcommands once the root has loaded
// the configuration.
type app struct {
	configFile string
	v          *viper.Viper
	cfg        config.Config
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "algo-scope",
		Short: "Oscilloscope capture and transform pipeline",
		Long: `algo-scope reads interleaved samples from capture devices, converts
them into time traces, spectra and constellations, tracks spectrum markers
and streams the results to WebSocket clients.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "",
		"config file (default is $HOME/.config/algo-scope/algo-scope.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(a), newConfigCmd(a), newWininfoCmd())

	return root
}

// load reads the configuration, lets changed flags override it and builds
// the logger.
func (a *app) load(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd, v); err != nil {
		return err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	a.v, a.cfg, a.log = v, cfg, log
	return nil
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"listen":    "sink.listen",
	"record":    "record.path",
	"tick":      "capture.tick",
	"source":    "capture.source",
}

// bindFlags binds the known flags of cmd to their keys. Viper only prefers a
// flag over file and environment when it was set on the command line.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
