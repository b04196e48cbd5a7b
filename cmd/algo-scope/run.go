package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-scope/internal/config"
	"github.com/cwbudde/algo-scope/record"
	"github.com/cwbudde/algo-scope/scope"
	"github.com/cwbudde/algo-scope/sink/wsplot"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture, transform and stream plots until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, a.cfg, a.log)
		},
	}

	cmd.Flags().String("listen", ":8080", "WebSocket listen address")
	cmd.Flags().String("record", "", "record markers to this parquet file")
	cmd.Flags().String("tick", "50ms", "capture tick interval")
	cmd.Flags().String("source", "synth", "capture source (synth, node)")

	return cmd
}

// run drives one capture session until ctx is done.
func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	c, err := buildCapture(cfg.Capture)
	if err != nil {
		return err
	}

	hub := wsplot.NewHub(wsplot.WithLogger(log), wsplot.WithQueue(cfg.Sink.Queue))
	defer hub.Close()

	var sess *scope.Session
	opts := []scope.Option{
		scope.WithLogger(log),
		scope.WithTick(cfg.Capture.Tick),
		scope.WithSink(hub),
		scope.WithMarkerSink(hub),
		scope.WithStatus(scope.StatusFunc(func(context.Context) (scope.Status, error) {
			return sessionStatus(sess, hub), nil
		}), cfg.Status.Interval),
		scope.OnStatus(func(st scope.Status) {
			log.Debug("status", zap.Any("status", st))
		}),
	}

	if cfg.Record.Path != "" {
		rec, err := record.Create(cfg.Record.Path,
			record.WithBatch(cfg.Record.Batch),
			record.WithMetadata("source", cfg.Capture.Source),
			record.WithLogger(log))
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Error("closing marker record", zap.Error(err))
			}
		}()
		opts = append(opts, scope.WithMarkerSink(rec))
	}

	sess, err = buildSession(cfg, c, opts...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Sink.Path, hub)
	srv := &http.Server{Addr: cfg.Sink.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("serving plots", zap.String("addr", srv.Addr), zap.String("path", cfg.Sink.Path))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer cancel()
		err := sess.Run(ctx)
		log.Info("capture finished", zap.Any("stats", sess.Stats()))
		return err
	})

	return g.Wait()
}

// sessionStatus reports the activity counters of the running session.
func sessionStatus(s *scope.Session, hub *wsplot.Hub) scope.Status {
	if s == nil {
		return nil
	}
	st := s.Stats()
	out := scope.Status{
		"ticks":       strconv.FormatUint(st.Ticks, 10),
		"skipped":     strconv.FormatUint(st.SkippedDevices, 10),
		"interrupted": strconv.FormatUint(st.Interrupted, 10),
		"quiesced":    strconv.Itoa(st.Quiesced),
		"published":   strconv.FormatInt(s.Published(), 10),
		"clients":     strconv.Itoa(hub.Clients()),
		"dropped":     strconv.FormatUint(hub.Dropped(), 10),
	}
	return out
}
