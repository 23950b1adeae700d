package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-loopbridge/bridge"
	"github.com/joeycumines/go-loopbridge/internal/config"
	"github.com/joeycumines/go-loopbridge/mainctx"
	"github.com/joeycumines/go-loopbridge/reactor"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const shutdownTimeout = 5 * time.Second

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a bridged main loop until signalled",
		Long: `Run a bridged main loop with a heartbeat timeout source, and a
descriptor source for standard input. The loop stops on SIGINT or SIGTERM,
or once --duration elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			stdin, _ := cmd.InOrStdin().(*os.File)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runMainLoop(ctx, cfg, logger, stdin)
		},
	}

	flags := cmd.Flags()
	flags.Duration("heartbeat", 0, "heartbeat interval")
	flags.Duration("duration", 0, "stop after this long (0 runs until signalled)")
	flags.Bool("watch-stdin", false, "watch standard input")
	flags.Bool("fallback", false, "probe descriptors the poller cannot watch")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	_ = v.BindPFlag("loop.heartbeat", flags.Lookup("heartbeat"))
	_ = v.BindPFlag("loop.duration", flags.Lookup("duration"))
	_ = v.BindPFlag("loop.watch_stdin", flags.Lookup("watch-stdin"))
	_ = v.BindPFlag("loop.fallback", flags.Lookup("fallback"))
	_ = v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	return cmd
}

// runMainLoop runs the main loop on the calling goroutine until ctx is
// cancelled or the configured duration elapses.
func runMainLoop(ctx context.Context, cfg *config.Config, logger *logiface.Logger[logiface.Event], stdin *os.File) (err error) {
	var (
		metrics *bridge.Metrics
		reg     *prometheus.Registry
	)
	if cfg.Metrics.Addr != "" {
		reg = prometheus.NewRegistry()
		if metrics, err = bridge.NewMetrics(reg); err != nil {
			return err
		}
	}

	mctx, err := mainctx.New(mainctx.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if e := mctx.Close(); e != nil && err == nil {
			err = e
		}
	}()

	loop, err := reactor.New(reactor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if e := loop.Close(); e != nil && err == nil {
			err = e
		}
	}()

	m := bridge.NewMainLoop(mctx, loop,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
		bridge.WithFallback(cfg.Loop.Fallback),
	)

	start := time.Now()
	var beats int
	mctx.TimeoutAdd(cfg.Loop.Heartbeat, func() bool {
		beats++
		logger.Info().
			Int("beat", beats).
			Dur("uptime", time.Since(start)).
			Log("heartbeat")
		return true
	})

	if cfg.Loop.Duration > 0 {
		mctx.TimeoutAdd(cfg.Loop.Duration, func() bool {
			logger.Info().
				Dur("duration", cfg.Loop.Duration).
				Log("duration elapsed, quitting")
			m.Quit()
			return false
		})
	}

	if cfg.Loop.WatchStdin && stdin != nil {
		watchInput(mctx, logger, int(stdin.Fd()))
	}

	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info().Log("stopping main loop")
			m.Quit()
		case <-done:
		}
		return nil
	})
	if reg != nil {
		serveMetrics(gctx, g, done, cfg.Metrics, reg, logger)
	}

	logger.Info().
		Dur("heartbeat", cfg.Loop.Heartbeat).
		Bool("fallback", cfg.Loop.Fallback).
		Log("main loop running")

	runErr := m.Run()
	close(done)
	if m.IsRunning() {
		// the loop failed, so close the backend's handles before the loop
		m.Quit()
		_, _ = loop.Run(reactor.RunNoWait)
	}

	logger.Info().
		Int("beats", beats).
		Dur("uptime", time.Since(start)).
		Log("main loop stopped")

	return errors.Join(runErr, g.Wait())
}

// watchInput logs everything read from fd, until end of file.
func watchInput(mctx *mainctx.Context, logger *logiface.Logger[logiface.Event], fd int) {
	buf := make([]byte, 4096)
	var total int
	mctx.FDAdd(fd, mainctx.IOIn, func(fd int, revents mainctx.IOCondition) bool {
		n, err := unix.Read(fd, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			return true
		}
		if err != nil || n <= 0 {
			logger.Info().
				Int("fd", fd).
				Int("bytes", total).
				Stringer("revents", revents).
				Err(err).
				Log("input closed")
			return false
		}
		total += n
		logger.Debug().
			Int("fd", fd).
			Int("bytes", n).
			Log("input read")
		return true
	})
}

func serveMetrics(ctx context.Context, g *errgroup.Group, done <-chan struct{}, cfg config.MetricsConfig, reg *prometheus.Registry, logger *logiface.Logger[logiface.Event]) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("path", cfg.Path).
			Log("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
