// Command concentrator runs the TCP port concentrator: one listening
// port fanning admitted client connections through a throttled scheduler
// into per-bridge outbound connections. Wiring follows the shape of the
// teacher's cmd/production/main.go: caarlos0/env configuration, an
// errgroup-supervised set of servers, Prometheus metrics, and a health
// checker, all shut down together on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/benkietzman/portconcentrator/pkg/acceptor"
	"github.com/benkietzman/portconcentrator/pkg/accounting"
	"github.com/benkietzman/portconcentrator/pkg/backendhealth"
	"github.com/benkietzman/portconcentrator/pkg/bridgeworker"
	"github.com/benkietzman/portconcentrator/pkg/config"
	"github.com/benkietzman/portconcentrator/pkg/engine"
	"github.com/benkietzman/portconcentrator/pkg/health"
	"github.com/benkietzman/portconcentrator/pkg/ingress"
	"github.com/benkietzman/portconcentrator/pkg/metrics"
)

func main() {
	cli, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "concentrator: %v\n", err)
		os.Exit(2)
	}
	if cli.Help {
		fmt.Println("Usage: concentrator [-c|--conf DIR] [-d|--daemon] [--data DIR] [-e|--email ADDR] [-h|--help] [-v|--version]")
		return
	}
	if cli.Version {
		fmt.Println("concentrator (unversioned build)")
		return
	}
	if cli.Daemon {
		if err := config.Daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "concentrator: daemonize: %v\n", err)
			os.Exit(1)
		}
		return
	}

	env, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "concentrator: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(env.LogLevel, env.LogFormat)

	if err := config.WriteStartupFiles(cli.DataDir); err != nil {
		logger.Error("failed to write startup files", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer config.RemovePIDFile(cli.DataDir)

	m := metrics.New("concentrator")
	go startMetricsServer(env.MetricsPort, logger)

	registry := backendhealth.NewRegistry(backendhealth.BreakerConfig{
		MaxFailures:      env.BreakerMaxFailures,
		ResetTimeout:     env.BreakerResetTimeout,
		SuccessThreshold: env.BreakerSuccessThreshold,
	}, m)
	prober := backendhealth.NewProber(registry, backendhealth.ProberConfig{Interval: env.ProbeInterval})

	sink := accounting.MultiSink{accounting.NewSlogSink(logger)}
	eng := engine.New(engine.Config{
		Handler: engine.NoopHandler{},
		Sink:    sink,
		Metrics: m,
	})

	dialer := bridgeworker.NewDialer(registry)
	dialer.Watcher = prober
	dialer.Metrics = m
	worker := bridgeworker.NewWorker(dialer, logger)
	worker.Metrics = m

	healthChecker := health.NewChecker(10 * time.Second)
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		m.GoroutinesActive.WithLabelValues("all").Set(float64(count))
		if count > env.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, env.MaxGoroutines)
		}
		return nil
	})
	healthChecker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})
	healthChecker.Register("scheduler_backlog", health.SchedulerDepthCheck(func() health.EngineStats {
		s := eng.Stats()
		m.ServiceCount.Set(float64(s.Services))
		return health.EngineStats{Services: s.Services, ActiveBridges: s.ActiveBridges, QueuedBridges: s.QueuedBridges}
	}, env.MaxQueuedBacklog))

	go startHealthServer(env.HealthPort, healthChecker, logger)

	ingressHandler := ingress.New(eng, ingress.Config{
		LoadBalancer:    env.LoadBalancer,
		ServiceJunction: env.ServiceJunction,
		Logger:          logger,
		Metrics:         m,
	})

	acc := acceptor.New(acceptor.Config{
		Address:         env.ListenAddress,
		ShutdownTimeout: env.ShutdownTimeout,
		Logger:          logger,
	}, ingressHandler.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { prober.Run(ctx); return nil })
	g.Go(func() error { return eng.Run(ctx, worker.Run) })
	g.Go(func() error { return acc.Serve(ctx) })
	g.Go(func() error { return stopSignalHandler(ctx, cancel, logger) })

	logger.Info("concentrator started", slog.String("address", env.ListenAddress))

	if err := g.Wait(); err != nil {
		logger.Error("concentrator terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("concentrator stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func startMetricsServer(port int, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("starting metrics server", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", slog.String("error", err.Error()))
	}
}

func startHealthServer(port int, checker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HTTPHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("starting health server", slog.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("health server error", slog.String("error", err.Error()))
	}
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
