package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pillama/bridge/internal/bridge"
	"github.com/pillama/bridge/internal/config"
	"github.com/pillama/bridge/internal/connection"
	"github.com/pillama/bridge/internal/correlator"
	"github.com/pillama/bridge/internal/metrics"
	"github.com/pillama/bridge/internal/server"
	"github.com/pillama/bridge/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults when empty)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration (defaults when no file is given)
	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Set up structured logging
	level, err := cfg.Logging.SlogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"backend_url", cfg.Backend.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics registry and collectors
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	// Wire correlator -> connection manager -> façade
	reg := correlator.New(logger)

	mgr := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Backend.URL,
		HandshakeTimeout:     cfg.Backend.HandshakeTimeout,
		WriteTimeout:         cfg.Backend.WriteTimeout,
		ReconnectBaseDelay:   cfg.Backend.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Backend.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Backend.MaxReconnectAttempts,
		MessageBufferSize:    cfg.Backend.MessageBufferSize,
	}, reg, logger)

	go watchConnectionState(mgr, m, logger)

	opts := []bridge.Option{bridge.WithMetrics(m)}
	if cfg.Backend.SerializeRequests {
		opts = append(opts, bridge.WithSerializedRequests())
	}
	facade := bridge.New(mgr, reg, logger, opts...)

	// Connect to the backend; keep retrying in the background so the HTTP
	// layer can come up and answer 503 until the backend is reachable.
	go connectWithRetry(ctx, mgr, cfg.Backend, logger)

	srv := server.New(cfg.Server, facade, cfg.Backend.DefaultModel, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		return runMetricsServer(gctx, cfg.Metrics, promReg, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		mgr.Close()
		os.Exit(1)
	}

	logger.Info("shutting down...")
	mgr.Close()
	logger.Info("bridge stopped")
}

// connectWithRetry opens the backend connection, retrying with the same
// backoff schedule the manager uses for reconnects. The manager takes over
// once the first connect succeeds.
func connectWithRetry(ctx context.Context, mgr *connection.Manager, cfg config.BackendConfig, logger *slog.Logger) {
	for attempt := 1; ; attempt++ {
		err := mgr.Open(ctx)
		if err == nil {
			logger.Info("backend connected", "url", cfg.URL)
			return
		}

		delay := connection.Backoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, attempt)
		logger.Warn("initial backend connect failed",
			"attempt", attempt,
			"retry_in", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// watchConnectionState feeds manager state changes into the metrics gauges.
func watchConnectionState(mgr *connection.Manager, m *metrics.Metrics, logger *slog.Logger) {
	states := mgr.SubscribeState()

	wasOpen := false
	for state := range states {
		m.ConnectionState.Set(float64(state))

		switch state {
		case connection.StateOpen:
			wasOpen = true
		case connection.StateConnecting:
			// Connecting after a previous open session is a reconnect;
			// initial connect attempts are not counted.
			if wasOpen {
				m.Reconnects.Inc()
			}
		}
		logger.Debug("connection state changed", "state", state)
	}
}

// runMetricsServer serves the Prometheus endpoint until ctx is cancelled.
func runMetricsServer(ctx context.Context, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "port", cfg.Port, "path", cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
