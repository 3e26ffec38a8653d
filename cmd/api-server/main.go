package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load error: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(rootCtx, 30*time.Second)
	backend, err := bootstrap.Open(openCtx, cfg, logger)
	cancelOpen()
	if err != nil {
		return fmt.Errorf("open store backend: %w", err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc := appointment.NewService(backend.Stores, appointment.ServiceConfig{
		StoreTimeout: cfg.StoreTimeout,
	}, logger.Named("scheduling"), m)

	limiter := api.NewRateLimiter(cfg.LoginRatePerSec, cfg.LoginBurst)
	go limiter.Run(rootCtx)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Issuer:       auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		LoginLimiter: limiter,
		Metrics:      m,
		Gatherer:     reg,
		Checks:       backend.Checks,
		Logger:       logger.Named("http"),
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	logger.Info("api-server stopped")
	return nil
}
