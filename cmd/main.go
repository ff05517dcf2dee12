package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/meterbridge/internal/adapters/http/api"
	"github.com/okian/meterbridge/internal/adapters/http/swagger"
	service "github.com/okian/meterbridge/internal/app"
	"github.com/okian/meterbridge/internal/config"
	"github.com/okian/meterbridge/pkg/logger"
	"github.com/okian/meterbridge/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use os.Stderr since the logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, cleanup, err := service.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build service", logger.Error(err))
		return 1
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn(ctx, "failed to close cycle journal", logger.Error(err))
		}
	}()

	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := newServer(cfg.Addr, newHandler(ctx, svc, log))
	if srv == nil {
		log.Info(ctx, "status HTTP server disabled")
	} else {
		go func() {
			log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "HTTP server failed", logger.Error(err))
				stop()
			}
		}()
	}

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
	}

	log.Info(ctx, "server stopped")
	return 0
}

// newServer returns the status HTTP server, or nil when addr is empty.
func newServer(addr string, h http.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// newHandler routes the status API and its OpenAPI description.
func newHandler(ctx context.Context, svc *service.Service, log logger.Logger) http.Handler {
	return api.NewServer(svc, svc, log.Named("http")).Handler(ctx, swagger.Register)
}

// startSystemMetricsUpdater refreshes process gauges until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
