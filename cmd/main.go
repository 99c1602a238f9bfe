package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/installmatch/internal/adapters/http/api"
	"github.com/okian/installmatch/internal/adapters/http/swagger"
	workerpool "github.com/okian/installmatch/internal/adapters/mq/worker"
	repository "github.com/okian/installmatch/internal/adapters/repository"
	"github.com/okian/installmatch/internal/adapters/repository/postgres"
	redisstore "github.com/okian/installmatch/internal/adapters/repository/redis"
	app "github.com/okian/installmatch/internal/app"
	"github.com/okian/installmatch/internal/config"
	"github.com/okian/installmatch/pkg/logger"
	"github.com/okian/installmatch/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// The logger may not be available yet.
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.Log.Format)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := logger.SetLevelString(cfg.Log.Level); err != nil {
		return fmt.Errorf("failed to set log level: %w", err)
	}
	log := logger.Get()

	metrics.Configure(
		metrics.WithRefreshInterval(cfg.MetricsInterval),
		metrics.WithMetricPrefix(cfg.Metrics.Prefix),
		metrics.WithCustomLabels(cfg.Metrics.Labels),
		metrics.WithHistogramBuckets(cfg.Metrics.Buckets),
	)

	svc, err := buildService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx, metrics.RefreshInterval())

	mux := http.NewServeMux()
	api.NewServer(svc, svc, api.WithRequestLogger(log.Named("http"))).Register(ctx, mux)
	swagger.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return nil
}

// buildService opens the configured store and wires the service.
func buildService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	store, sinks, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	strategy, err := cfg.Dispatch.Strategy()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sinks = append([]workerpool.Sink{workerpool.NewLogSink(log)}, sinks...)
	svc, err := app.New(
		app.WithLogger(log),
		app.WithStore(store),
		app.WithSinks(sinks...),
		app.WithWorkerCount(cfg.Events.Workers),
		app.WithQueueSize(cfg.Events.QueueSize),
		app.WithDedupeWindow(cfg.Events.DedupeWindow),
		app.WithDeliveryRetries(cfg.Events.Retries),
		app.WithDispatchRetry(cfg.Dispatch.MaxAttempts, strategy),
		app.WithMatchDefaults(cfg.Matching),
		app.WithPricingConfig(cfg.Pricing),
		app.WithTierProfile(cfg.Tiers),
		app.WithMetricsInterval(metrics.RefreshInterval()),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build service: %w", err)
	}
	return svc, nil
}

// openStore connects the configured backend. A Redis backend with a
// configured stream also gets a stream sink on the same client.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, []workerpool.Sink, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendPostgres:
		s, err := postgres.New(ctx, sc.PostgresDSN,
			postgres.WithMaxConns(sc.MaxConns),
			postgres.WithLogger(log),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Info(ctx, "using postgres store")
		return s, nil, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		s := redisstore.New(client,
			redisstore.WithKeyPrefix(sc.KeyPrefix),
			redisstore.WithLogger(log),
		)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		log.Info(ctx, "using redis store", logger.String("addr", sc.RedisAddr))

		var sinks []workerpool.Sink
		if cfg.Events.Stream != "" {
			sinks = append(sinks, workerpool.NewRedisStreamSink(client, cfg.Events.Stream, cfg.Events.StreamMaxLen))
		}
		return s, sinks, nil
	}

	log.Info(ctx, "using in-memory store")
	return repository.NewMemoryStore(), nil, nil
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
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

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
