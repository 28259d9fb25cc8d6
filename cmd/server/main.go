package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/httpserver"
	"github.com/pscheid92/credpulse/internal/adapter/memory"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/adapter/postgres"
	"github.com/pscheid92/credpulse/internal/adapter/redis"
	"github.com/pscheid92/credpulse/internal/app"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/pscheid92/credpulse/internal/platform/config"
	"github.com/pscheid92/credpulse/internal/platform/logging"
	"github.com/pscheid92/credpulse/internal/platform/retry"
	"github.com/pscheid92/credpulse/internal/platform/version"
	"github.com/pscheid92/credpulse/internal/seed"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// storyBackend is a story and vote record store that can report its own health.
type storyBackend interface {
	domain.VoteStore
	Ping(ctx context.Context) error
}

func runGracefulShutdown(srv *httpserver.Server, timeout time.Duration, stopBackground context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopBackground()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func logRetry(component string) func(attempt int, err error, backoff time.Duration) {
	return func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Connection attempt failed, retrying", "component", component, "attempt", attempt, "backoff", backoff, "error", err)
	}
}

func setupPostgres(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics, clock clockwork.Clock) *pgxpool.Pool {
	tracer := postgres.NewMetricsTracer(m, clock)

	pool, err := retry.Do(ctx, retry.StartupPolicy(logRetry("postgres")), retry.RetryUnlessCancelled,
		func(ctx context.Context) (*pgxpool.Pool, error) {
			connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return postgres.Connect(connCtx, cfg.DatabaseURL, tracer)
		})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := postgres.RunMigrationsWithLock(migrateCtx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics, clock clockwork.Clock) *goredis.Client {
	client, err := retry.Do(ctx, retry.StartupPolicy(logRetry("redis")), retry.RetryUnlessCancelled,
		func(ctx context.Context) (*goredis.Client, error) {
			connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return redis.NewClient(connCtx, cfg.RedisURL, m, clock)
		})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupMemory(ctx context.Context, cfg *config.Config) *memory.StoryStore {
	stories := seed.DemoStories()
	if cfg.SeedFile != "" {
		var err error
		if stories, err = seed.LoadFile(cfg.SeedFile); err != nil {
			slog.Error("Failed to load seed file", "path", cfg.SeedFile, "error", err)
			os.Exit(1)
		}
	}

	store := memory.NewStoryStore()
	n, err := seed.Write(ctx, store, stories)
	if err != nil {
		slog.Error("Failed to seed memory store", "error", err)
		os.Exit(1)
	}
	slog.Info("Memory store seeded", "stories", n)
	return store
}

// setupStore returns the configured backend plus a cleanup func.
func setupStore(ctx context.Context, cfg *config.Config, m *metrics.StoreMetrics, clock clockwork.Clock) (storyBackend, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool := setupPostgres(ctx, cfg, m, clock)
		return postgres.NewStoryRepo(pool, m), pool.Close
	case config.BackendRedis:
		client := setupRedis(ctx, cfg, m, clock)
		return redis.NewStoryStore(client), func() { _ = client.Close() }
	default:
		return setupMemory(ctx, cfg), func() { /* EMPTY */ }
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"service", version.Service,
		"version", version.Version,
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
	)

	reg := metrics.NewRegistry()
	storeMetrics := metrics.NewStoreMetrics(reg)

	store, cleanup := setupStore(context.Background(), cfg, storeMetrics, clock)
	defer cleanup()

	aggregator := app.NewVoteAggregator(store, clock, metrics.NewVoteMetrics(reg), cfg.VotePersistTimeout)
	appSvc := app.NewService(store, aggregator, clock, metrics.NewAnalysisMetrics(reg))

	healthChecks := []httpserver.HealthCheck{
		{Name: cfg.StoreBackend, Check: store.Ping},
	}
	srv := httpserver.NewServer(cfg, appSvc, aggregator, metrics.NewHTTPMetrics(reg), metrics.Handler(reg), clock, healthChecks)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if cfg.ViewRefreshInterval > 0 {
		refresher := app.NewViewRefresher(aggregator, clock, cfg.ViewRefreshInterval)
		go refresher.Run(bgCtx)
		slog.Info("Story view refresher started", "interval", cfg.ViewRefreshInterval)
	}

	done := runGracefulShutdown(srv, cfg.ShutdownTimeout, stopBackground)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
