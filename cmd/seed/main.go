package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/adapter/postgres"
	"github.com/pscheid92/credpulse/internal/adapter/redis"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/pscheid92/credpulse/internal/platform/logging"
	"github.com/pscheid92/credpulse/internal/platform/retry"
	"github.com/pscheid92/credpulse/internal/seed"
	goredis "github.com/redis/go-redis/v9"
)

const seedTimeout = 2 * time.Minute

func main() {
	var (
		backend     = flag.String("backend", envOr("STORE_BACKEND", "postgres"), "Target store: postgres or redis")
		databaseURL = flag.String("database", os.Getenv("DATABASE_URL"), "PostgreSQL URL (or set DATABASE_URL env)")
		redisURL    = flag.String("redis", os.Getenv("REDIS_URL"), "Redis URL (or set REDIS_URL env)")
		file        = flag.String("file", "", "YAML fixture to load (default: built-in demo stories)")
		dryRun      = flag.Bool("dry-run", false, "Dry run mode (parse and validate only)")
		verbose     = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logging.Init(level, "text")

	stories := seed.DemoStories()
	if *file != "" {
		var err error
		if stories, err = seed.LoadFile(*file); err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
	}
	slog.Info("Fixture loaded", "stories", len(stories), "source", fixtureName(*file))

	if *dryRun {
		for _, s := range stories {
			slog.Info("Would seed story", "story_id", s.ID, "status", s.Status, "total_votes", s.Votes.Total())
		}
		slog.Info("Dry run complete, nothing written")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	writer, closeFn := connect(ctx, *backend, *databaseURL, *redisURL)
	defer closeFn()

	n, err := seed.Write(ctx, writer, stories)
	if err != nil {
		slog.Error("Seeding failed", "written", n, "error", err)
		closeFn()
		os.Exit(1)
	}
	slog.Info("Seeding complete", "backend", *backend, "written", n)
}

func connect(ctx context.Context, backend, databaseURL, redisURL string) (domain.StoryWriter, func()) {
	clock := clockwork.NewRealClock()
	m := metrics.NewStoreMetrics(prometheus.NewRegistry())
	policy := retry.StartupPolicy(func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Connection attempt failed, retrying", "backend", backend, "attempt", attempt, "backoff", backoff, "error", err)
	})

	switch backend {
	case "postgres":
		if databaseURL == "" {
			log.Fatal("Database URL required (--database or DATABASE_URL env)")
		}
		pool, err := retry.Do(ctx, policy, retry.RetryUnlessCancelled, func(ctx context.Context) (*pgxpool.Pool, error) {
			return postgres.Connect(ctx, databaseURL, postgres.NewMetricsTracer(m, clock))
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			pool.Close()
			log.Fatalf("Failed to run migrations: %v", err)
		}
		return postgres.NewStoryRepo(pool, m), pool.Close

	case "redis":
		if redisURL == "" {
			log.Fatal("Redis URL required (--redis or REDIS_URL env)")
		}
		client, err := retry.Do(ctx, policy, retry.RetryUnlessCancelled, func(ctx context.Context) (*goredis.Client, error) {
			return redis.NewClient(ctx, redisURL, m, clock)
		})
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		return redis.NewStoryStore(client), func() { _ = client.Close() }

	default:
		log.Fatalf("Unknown backend %q (want postgres or redis)", backend)
		return nil, nil
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fixtureName(path string) string {
	if path == "" {
		return "demo"
	}
	return path
}
