// Package httpserver exposes credibility analysis and voting over HTTP.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/pscheid92/credpulse/internal/platform/config"
)

type appService interface {
	Analyze(story domain.Story) (domain.AnalysisResult, error)
	AnalyzeStory(ctx context.Context, storyID string) (domain.AnalysisResult, error)
	CastVote(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteOutcome, error)
}

type voteReader interface {
	Tally(ctx context.Context, storyID string) (domain.Tally, error)
	LookupVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	app   appService
	votes voteReader

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(cfg *config.Config, app appService, votes voteReader, httpMetrics *metrics.HTTPMetrics, metricsHandler http.Handler, clock clockwork.Clock, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		clock:          clock,
		app:            app,
		votes:          votes,
		httpMetrics:    httpMetrics,
		metricsHandler: metricsHandler,
		healthChecks:   healthChecks,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP lets tests and embedding callers drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
