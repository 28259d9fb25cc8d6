package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/pscheid92/credpulse/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	analyzeFn      func(story domain.Story) (domain.AnalysisResult, error)
	analyzeStoryFn func(ctx context.Context, storyID string) (domain.AnalysisResult, error)
	castVoteFn     func(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteOutcome, error)
}

func (m *mockAppService) Analyze(story domain.Story) (domain.AnalysisResult, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(story)
	}
	return domain.AnalysisResult{StoryID: story.ID}, nil
}

func (m *mockAppService) AnalyzeStory(ctx context.Context, storyID string) (domain.AnalysisResult, error) {
	if m.analyzeStoryFn != nil {
		return m.analyzeStoryFn(ctx, storyID)
	}
	return domain.AnalysisResult{}, domain.ErrStoryNotFound
}

func (m *mockAppService) CastVote(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteOutcome, error) {
	if m.castVoteFn != nil {
		return m.castVoteFn(ctx, userID, storyID, choice)
	}
	return domain.VoteOutcome{}, errors.New("not implemented")
}

type mockVoteReader struct {
	tallyFn  func(ctx context.Context, storyID string) (domain.Tally, error)
	lookupFn func(ctx context.Context, userID, storyID string) (domain.VoteRecord, error)
}

func (m *mockVoteReader) Tally(ctx context.Context, storyID string) (domain.Tally, error) {
	if m.tallyFn != nil {
		return m.tallyFn(ctx, storyID)
	}
	return domain.Tally{}, domain.ErrStoryNotFound
}

func (m *mockVoteReader) LookupVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, userID, storyID)
	}
	return domain.VoteRecord{}, domain.ErrVoteNotFound
}

// --- Test helpers ---

type testServerOptions struct {
	votes        voteReader
	cfg          *config.Config
	healthChecks []HealthCheck
	reg          *prometheus.Registry
	clock        clockwork.Clock
}

func newTestServer(t *testing.T, app appService, opts ...func(*testServerOptions)) *Server {
	t.Helper()

	o := &testServerOptions{
		votes: &mockVoteReader{},
		cfg: &config.Config{
			Port:          "0",
			VoteRateLimit: 100,
			VoteRateBurst: 100,
		},
		reg:   prometheus.NewRegistry(),
		clock: clockwork.NewFakeClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return NewServer(o.cfg, app, o.votes, metrics.NewHTTPMetrics(o.reg), metrics.Handler(o.reg), o.clock, o.healthChecks)
}

func withVotes(v voteReader) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.votes = v
	}
}

func withRateLimit(ratePerSecond float64, burst int) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.cfg.VoteRateLimit = ratePerSecond
		o.cfg.VoteRateBurst = burst
	}
}

func withHealthChecks(checks ...HealthCheck) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.healthChecks = checks
	}
}

func withRegistry(reg *prometheus.Registry) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.reg = reg
	}
}

func withClock(clock clockwork.Clock) func(*testServerOptions) {
	return func(o *testServerOptions) {
		o.clock = clock
	}
}

// do sends a request through the full router, including middleware.
func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

var _ http.Handler = (*Server)(nil)
