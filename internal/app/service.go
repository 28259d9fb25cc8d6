package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/credibility"
	"github.com/pscheid92/credpulse/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	sentimentFake  = -0.8
	sentimentOther = 0.6
)

var fixedTopics = []string{"Misinformation", "Fact Checking"}

// Service is the application layer. It combines the credibility rules with the
// vote aggregator and the story store.
type Service struct {
	stories domain.StoryStore
	votes   domain.Voter
	clock   clockwork.Clock
	metrics *metrics.AnalysisMetrics
	loads   singleflight.Group
}

// NewService creates the application layer service.
func NewService(stories domain.StoryStore, votes domain.Voter, clock clockwork.Clock, m *metrics.AnalysisMetrics) *Service {
	return &Service{
		stories: stories,
		votes:   votes,
		clock:   clock,
		metrics: m,
	}
}

// Analyze produces the full analysis of a story. It is a pure function of the
// story: the same input always yields an identical result.
func (s *Service) Analyze(story domain.Story) (domain.AnalysisResult, error) {
	if err := credibility.Validate(story); err != nil {
		s.metrics.Analyses.WithLabelValues("invalid").Inc()
		return domain.AnalysisResult{}, err
	}
	s.metrics.Analyses.WithLabelValues("ok").Inc()
	return analyze(story), nil
}

func analyze(story domain.Story) domain.AnalysisResult {
	sentiment := sentimentOther
	if story.Status == domain.StatusFake {
		sentiment = sentimentFake
	}

	topics := make([]string, 0, 1+len(fixedTopics))
	topics = append(topics, story.Category)
	topics = append(topics, fixedTopics...)

	entities := make([]string, 0, 1+len(story.Sources))
	entities = append(entities, story.Region)
	entities = append(entities, story.Sources...)

	return domain.AnalysisResult{
		StoryID:          story.ID,
		Sentiment:        sentiment,
		Topics:           topics,
		Entities:         entities,
		CredibilityScore: story.Confidence,
		Explanation:      credibility.BuildExplanation(story),
	}
}

// AnalyzeStory loads a story from the store and analyzes it.
// Concurrent requests for the same story share one store read, and a caller
// that gives up does not fail the others.
func (s *Service) AnalyzeStory(ctx context.Context, storyID string) (domain.AnalysisResult, error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.AnalyzeTiming.Observe(s.clock.Since(start).Seconds())
	}()

	story, err := s.loadStory(ctx, storyID)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return s.Analyze(story)
}

func (s *Service) loadStory(ctx context.Context, storyID string) (domain.Story, error) {
	if storyID == "" {
		return domain.Story{}, fmt.Errorf("%w: story id must not be empty", domain.ErrInvalidInput)
	}

	story, shared, err := sharedLoad(ctx, &s.loads, storyID, storyID, s.stories.GetStory)
	if shared {
		s.metrics.SharedLoads.Inc()
	}
	if err != nil {
		if errors.Is(err, domain.ErrStoryNotFound) {
			s.metrics.StoryLoads.WithLabelValues("not_found").Inc()
			return domain.Story{}, err
		}
		s.metrics.StoryLoads.WithLabelValues("error").Inc()
		return domain.Story{}, fmt.Errorf("load story %s: %w", storyID, err)
	}
	s.metrics.StoryLoads.WithLabelValues("ok").Inc()

	// Shared results point at the same value; callers get their own copy.
	return story.Clone(), nil
}

// CastVote records a vote and re-analyzes the story with the updated tally.
func (s *Service) CastVote(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteOutcome, error) {
	receipt, err := s.votes.CastVote(ctx, userID, storyID, choice)
	if err != nil {
		return domain.VoteOutcome{}, err
	}

	outcome := domain.VoteOutcome{Record: receipt.Record, Tally: receipt.Story.Votes}
	analysis, err := s.Analyze(receipt.Story)
	if err != nil {
		// The vote is persisted; only the stored story is malformed.
		return outcome, fmt.Errorf("analyze story %s after vote: %w", storyID, err)
	}
	outcome.Analysis = analysis
	return outcome, nil
}
