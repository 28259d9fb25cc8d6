package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
)

// --- Mock StoryStore ---

// mockStoryStore keeps stories and vote claims in maps and lets tests
// override the story read or the tally increment.
type mockStoryStore struct {
	getStoryFn      func(ctx context.Context, id string) (*domain.Story, error)
	incrementVoteFn func(ctx context.Context, storyID string, choice domain.VoteChoice) (int64, error)

	mu      sync.Mutex
	stories map[string]*domain.Story
	votes   map[voteKey]domain.VoteRecord

	gets       atomic.Int32
	increments atomic.Int32
}

func newMockStoryStore(stories ...domain.Story) *mockStoryStore {
	m := &mockStoryStore{
		stories: make(map[string]*domain.Story),
		votes:   make(map[voteKey]domain.VoteRecord),
	}
	for _, s := range stories {
		c := s.Clone()
		m.stories[s.ID] = &c
	}
	return m
}

func (m *mockStoryStore) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	m.gets.Add(1)
	if m.getStoryFn != nil {
		return m.getStoryFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[id]
	if !ok {
		return nil, domain.ErrStoryNotFound
	}
	c := s.Clone()
	return &c, nil
}

func (m *mockStoryStore) IncrementVote(ctx context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
	m.increments.Add(1)
	if m.incrementVoteFn != nil {
		return m.incrementVoteFn(ctx, storyID, choice)
	}
	return m.increment(storyID, choice)
}

func (m *mockStoryStore) increment(storyID string, choice domain.VoteChoice) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[storyID]
	if !ok {
		return 0, domain.ErrStoryNotFound
	}
	s.Votes.Add(choice, 1)
	return s.Votes.Get(choice), nil
}

// RecordVote claims the pair, then increments; a failed increment drops the claim.
func (m *mockStoryStore) RecordVote(ctx context.Context, record domain.VoteRecord) (int64, error) {
	key := voteKey{userID: record.UserID, storyID: record.StoryID}

	m.mu.Lock()
	if _, exists := m.votes[key]; exists {
		m.mu.Unlock()
		return 0, domain.ErrAlreadyVoted
	}
	m.votes[key] = record
	m.mu.Unlock()

	count, err := m.IncrementVote(ctx, record.StoryID, record.Choice)
	if err != nil {
		m.mu.Lock()
		delete(m.votes, key)
		m.mu.Unlock()
		return 0, err
	}
	return count, nil
}

func (m *mockStoryStore) GetVote(_ context.Context, userID, storyID string) (domain.VoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.votes[voteKey{userID: userID, storyID: storyID}]
	if !ok {
		return domain.VoteRecord{}, domain.ErrVoteNotFound
	}
	return record, nil
}

func (m *mockStoryStore) tally(storyID string) domain.Tally {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stories[storyID].Votes
}

// --- Helpers ---

func newTestStory() domain.Story {
	return domain.Story{
		ID:         "story-1",
		Title:      "Vaccine rumour",
		Sources:    []string{"a", "b"},
		Spread:     60,
		Confidence: 0.85,
		Status:     domain.StatusInvestigating,
		Votes:      domain.Tally{Credible: 45, Suspicious: 20, Fake: 5},
		Category:   "Health",
		Region:     "EU",
	}
}

func newTestAggregator(store domain.VoteStore, clock clockwork.Clock) (*VoteAggregator, *metrics.VoteMetrics) {
	m := metrics.NewVoteMetrics(prometheus.NewRegistry())
	return NewVoteAggregator(store, clock, m, 0), m
}

func newTestService(store domain.StoryStore, votes domain.Voter) (*Service, *metrics.AnalysisMetrics) {
	m := metrics.NewAnalysisMetrics(prometheus.NewRegistry())
	return NewService(store, votes, clockwork.NewFakeClock(), m), m
}
