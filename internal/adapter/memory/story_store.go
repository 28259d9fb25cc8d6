// Package memory provides an in-process story store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pscheid92/credpulse/internal/domain"
)

type voteKey struct {
	userID  string
	storyID string
}

// StoryStore keeps stories and vote records in mutex-guarded maps. Increments
// are atomic with respect to each other.
type StoryStore struct {
	mu       sync.RWMutex
	stories  map[string]*domain.Story
	votes    map[voteKey]domain.VoteRecord
	failNext []error
}

func NewStoryStore() *StoryStore {
	return &StoryStore{
		stories: make(map[string]*domain.Story),
		votes:   make(map[voteKey]domain.VoteRecord),
	}
}

// Put stores a copy of story, replacing any story with the same ID.
func (s *StoryStore) Put(story domain.Story) {
	c := story.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories[story.ID] = &c
}

// PutStory implements domain.StoryWriter.
func (s *StoryStore) PutStory(_ context.Context, story domain.Story) error {
	if strings.TrimSpace(story.ID) == "" {
		return fmt.Errorf("%w: story id must not be empty", domain.ErrInvalidInput)
	}
	s.Put(story)
	return nil
}

// FailNext makes the next n calls to IncrementVote or RecordVote return err
// without touching the tally.
func (s *StoryStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failNext = append(s.failNext, err)
	}
}

func (s *StoryStore) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	story, ok := s.stories[id]
	if !ok {
		return nil, domain.ErrStoryNotFound
	}
	c := story.Clone()
	return &c, nil
}

func (s *StoryStore) IncrementVote(ctx context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !choice.IsValid() {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, choice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.increment(storyID, choice)
}

func (s *StoryStore) increment(storyID string, choice domain.VoteChoice) (int64, error) {
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return 0, err
	}

	story, ok := s.stories[storyID]
	if !ok {
		return 0, domain.ErrStoryNotFound
	}
	story.Votes.Add(choice, 1)
	return story.Votes.Get(choice), nil
}

func (s *StoryStore) RecordVote(ctx context.Context, record domain.VoteRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !record.Choice.IsValid() {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, record.Choice)
	}

	key := voteKey{userID: record.UserID, storyID: record.StoryID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.votes[key]; exists {
		return 0, domain.ErrAlreadyVoted
	}
	count, err := s.increment(record.StoryID, record.Choice)
	if err != nil {
		return 0, err
	}
	s.votes[key] = record
	return count, nil
}

func (s *StoryStore) GetVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.VoteRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.votes[voteKey{userID: userID, storyID: storyID}]
	if !ok {
		return domain.VoteRecord{}, domain.ErrVoteNotFound
	}
	return record, nil
}

// List returns copies of all stories ordered by ID.
func (s *StoryStore) List() []domain.Story {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Story, 0, len(s.stories))
	for _, story := range s.stories {
		out = append(out, story.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ping always succeeds.
func (s *StoryStore) Ping(context.Context) error {
	return nil
}
