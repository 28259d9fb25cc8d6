package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCastVote_Success(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := newMockStoryStore(newTestStory())
	agg, m := newTestAggregator(store, clock)

	receipt, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)

	assert.Equal(t, "user-1", receipt.Record.UserID)
	assert.Equal(t, "story-1", receipt.Record.StoryID)
	assert.Equal(t, domain.ChoiceCredible, receipt.Record.Choice)
	assert.Equal(t, clock.Now(), receipt.Record.CastAt)
	assert.Equal(t, domain.Tally{Credible: 46, Suspicious: 20, Fake: 5}, receipt.Story.Votes)
	assert.Equal(t, domain.Tally{Credible: 46, Suspicious: 20, Fake: 5}, store.tally("story-1"))

	assert.True(t, agg.HasVoted("user-1", "story-1"))
	assert.False(t, agg.HasVoted("user-2", "story-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesByChoice.WithLabelValues("credible")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestCastVote_ReceiptIsACopy(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	receipt, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceFake)
	require.NoError(t, err)

	receipt.Story.Sources[0] = "mutated"
	receipt.Story.Votes.Fake = 1000

	again, err := agg.CastVote(context.Background(), "user-2", "story-1", domain.ChoiceFake)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Story.Sources[0])
	assert.Equal(t, int64(7), again.Story.Votes.Fake)
}

func TestCastVote_AlreadyVoted(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	agg, m := newTestAggregator(store, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	before, err := agg.Tally(ctx, "story-1")
	require.NoError(t, err)

	_, err = agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceFake)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	after, err := agg.Tally(ctx, "story-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, int32(1), store.increments.Load(), "second vote must not reach the store")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("already_voted")))
}

func TestCastVote_SameUserDifferentStories(t *testing.T) {
	other := newTestStory()
	other.ID = "story-2"
	store := newMockStoryStore(newTestStory(), other)
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	_, err = agg.CastVote(context.Background(), "user-1", "story-2", domain.ChoiceCredible)
	require.NoError(t, err)
}

func TestCastVote_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		storyID string
		choice  domain.VoteChoice
	}{
		{"empty user", "", "story-1", domain.ChoiceCredible},
		{"blank user", "   ", "story-1", domain.ChoiceCredible},
		{"empty story", "user-1", "", domain.ChoiceCredible},
		{"unknown choice", "user-1", "story-1", domain.VoteChoice("maybe")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStoryStore(newTestStory())
			agg, m := newTestAggregator(store, clockwork.NewFakeClock())

			_, err := agg.CastVote(context.Background(), tt.userID, tt.storyID, tt.choice)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, int32(0), store.gets.Load())
			assert.Equal(t, int32(0), store.increments.Load())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("invalid")))
		})
	}
}

func TestCastVote_StoryNotFoundReleasesReservation(t *testing.T) {
	store := newMockStoryStore()
	agg, m := newTestAggregator(store, clockwork.NewFakeClock())

	_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	assert.ErrorIs(t, err, domain.ErrStoryNotFound)
	assert.False(t, agg.HasVoted("user-1", "story-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("not_found")))

	// Once the story exists, the same user can vote.
	s := newTestStory()
	store.mu.Lock()
	store.stories[s.ID] = &s
	store.mu.Unlock()

	_, err = agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
}

func TestCastVote_LoadFailureIsPersistenceError(t *testing.T) {
	store := newMockStoryStore()
	store.getStoryFn = func(_ context.Context, _ string) (*domain.Story, error) {
		return nil, errors.New("connection refused")
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.False(t, agg.HasVoted("user-1", "story-1"))
	assert.Equal(t, int32(0), store.increments.Load())
}

func TestCastVote_PersistenceFailureRollsBack(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	cause := errors.New("connection reset")
	store.incrementVoteFn = func(_ context.Context, _ string, _ domain.VoteChoice) (int64, error) {
		return 0, cause
	}
	agg, m := newTestAggregator(store, clockwork.NewFakeClock())
	ctx := context.Background()

	before, err := agg.Tally(ctx, "story-1")
	require.NoError(t, err)

	_, err = agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceSuspicious)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.ErrorIs(t, err, cause)

	var perr *domain.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "story-1", perr.StoryID)
	assert.Equal(t, domain.ChoiceSuspicious, perr.Choice)

	after, err := agg.Tally(ctx, "story-1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.False(t, agg.HasVoted("user-1", "story-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("rolled_back")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))

	// The user may retry once the store recovers.
	store.incrementVoteFn = nil
	receipt, err := agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceSuspicious)
	require.NoError(t, err)
	assert.Equal(t, int64(21), receipt.Story.Votes.Suspicious)
}

func TestCastVote_CancelledContextRollsBack(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	_, err := agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceCredible)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.ErrorIs(t, err, context.Canceled)

	tally, err := agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, newTestStory().Votes, tally)
	assert.Equal(t, newTestStory().Votes, store.tally("story-1"))
	assert.False(t, agg.HasVoted("user-1", "story-1"))
}

func TestCastVote_TimeoutRollsBack(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	store.incrementVoteFn = func(ctx context.Context, _ string, _ domain.VoteChoice) (int64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	m := metrics.NewVoteMetrics(prometheus.NewRegistry())
	agg := NewVoteAggregator(store, clockwork.NewRealClock(), m, 20*time.Millisecond)

	_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceFake)
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	tally, err := agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, newTestStory().Votes, tally)
}

func TestCastVote_ConcurrentSamePairExactlyOneSucceeds(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	const attempts = 50
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		duplicate atomic.Int32
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrAlreadyVoted):
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(attempts-1), duplicate.Load())
	assert.Equal(t, int32(1), store.increments.Load())

	tally, err := agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, int64(46), tally.Credible)
}

func TestCastVote_TallySumMatchesSuccessfulPairs(t *testing.T) {
	stories := []domain.Story{
		{ID: "s1", Sources: []string{"x"}, Status: domain.StatusUnverified},
		{ID: "s2", Sources: []string{"x"}, Status: domain.StatusUnverified},
		{ID: "s3", Sources: []string{"x"}, Status: domain.StatusUnverified},
	}
	store := newMockStoryStore(stories...)
	var calls atomic.Int32
	store.incrementVoteFn = func(_ context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
		if calls.Add(1)%4 == 0 {
			return 0, errors.New("flaky store")
		}
		return store.increment(storyID, choice)
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	choices := []domain.VoteChoice{domain.ChoiceCredible, domain.ChoiceSuspicious, domain.ChoiceFake}
	var (
		wg        sync.WaitGroup
		successes atomic.Int64
	)
	for u := range 20 {
		for _, s := range stories {
			for attempt := range 2 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					userID := fmt.Sprintf("user-%d", u)
					choice := choices[(u+attempt)%len(choices)]
					if _, err := agg.CastVote(context.Background(), userID, s.ID, choice); err == nil {
						successes.Add(1)
					}
				}()
			}
		}
	}
	wg.Wait()

	var total int64
	for _, s := range stories {
		tally, err := agg.Tally(context.Background(), s.ID)
		require.NoError(t, err)
		assert.Equal(t, store.tally(s.ID), tally)
		total += tally.Total()
	}
	assert.Equal(t, successes.Load(), total)
	assert.LessOrEqual(t, total, int64(20*len(stories)))
}

func TestCastVote_AdoptsHigherStoreCount(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	store.incrementVoteFn = func(_ context.Context, _ string, _ domain.VoteChoice) (int64, error) {
		return 100, nil // other writers voted meanwhile
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	receipt, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	assert.Equal(t, int64(100), receipt.Story.Votes.Credible)
	assert.Equal(t, int64(20), receipt.Story.Votes.Suspicious)
}

func TestCastVote_LowerStoreCountDoesNotShrinkTally(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	store.incrementVoteFn = func(_ context.Context, _ string, _ domain.VoteChoice) (int64, error) {
		return 3, nil
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	receipt, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	assert.Equal(t, int64(46), receipt.Story.Votes.Credible)
}

func TestCastVote_ReconcileWaitsForInFlightIncrements(t *testing.T) {
	store := newMockStoryStore(domain.Story{ID: "s1", Sources: []string{"x"}, Status: domain.StatusReal})
	started := make(chan struct{})
	release := make(chan struct{})
	store.incrementVoteFn = func(_ context.Context, _ string, _ domain.VoteChoice) (int64, error) {
		if store.increments.Load() == 1 {
			close(started)
			<-release
			return 50, nil
		}
		return 60, nil
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	slow := make(chan domain.VoteReceipt, 1)
	go func() {
		receipt, err := agg.CastVote(context.Background(), "user-a", "s1", domain.ChoiceCredible)
		assert.NoError(t, err)
		slow <- receipt
	}()
	<-started

	fast, err := agg.CastVote(context.Background(), "user-b", "s1", domain.ChoiceCredible)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fast.Story.Votes.Credible, "neither the pending vote nor the store count is in the receipt")

	tally, err := agg.Tally(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tally.Credible, "no reconciliation while another increment is pending")

	close(release)
	receipt := <-slow
	assert.Equal(t, int64(60), receipt.Story.Votes.Credible, "highest count seen wins once the field settles")
}

func TestCastVote_ReceiptExcludesPendingVotes(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	var calls atomic.Int32
	startedA, releaseA := make(chan struct{}), make(chan struct{})
	startedB, releaseB := make(chan struct{}), make(chan struct{})
	store.incrementVoteFn = func(_ context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
		if calls.Add(1) == 1 {
			close(startedA)
			<-releaseA
			return store.increment(storyID, choice)
		}
		close(startedB)
		<-releaseB
		return 0, errors.New("connection reset")
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	resultA := make(chan domain.VoteReceipt, 1)
	go func() {
		receipt, err := agg.CastVote(context.Background(), "user-a", "story-1", domain.ChoiceCredible)
		assert.NoError(t, err)
		resultA <- receipt
	}()
	<-startedA

	errB := make(chan error, 1)
	go func() {
		_, err := agg.CastVote(context.Background(), "user-b", "story-1", domain.ChoiceCredible)
		errB <- err
	}()
	<-startedB

	tally, err := agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, int64(47), tally.Credible, "both votes are applied optimistically")

	close(releaseA)
	assert.Equal(t, int64(46), (<-resultA).Story.Votes.Credible)

	close(releaseB)
	assert.ErrorIs(t, <-errB, domain.ErrPersistenceFailed)

	tally, err = agg.Tally(context.Background(), "story-1")
	require.NoError(t, err)
	assert.Equal(t, int64(46), tally.Credible)
	assert.Equal(t, int64(46), store.tally("story-1").Credible)
}

func TestCastVote_StoreClaimOutlivesAggregator(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	ctx := context.Background()

	before, _ := newTestAggregator(store, clockwork.NewFakeClock())
	_, err := before.CastVote(ctx, "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)

	// A fresh aggregator on the same store: a restart or a second instance.
	after, m := newTestAggregator(store, clockwork.NewFakeClock())
	_, err = after.CastVote(ctx, "user-1", "story-1", domain.ChoiceCredible)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
	assert.NotErrorIs(t, err, domain.ErrPersistenceFailed)

	assert.Equal(t, int64(46), store.tally("story-1").Credible)
	tally, err := after.Tally(ctx, "story-1")
	require.NoError(t, err)
	assert.Equal(t, int64(46), tally.Credible)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesProcessed.WithLabelValues("already_voted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))

	// The other user is unaffected.
	receipt, err := after.CastVote(ctx, "user-2", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	assert.Equal(t, int64(47), receipt.Story.Votes.Credible)
}

func TestCastVote_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	store.getStoryFn = func(ctx context.Context, _ string) (*domain.Story, error) {
		if calls.Add(1) == 1 {
			close(started)
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		s := newTestStory()
		return &s, nil
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()
	errFirst := make(chan error, 1)
	go func() {
		_, err := agg.CastVote(ctx1, "user-1", "story-1", domain.ChoiceCredible)
		errFirst <- err
	}()
	<-started

	errSecond := make(chan error, 1)
	go func() {
		_, err := agg.CastVote(context.Background(), "user-2", "story-1", domain.ChoiceCredible)
		errSecond <- err
	}()
	time.Sleep(20 * time.Millisecond) // let user-2 join the pending load

	cancel1()
	err := <-errFirst
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, agg.HasVoted("user-1", "story-1"))

	close(release)
	require.NoError(t, <-errSecond)
	assert.True(t, agg.HasVoted("user-2", "story-1"))
	assert.Equal(t, int64(46), store.tally("story-1").Credible)
}

func TestForget_DiscardsLoadStartedBeforeForget(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	store.getStoryFn = func(_ context.Context, id string) (*domain.Story, error) {
		if calls.Add(1) == 1 {
			stale := newTestStory()
			close(started)
			<-release
			return &stale, nil
		}
		store.mu.Lock()
		defer store.mu.Unlock()
		c := store.stories[id].Clone()
		return &c, nil
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	result := make(chan domain.Tally, 1)
	go func() {
		tally, err := agg.Tally(context.Background(), "story-1")
		assert.NoError(t, err)
		result <- tally
	}()
	<-started

	assert.True(t, agg.Forget("story-1"))
	// Another instance persists a vote while the first read is still out.
	_, err := store.increment("story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	close(release)

	tally := <-result
	assert.Equal(t, int64(46), tally.Credible)
	assert.Equal(t, int32(2), calls.Load())
}

func TestForget_ReloadsFromStore(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceCredible)
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.gets.Load())

	assert.True(t, agg.Forget("story-1"))
	tally, err := agg.Tally(ctx, "story-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.gets.Load())
	assert.Equal(t, int64(46), tally.Credible)

	// Records survive a forget.
	_, err = agg.CastVote(ctx, "user-1", "story-1", domain.ChoiceFake)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)
}

func TestForget_RefusesWhileVoteInFlight(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	started := make(chan struct{})
	release := make(chan struct{})
	store.incrementVoteFn = func(_ context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
		close(started)
		<-release
		return store.increment(storyID, choice)
	}
	agg, _ := newTestAggregator(store, clockwork.NewFakeClock())

	done := make(chan error, 1)
	go func() {
		_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceCredible)
		done <- err
	}()
	<-started

	assert.False(t, agg.Forget("story-1"))
	assert.False(t, agg.HasVoted("user-1", "story-1"), "pending votes are not reported as cast")

	close(release)
	require.NoError(t, <-done)
	assert.True(t, agg.Forget("story-1"))
	assert.True(t, agg.Forget("unknown"))
}

func TestTally_UnknownStory(t *testing.T) {
	agg, _ := newTestAggregator(newMockStoryStore(), clockwork.NewFakeClock())

	_, err := agg.Tally(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrStoryNotFound)
}

func TestRecord_ReturnsCommittedRecord(t *testing.T) {
	clock := clockwork.NewFakeClock()
	agg, _ := newTestAggregator(newMockStoryStore(newTestStory()), clock)

	_, ok := agg.Record("user-1", "story-1")
	assert.False(t, ok)

	_, err := agg.CastVote(context.Background(), "user-1", "story-1", domain.ChoiceSuspicious)
	require.NoError(t, err)

	rec, ok := agg.Record("user-1", "story-1")
	require.True(t, ok)
	assert.Equal(t, domain.ChoiceSuspicious, rec.Choice)
	assert.Equal(t, clock.Now(), rec.CastAt)
}

func TestLookupVote_FallsBackToStore(t *testing.T) {
	store := newMockStoryStore(newTestStory())
	ctx := context.Background()

	before, _ := newTestAggregator(store, clockwork.NewFakeClock())
	_, err := before.CastVote(ctx, "user-1", "story-1", domain.ChoiceFake)
	require.NoError(t, err)

	after, _ := newTestAggregator(store, clockwork.NewFakeClock())
	assert.False(t, after.HasVoted("user-1", "story-1"))

	rec, err := after.LookupVote(ctx, "user-1", "story-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ChoiceFake, rec.Choice)
	assert.True(t, after.HasVoted("user-1", "story-1"), "store records are cached once seen")

	_, err = after.LookupVote(ctx, "user-2", "story-1")
	assert.ErrorIs(t, err, domain.ErrVoteNotFound)
}
