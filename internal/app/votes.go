package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"golang.org/x/sync/singleflight"
)

type voteKey struct {
	userID  string
	storyID string
}

type voteEntry struct {
	record    domain.VoteRecord
	committed bool
}

// storyView is the aggregator's in-memory copy of a story. story.Votes holds
// the optimistic tally and committed the same tally without votes still
// awaiting the store. inFlight counts those pending increments per field, and
// maxSeen tracks the highest count the store reported while any were pending.
type storyView struct {
	story     domain.Story
	committed domain.Tally
	inFlight  map[domain.VoteChoice]int
	maxSeen   map[domain.VoteChoice]int64
}

// VoteAggregator applies votes to story tallies with one vote per user and story.
//
// A vote is reserved and applied to the in-memory view under mu, persisted
// without holding mu, then either committed or rolled back under mu again.
// The tally observed through the aggregator therefore never keeps a vote
// whose persistence failed.
//
// The in-memory records only short-circuit repeat votes seen by this process.
// The store's RecordVote claim is what enforces one vote per pair across
// restarts and instances.
type VoteAggregator struct {
	store          domain.VoteStore
	clock          clockwork.Clock
	metrics        *metrics.VoteMetrics
	persistTimeout time.Duration
	loads          singleflight.Group

	mu      sync.Mutex
	records map[voteKey]*voteEntry
	views   map[string]*storyView
	// epoch advances on every Forget. A load that started under an older
	// epoch is discarded instead of installed.
	epoch uint64
}

// NewVoteAggregator creates an aggregator persisting through store.
// A zero persistTimeout leaves the deadline to the caller's context.
func NewVoteAggregator(store domain.VoteStore, clock clockwork.Clock, m *metrics.VoteMetrics, persistTimeout time.Duration) *VoteAggregator {
	return &VoteAggregator{
		store:          store,
		clock:          clock,
		metrics:        m,
		persistTimeout: persistTimeout,
		records:        make(map[voteKey]*voteEntry),
		views:          make(map[string]*storyView),
	}
}

// CastVote records userID's vote on storyID and returns the post-vote story.
// The receipt's tally only counts votes the store has confirmed.
//
// Errors: domain.ErrInvalidInput, domain.ErrAlreadyVoted, domain.ErrStoryNotFound,
// or a *domain.PersistenceError after a full rollback.
func (a *VoteAggregator) CastVote(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteReceipt, error) {
	start := a.clock.Now()
	receipt, result, err := a.castVote(ctx, userID, storyID, choice)

	a.metrics.VotesProcessed.WithLabelValues(result.String()).Inc()
	a.metrics.ProcessingDuration.Observe(a.clock.Since(start).Seconds())
	if result == domain.VoteApplied {
		a.metrics.VotesByChoice.WithLabelValues(string(choice)).Inc()
	}
	return receipt, err
}

func (a *VoteAggregator) castVote(ctx context.Context, userID, storyID string, choice domain.VoteChoice) (domain.VoteReceipt, domain.VoteResult, error) {
	if err := validateVote(userID, storyID, choice); err != nil {
		return domain.VoteReceipt{}, domain.VoteInvalid, err
	}

	key := voteKey{userID: userID, storyID: storyID}
	record := domain.VoteRecord{UserID: userID, StoryID: storyID, Choice: choice, CastAt: a.clock.Now()}
	if !a.reserve(key, record) {
		return domain.VoteReceipt{}, domain.VoteAlreadyCast, domain.ErrAlreadyVoted
	}

	// A concurrent Forget may drop the view between load and apply.
	for applied := false; !applied; applied = a.apply(storyID, choice) {
		if err := a.ensureView(ctx, storyID); err != nil {
			a.release(key)
			if errors.Is(err, domain.ErrStoryNotFound) {
				return domain.VoteReceipt{}, domain.VoteStoryMissing, err
			}
			return domain.VoteReceipt{}, domain.VoteRolledBack, &domain.PersistenceError{StoryID: storyID, Choice: choice, Cause: err}
		}
	}

	count, err := a.persist(ctx, record)
	if errors.Is(err, domain.ErrAlreadyVoted) {
		// Claimed before this process saw it: an earlier run or another instance.
		a.rollback(key, storyID, choice)
		return domain.VoteReceipt{}, domain.VoteAlreadyCast, domain.ErrAlreadyVoted
	}
	if err != nil {
		a.rollback(key, storyID, choice)
		slog.Warn("Vote persistence failed, rolled back",
			"story_id", storyID,
			"user_id", userID,
			"choice", string(choice),
			"error", err)
		return domain.VoteReceipt{}, domain.VoteRolledBack, &domain.PersistenceError{StoryID: storyID, Choice: choice, Cause: err}
	}

	story := a.commit(key, storyID, choice, count)
	return domain.VoteReceipt{Record: record, Story: story}, domain.VoteApplied, nil
}

// reserve is the compare-and-set on the (user, story) pair. It fails if a
// record exists, whether committed or still awaiting persistence.
func (a *VoteAggregator) reserve(key voteKey, record domain.VoteRecord) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.records[key]; exists {
		return false
	}
	a.records[key] = &voteEntry{record: record}
	return true
}

func (a *VoteAggregator) release(key voteKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, key)
}

func (a *VoteAggregator) apply(storyID string, choice domain.VoteChoice) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	view, ok := a.views[storyID]
	if !ok {
		return false
	}
	view.story.Votes.Add(choice, 1)
	view.inFlight[choice]++
	a.metrics.InFlight.Inc()
	return true
}

func (a *VoteAggregator) rollback(key voteKey, storyID string, choice domain.VoteChoice) {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := a.views[storyID]
	view.story.Votes.Add(choice, -1)
	a.settle(view, choice)
	delete(a.records, key)
	a.metrics.InFlight.Dec()
}

func (a *VoteAggregator) commit(key voteKey, storyID string, choice domain.VoteChoice, count int64) domain.Story {
	a.mu.Lock()
	defer a.mu.Unlock()

	view := a.views[storyID]
	view.committed.Add(choice, 1)
	if count > view.maxSeen[choice] {
		view.maxSeen[choice] = count
	}
	a.settle(view, choice)
	a.records[key].committed = true
	a.metrics.InFlight.Dec()

	story := view.story.Clone()
	story.Votes = view.committed
	return story
}

// settle finishes one in-flight increment. Once none remain for the field, the
// view adopts the store's count if it is higher, picking up votes persisted by
// other writers. The view never moves below what it already shows.
func (a *VoteAggregator) settle(view *storyView, choice domain.VoteChoice) {
	view.inFlight[choice]--
	if view.inFlight[choice] > 0 {
		return
	}

	if seen := view.maxSeen[choice]; seen > view.story.Votes.Get(choice) {
		view.story.Votes.Set(choice, seen)
	}
	view.committed.Set(choice, view.story.Votes.Get(choice))
	delete(view.inFlight, choice)
	delete(view.maxSeen, choice)
}

func (a *VoteAggregator) persist(ctx context.Context, record domain.VoteRecord) (int64, error) {
	if a.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.persistTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count, err := a.store.RecordVote(ctx, record)
	if err != nil {
		return 0, fmt.Errorf("record vote: %w", err)
	}
	return count, nil
}

// ensureView loads the story into the view cache. Concurrent first votes on
// the same story share a single store read. It returns nil without installing
// a view if a Forget happened during the read; callers retry.
func (a *VoteAggregator) ensureView(ctx context.Context, storyID string) error {
	a.mu.Lock()
	_, ok := a.views[storyID]
	epoch := a.epoch
	a.mu.Unlock()
	if ok {
		return nil
	}

	key := fmt.Sprintf("%s@%d", storyID, epoch)
	loaded, _, err := sharedLoad(ctx, &a.loads, key, storyID, a.store.GetStory)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch {
		return nil
	}
	if _, exists := a.views[storyID]; !exists {
		a.views[storyID] = &storyView{
			story:     loaded.Clone(),
			committed: loaded.Votes,
			inFlight:  make(map[domain.VoteChoice]int),
			maxSeen:   make(map[domain.VoteChoice]int64),
		}
	}
	return nil
}

// Tally returns the tally as currently observed by the aggregator, loading the
// story on first access.
func (a *VoteAggregator) Tally(ctx context.Context, storyID string) (domain.Tally, error) {
	for {
		if err := a.ensureView(ctx, storyID); err != nil {
			return domain.Tally{}, err
		}

		a.mu.Lock()
		view, ok := a.views[storyID]
		var tally domain.Tally
		if ok {
			tally = view.story.Votes
		}
		a.mu.Unlock()
		if ok {
			return tally, nil
		}
	}
}

// Forget drops the cached view of a story so the next access reloads it from
// the store. It refuses while any vote on the story awaits persistence.
// Vote records are kept, so users still cannot vote twice.
func (a *VoteAggregator) Forget(storyID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if view, ok := a.views[storyID]; ok && len(view.inFlight) > 0 {
		return false
	}
	delete(a.views, storyID)
	a.epoch++
	return true
}

// CachedStories lists the stories whose view is currently held in memory.
func (a *VoteAggregator) CachedStories() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.views))
	for id := range a.views {
		ids = append(ids, id)
	}
	return ids
}

// HasVoted reports whether this process has seen a persisted vote for the pair.
func (a *VoteAggregator) HasVoted(userID, storyID string) bool {
	_, ok := a.Record(userID, storyID)
	return ok
}

// Record returns the committed vote record for the pair if this process has
// seen it. LookupVote also consults the store.
func (a *VoteAggregator) Record(userID, storyID string) (domain.VoteRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.records[voteKey{userID: userID, storyID: storyID}]
	if !ok || !entry.committed {
		return domain.VoteRecord{}, false
	}
	return entry.record, true
}

// LookupVote returns the vote record for the pair, falling back to the store
// for votes cast before a restart or through another instance.
// It returns domain.ErrVoteNotFound when no vote exists.
func (a *VoteAggregator) LookupVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	if record, ok := a.Record(userID, storyID); ok {
		return record, nil
	}

	record, err := a.store.GetVote(ctx, userID, storyID)
	if err != nil {
		return domain.VoteRecord{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := voteKey{userID: userID, storyID: storyID}
	if _, exists := a.records[key]; !exists {
		a.records[key] = &voteEntry{record: record, committed: true}
	}
	return record, nil
}

func validateVote(userID, storyID string, choice domain.VoteChoice) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id must not be empty", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(storyID) == "" {
		return fmt.Errorf("%w: story id must not be empty", domain.ErrInvalidInput)
	}
	if !choice.IsValid() {
		return fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, choice)
	}
	return nil
}
