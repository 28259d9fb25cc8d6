package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/sony/gobreaker"
)

const (
	getStoryQuery = `SELECT id, title, sources, spread, confidence, verification_status,
       votes_credible, votes_suspicious, votes_fake, category, region
FROM stories
WHERE id = $1`

	upsertStoryQuery = `INSERT INTO stories (id, title, sources, spread, confidence, verification_status,
                     votes_credible, votes_suspicious, votes_fake, category, region)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    title               = EXCLUDED.title,
    sources             = EXCLUDED.sources,
    spread              = EXCLUDED.spread,
    confidence          = EXCLUDED.confidence,
    verification_status = EXCLUDED.verification_status,
    votes_credible      = EXCLUDED.votes_credible,
    votes_suspicious    = EXCLUDED.votes_suspicious,
    votes_fake          = EXCLUDED.votes_fake,
    category            = EXCLUDED.category,
    region              = EXCLUDED.region,
    updated_at          = NOW()`

	insertVoteQuery = `INSERT INTO votes (user_id, story_id, choice, cast_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, story_id) DO NOTHING`

	getVoteQuery = `SELECT choice, cast_at FROM votes WHERE user_id = $1 AND story_id = $2`
)

// One statement per tally column; the column name never comes from input.
var incrementQueries = map[domain.VoteChoice]string{
	domain.ChoiceCredible:   `UPDATE stories SET votes_credible = votes_credible + 1, updated_at = NOW() WHERE id = $1 RETURNING votes_credible`,
	domain.ChoiceSuspicious: `UPDATE stories SET votes_suspicious = votes_suspicious + 1, updated_at = NOW() WHERE id = $1 RETURNING votes_suspicious`,
	domain.ChoiceFake:       `UPDATE stories SET votes_fake = votes_fake + 1, updated_at = NOW() WHERE id = $1 RETURNING votes_fake`,
}

// StoryRepo is the PostgreSQL story store. Reads and increments go through a
// circuit breaker; seeding writes do not.
type StoryRepo struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

func NewStoryRepo(pool *pgxpool.Pool, m *metrics.StoreMetrics) *StoryRepo {
	return &StoryRepo{pool: pool, breaker: newBreaker(m)}
}

func (r *StoryRepo) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		return r.getStory(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Story), nil
}

func (r *StoryRepo) getStory(ctx context.Context, id string) (*domain.Story, error) {
	var (
		story  domain.Story
		status string
	)
	err := r.pool.QueryRow(ctx, getStoryQuery, id).Scan(
		&story.ID,
		&story.Title,
		&story.Sources,
		&story.Spread,
		&story.Confidence,
		&status,
		&story.Votes.Credible,
		&story.Votes.Suspicious,
		&story.Votes.Fake,
		&story.Category,
		&story.Region,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrStoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}

	story.Status = domain.VerificationStatus(status)
	return &story, nil
}

// IncrementVote adds one to a single tally column in one statement, so
// concurrent increments never lose updates.
func (r *StoryRepo) IncrementVote(ctx context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
	query, ok := incrementQueries[choice]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, choice)
	}

	v, err := r.breaker.Execute(func() (any, error) {
		return r.incrementVote(ctx, query, storyID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *StoryRepo) incrementVote(ctx context.Context, query, storyID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, query, storyID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrStoryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment vote: %w", err)
	}
	return count, nil
}

// RecordVote bumps the tally and inserts the vote row in one transaction. The
// UPDATE takes the story's row lock first, so a second claim on the same pair
// sees the committed row and the whole transaction rolls back.
func (r *StoryRepo) RecordVote(ctx context.Context, record domain.VoteRecord) (int64, error) {
	query, ok := incrementQueries[record.Choice]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, record.Choice)
	}

	v, err := r.breaker.Execute(func() (any, error) {
		return r.recordVote(ctx, query, record)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *StoryRepo) recordVote(ctx context.Context, query string, record domain.VoteRecord) (int64, error) {
	var count int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, query, record.StoryID).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrStoryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to increment vote: %w", err)
		}

		tag, err := tx.Exec(ctx, insertVoteQuery, record.UserID, record.StoryID, string(record.Choice), record.CastAt)
		if err != nil {
			return fmt.Errorf("failed to insert vote: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyVoted
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *StoryRepo) GetVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		return r.getVote(ctx, userID, storyID)
	})
	if err != nil {
		return domain.VoteRecord{}, err
	}
	return v.(domain.VoteRecord), nil
}

func (r *StoryRepo) getVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	record := domain.VoteRecord{UserID: userID, StoryID: storyID}
	var choice string
	err := r.pool.QueryRow(ctx, getVoteQuery, userID, storyID).Scan(&choice, &record.CastAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VoteRecord{}, domain.ErrVoteNotFound
	}
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("failed to get vote: %w", err)
	}
	record.Choice = domain.VoteChoice(choice)
	return record, nil
}

// PutStory inserts or replaces a story, including its tally.
func (r *StoryRepo) PutStory(ctx context.Context, story domain.Story) error {
	sources := story.Sources
	if sources == nil {
		sources = []string{}
	}

	_, err := r.pool.Exec(ctx, upsertStoryQuery,
		story.ID,
		story.Title,
		sources,
		story.Spread,
		story.Confidence,
		string(story.Status),
		story.Votes.Credible,
		story.Votes.Suspicious,
		story.Votes.Fake,
		story.Category,
		story.Region,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert story: %w", err)
	}
	return nil
}

// Ping fails while the circuit breaker is open, so readiness reflects what
// vote traffic actually sees.
func (r *StoryRepo) Ping(ctx context.Context) error {
	if state := r.breaker.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("postgres circuit breaker %s: %w", state, gobreaker.ErrOpenState)
	}
	return r.pool.Ping(ctx)
}
