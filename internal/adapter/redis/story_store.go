// Package redis implements the story store on Redis hashes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pscheid92/credpulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldID         = "id"
	fieldTitle      = "title"
	fieldSources    = "sources"
	fieldSpread     = "spread"
	fieldConfidence = "confidence"
	fieldStatus     = "verification_status"
	fieldCategory   = "category"
	fieldRegion     = "region"

	fieldChoice = "choice"
	fieldCastAt = "cast_at"
)

const (
	scriptStoryMissing = -1
	scriptAlreadyVoted = -2
)

var voteFields = map[domain.VoteChoice]string{
	domain.ChoiceCredible:   "votes_credible",
	domain.ChoiceSuspicious: "votes_suspicious",
	domain.ChoiceFake:       "votes_fake",
}

// incrementScript bumps one tally field only if the story hash exists, so a
// vote can never create a partial story.
var incrementScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

// recordVoteScript claims the vote:<story>:<user> hash and bumps the tally in
// one step. HSETNX on the choice field is the claim; nothing is written if
// the story is missing or the pair is already claimed.
var recordVoteScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HSETNX', KEYS[2], 'choice', ARGV[2]) == 0 then
  return -2
end
redis.call('HSET', KEYS[2], 'cast_at', ARGV[3])
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

// StoryStore keeps each story in the hash story:<id> and each vote record in
// the hash vote:<story>:<user>.
type StoryStore struct {
	rdb goredis.Cmdable
}

func NewStoryStore(rdb goredis.Cmdable) *StoryStore {
	return &StoryStore{rdb: rdb}
}

func storyKey(id string) string {
	return "story:" + id
}

func voteKey(storyID, userID string) string {
	return "vote:" + storyID + ":" + userID
}

func (s *StoryStore) GetStory(ctx context.Context, id string) (*domain.Story, error) {
	fields, err := s.rdb.HGetAll(ctx, storyKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrStoryNotFound
	}

	story, err := decodeStory(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode story %s: %w", id, err)
	}
	return story, nil
}

// IncrementVote runs HINCRBY inside a script, which Redis executes atomically.
func (s *StoryStore) IncrementVote(ctx context.Context, storyID string, choice domain.VoteChoice) (int64, error) {
	field, ok := voteFields[choice]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, choice)
	}

	count, err := incrementScript.Run(ctx, s.rdb, []string{storyKey(storyID)}, field).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrStoryNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment vote: %w", err)
	}
	return count, nil
}

func (s *StoryStore) RecordVote(ctx context.Context, record domain.VoteRecord) (int64, error) {
	field, ok := voteFields[record.Choice]
	if !ok {
		return 0, fmt.Errorf("%w: unknown vote choice %q", domain.ErrInvalidInput, record.Choice)
	}

	keys := []string{storyKey(record.StoryID), voteKey(record.StoryID, record.UserID)}
	castAt := record.CastAt.UTC().Format(time.RFC3339Nano)
	count, err := recordVoteScript.Run(ctx, s.rdb, keys, field, string(record.Choice), castAt).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record vote: %w", err)
	}

	switch count {
	case scriptStoryMissing:
		return 0, domain.ErrStoryNotFound
	case scriptAlreadyVoted:
		return 0, domain.ErrAlreadyVoted
	default:
		return count, nil
	}
}

func (s *StoryStore) GetVote(ctx context.Context, userID, storyID string) (domain.VoteRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, voteKey(storyID, userID)).Result()
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("failed to get vote: %w", err)
	}
	if len(fields) == 0 {
		return domain.VoteRecord{}, domain.ErrVoteNotFound
	}

	record := domain.VoteRecord{
		UserID:  userID,
		StoryID: storyID,
		Choice:  domain.VoteChoice(fields[fieldChoice]),
	}
	if raw := fields[fieldCastAt]; raw != "" {
		if record.CastAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return domain.VoteRecord{}, fmt.Errorf("failed to decode vote %s: %w", voteKey(storyID, userID), err)
		}
	}
	return record, nil
}

// PutStory replaces the story hash in a single transaction.
func (s *StoryStore) PutStory(ctx context.Context, story domain.Story) error {
	fields, err := encodeStory(story)
	if err != nil {
		return err
	}

	key := storyKey(story.ID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put story: %w", err)
	}
	return nil
}

func (s *StoryStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func encodeStory(story domain.Story) (map[string]any, error) {
	sources := story.Sources
	if sources == nil {
		sources = []string{}
	}
	encodedSources, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources: %w", err)
	}

	return map[string]any{
		fieldID:                             story.ID,
		fieldTitle:                          story.Title,
		fieldSources:                        string(encodedSources),
		fieldSpread:                         strconv.FormatFloat(story.Spread, 'g', -1, 64),
		fieldConfidence:                     strconv.FormatFloat(story.Confidence, 'g', -1, 64),
		fieldStatus:                         string(story.Status),
		voteFields[domain.ChoiceCredible]:   story.Votes.Credible,
		voteFields[domain.ChoiceSuspicious]: story.Votes.Suspicious,
		voteFields[domain.ChoiceFake]:       story.Votes.Fake,
		fieldCategory:                       story.Category,
		fieldRegion:                         story.Region,
	}, nil
}

func decodeStory(fields map[string]string) (*domain.Story, error) {
	story := domain.Story{
		ID:       fields[fieldID],
		Title:    fields[fieldTitle],
		Status:   domain.VerificationStatus(fields[fieldStatus]),
		Category: fields[fieldCategory],
		Region:   fields[fieldRegion],
	}

	if raw := fields[fieldSources]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &story.Sources); err != nil {
			return nil, fmt.Errorf("sources: %w", err)
		}
	}

	var err error
	if story.Spread, err = parseFloat(fields, fieldSpread); err != nil {
		return nil, err
	}
	if story.Confidence, err = parseFloat(fields, fieldConfidence); err != nil {
		return nil, err
	}
	for choice, field := range voteFields {
		n, err := parseInt(fields, field)
		if err != nil {
			return nil, err
		}
		story.Votes.Set(choice, n)
	}
	return &story, nil
}

func parseFloat(fields map[string]string, name string) (float64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func parseInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
