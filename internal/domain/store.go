package domain

import "context"

// StoryStore holds the canonical set of stories. The engine reads stories and
// increments tallies through it but never creates or deletes stories.
type StoryStore interface {
	// GetStory returns ErrStoryNotFound when no story has the given ID.
	GetStory(ctx context.Context, id string) (*Story, error)
	// IncrementVote atomically adds one to a single tally field and returns the new count.
	IncrementVote(ctx context.Context, storyID string, choice VoteChoice) (int64, error)
}

// StoryWriter is implemented by stores that can be seeded with stories.
// Only tooling and tests use it; the engine itself never writes stories.
type StoryWriter interface {
	PutStory(ctx context.Context, story Story) error
}

// VoteRecordStore keeps vote records durably, one per (UserID, StoryID).
type VoteRecordStore interface {
	// RecordVote claims the record's (UserID, StoryID) pair and increments the
	// chosen tally field in one atomic step, returning the new count. It returns
	// ErrAlreadyVoted if the pair is already claimed and ErrStoryNotFound if the
	// story does not exist. On any error nothing is stored.
	RecordVote(ctx context.Context, record VoteRecord) (int64, error)
	// GetVote returns ErrVoteNotFound when the pair has no record.
	GetVote(ctx context.Context, userID, storyID string) (VoteRecord, error)
}

// VoteStore is what the vote aggregator persists through.
type VoteStore interface {
	StoryStore
	VoteRecordStore
}
