package domain

import (
	"context"
	"time"
)

// VoteRecord is the durable fact that a user has voted on a story.
type VoteRecord struct {
	UserID  string     `json:"user_id"`
	StoryID string     `json:"story_id"`
	Choice  VoteChoice `json:"choice"`
	CastAt  time.Time  `json:"cast_at"`
}

// VoteReceipt is returned by the aggregator after a persisted vote.
// Story carries the post-vote tally.
type VoteReceipt struct {
	Record VoteRecord
	Story  Story
}

// VoteOutcome is the orchestrator's answer to a successful vote: the new
// tally plus a fresh analysis computed from it.
type VoteOutcome struct {
	Record   VoteRecord     `json:"record"`
	Tally    Tally          `json:"tally"`
	Analysis AnalysisResult `json:"analysis"`
}

// VoteResult describes how a vote attempt ended.
type VoteResult int

const (
	VoteApplied      VoteResult = iota // Vote was persisted
	VoteAlreadyCast                    // User already has a record for the story
	VoteRolledBack                     // Persistence failed and the tally was restored
	VoteStoryMissing                   // Story not found in the store
	VoteInvalid                        // Rejected before any state change
)

func (r VoteResult) String() string {
	switch r {
	case VoteApplied:
		return "applied"
	case VoteAlreadyCast:
		return "already_voted"
	case VoteRolledBack:
		return "rolled_back"
	case VoteStoryMissing:
		return "not_found"
	case VoteInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Voter casts votes on stories. Implemented by the vote aggregator.
type Voter interface {
	CastVote(ctx context.Context, userID, storyID string, choice VoteChoice) (VoteReceipt, error)
}
