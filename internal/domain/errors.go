package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyVoted      = errors.New("user already voted on this story")
	ErrStoryNotFound     = errors.New("story not found")
	ErrVoteNotFound      = errors.New("vote not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPersistenceFailed = errors.New("vote persistence failed")
)

// PersistenceError reports a store failure after the optimistic tally update
// was rolled back. errors.Is matches both ErrPersistenceFailed and the cause.
type PersistenceError struct {
	StoryID string
	Choice  VoteChoice
	Cause   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: story %s choice %s: %v", ErrPersistenceFailed, e.StoryID, e.Choice, e.Cause)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailed, e.Cause}
}
