package domain

import (
	"fmt"
	"strings"
)

// VerificationStatus is the fact-checking state of a story.
type VerificationStatus string

const (
	StatusFake          VerificationStatus = "fake"
	StatusReal          VerificationStatus = "real"
	StatusUnverified    VerificationStatus = "unverified"
	StatusInvestigating VerificationStatus = "investigating"
	StatusDebunked      VerificationStatus = "debunked"
)

// VerificationStatuses lists every status in declaration order.
func VerificationStatuses() []VerificationStatus {
	return []VerificationStatus{StatusFake, StatusReal, StatusUnverified, StatusInvestigating, StatusDebunked}
}

// ParseVerificationStatus converts a string to a VerificationStatus.
// Matching is case-insensitive; unknown values wrap ErrInvalidInput.
func ParseVerificationStatus(s string) (VerificationStatus, error) {
	status := VerificationStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: unknown verification status %q", ErrInvalidInput, s)
	}
	return status, nil
}

func (s VerificationStatus) IsValid() bool {
	switch s {
	case StatusFake, StatusReal, StatusUnverified, StatusInvestigating, StatusDebunked:
		return true
	default:
		return false
	}
}

// Label returns the human-readable name used in evidence strings.
func (s VerificationStatus) Label() string {
	switch s {
	case StatusFake:
		return "Fake"
	case StatusReal:
		return "Real"
	case StatusUnverified:
		return "Unverified"
	case StatusInvestigating:
		return "Under investigation"
	case StatusDebunked:
		return "Debunked"
	default:
		return "Unknown"
	}
}

// VoteChoice indicates which tally counter a vote applies to.
type VoteChoice string

const (
	ChoiceCredible   VoteChoice = "credible"
	ChoiceSuspicious VoteChoice = "suspicious"
	ChoiceFake       VoteChoice = "fake"
)

// ParseVoteChoice converts a string to a VoteChoice, wrapping ErrInvalidInput on unknown values.
func ParseVoteChoice(s string) (VoteChoice, error) {
	choice := VoteChoice(strings.ToLower(strings.TrimSpace(s)))
	if !choice.IsValid() {
		return "", fmt.Errorf("%w: unknown vote choice %q", ErrInvalidInput, s)
	}
	return choice, nil
}

func (c VoteChoice) IsValid() bool {
	switch c {
	case ChoiceCredible, ChoiceSuspicious, ChoiceFake:
		return true
	default:
		return false
	}
}

// Tally is the three-way community vote counter of a story.
type Tally struct {
	Credible   int64 `json:"credible"`
	Suspicious int64 `json:"suspicious"`
	Fake       int64 `json:"fake"`
}

func (t Tally) Total() int64 {
	return t.Credible + t.Suspicious + t.Fake
}

func (t Tally) Get(choice VoteChoice) int64 {
	switch choice {
	case ChoiceCredible:
		return t.Credible
	case ChoiceSuspicious:
		return t.Suspicious
	case ChoiceFake:
		return t.Fake
	default:
		return 0
	}
}

// Add adjusts the counter for choice by delta. Unknown choices are ignored.
func (t *Tally) Add(choice VoteChoice, delta int64) {
	switch choice {
	case ChoiceCredible:
		t.Credible += delta
	case ChoiceSuspicious:
		t.Suspicious += delta
	case ChoiceFake:
		t.Fake += delta
	}
}

// Set overwrites the counter for choice. Unknown choices are ignored.
func (t *Tally) Set(choice VoteChoice, value int64) {
	switch choice {
	case ChoiceCredible:
		t.Credible = value
	case ChoiceSuspicious:
		t.Suspicious = value
	case ChoiceFake:
		t.Fake = value
	}
}

// Story is a tracked claim with provenance, spread and community votes.
// Identity fields are immutable; only Votes changes over the story's lifetime.
type Story struct {
	ID         string             `json:"id"`
	Title      string             `json:"title,omitempty"`
	Sources    []string           `json:"sources"`
	Spread     float64            `json:"spread"`
	Confidence float64            `json:"confidence"`
	Status     VerificationStatus `json:"verification_status"`
	Votes      Tally              `json:"votes"`
	Category   string             `json:"category"`
	Region     string             `json:"region"`
}

// Clone returns a deep copy so callers can hand out snapshots without sharing Sources.
func (s Story) Clone() Story {
	c := s
	if s.Sources != nil {
		c.Sources = append([]string(nil), s.Sources...)
	}
	return c
}
