// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (story.go, vote.go, explanation.go, store.go, errors.go) hold
// shared types and the contracts adapters implement. No implementation code beyond
// small value-type helpers.
package domain
