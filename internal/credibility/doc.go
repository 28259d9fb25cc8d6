// Package credibility implements the deterministic credibility scoring rules.
//
// ComputeFactors, SynthesizeConclusion and BuildExplanation are pure functions of a
// story's current state: no I/O, no randomness, no hidden state. Validate guards the
// value domains they rely on; callers validate before building explanations.
package credibility
