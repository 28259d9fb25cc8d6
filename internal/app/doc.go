// Package app provides the application service layer.
//
// VoteAggregator enforces one vote per user and story and keeps tallies in
// step with the store. Service combines it with the credibility rules to
// answer analysis and vote requests. Both depend on domain interfaces only.
package app
