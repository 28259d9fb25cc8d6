package credibility

import "github.com/pscheid92/credpulse/internal/domain"

const (
	conclusionFalse = "This story has been identified as false. It lacks credible sources and contradicts established facts."
	conclusionTrue  = "This story has been verified as true, backed by strong evidence and expert consensus."
	conclusionOpen  = "This story is under investigation. Some evidence is available, but further verification is needed."
)

// SynthesizeConclusion maps a verification status to a conclusion sentence.
//
// Only fake and real get their own message. Unverified, investigating and
// debunked all read as "under investigation"; debunked stories are not
// reported as false here.
func SynthesizeConclusion(status domain.VerificationStatus) string {
	switch status {
	case domain.StatusFake:
		return conclusionFalse
	case domain.StatusReal:
		return conclusionTrue
	case domain.StatusUnverified, domain.StatusInvestigating, domain.StatusDebunked:
		return conclusionOpen
	default:
		return conclusionOpen
	}
}
