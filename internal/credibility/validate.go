package credibility

import (
	"fmt"
	"math"
	"strings"

	"github.com/pscheid92/credpulse/internal/domain"
)

// Validate checks the documented value domains of a story. The returned error
// wraps domain.ErrInvalidInput and names the first offending field.
func Validate(story domain.Story) error {
	if strings.TrimSpace(story.ID) == "" {
		return invalid("id", "must not be empty")
	}
	if math.IsNaN(story.Spread) || story.Spread < 0 || story.Spread > 100 {
		return invalid("spread", fmt.Sprintf("must be within [0,100], got %v", story.Spread))
	}
	if math.IsNaN(story.Confidence) || story.Confidence < 0 || story.Confidence > 1 {
		return invalid("confidence", fmt.Sprintf("must be within [0,1], got %v", story.Confidence))
	}
	if !story.Status.IsValid() {
		return invalid("verification_status", fmt.Sprintf("unknown value %q", story.Status))
	}
	if story.Votes.Credible < 0 || story.Votes.Suspicious < 0 || story.Votes.Fake < 0 {
		return invalid("votes", "counters must be non-negative")
	}
	return nil
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrInvalidInput, field, reason)
}
