package credibility

import (
	"fmt"
	"math"

	"github.com/pscheid92/credpulse/internal/domain"
)

// BuildExplanation assembles factors, evidence and conclusion for a story.
// It never fails for a story that passes Validate.
func BuildExplanation(story domain.Story) domain.Explanation {
	factors := ComputeFactors(story)

	return domain.Explanation{
		Factors:    factors[:],
		Evidence:   evidence(story),
		Conclusion: SynthesizeConclusion(story.Status),
	}
}

func evidence(story domain.Story) []string {
	return []string{
		"Verification status: " + story.Status.Label(),
		fmt.Sprintf("Confidence: %d%%", int(math.Round(story.Confidence*100))),
		"Category: " + story.Category,
	}
}
