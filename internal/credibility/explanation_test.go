package credibility

import (
	"errors"
	"math"
	"testing"

	"github.com/pscheid92/credpulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildExplanation(t *testing.T) {
	story := newTestStory()
	expl := BuildExplanation(story)

	require.Len(t, expl.Factors, 3)
	factors := ComputeFactors(story)
	assert.Equal(t, factors[:], expl.Factors)

	assert.Equal(t, []string{
		"Verification status: Under investigation",
		"Confidence: 85%",
		"Category: Health",
	}, expl.Evidence)
	assert.Equal(t, SynthesizeConclusion(domain.StatusInvestigating), expl.Conclusion)
}

func TestBuildExplanation_RoundsConfidence(t *testing.T) {
	story := newTestStory()
	story.Confidence = 0.675
	expl := BuildExplanation(story)
	assert.Equal(t, "Confidence: 68%", expl.Evidence[1])

	story.Confidence = 0.004
	expl = BuildExplanation(story)
	assert.Equal(t, "Confidence: 0%", expl.Evidence[1])
}

func TestBuildExplanation_Deterministic(t *testing.T) {
	story := newTestStory()
	assert.Equal(t, BuildExplanation(story), BuildExplanation(story))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *domain.Story)
		wantErr string
	}{
		{"valid", func(*domain.Story) {}, ""},
		{"empty id", func(s *domain.Story) { s.ID = " " }, "id"},
		{"negative spread", func(s *domain.Story) { s.Spread = -1 }, "spread"},
		{"spread over 100", func(s *domain.Story) { s.Spread = 100.5 }, "spread"},
		{"NaN spread", func(s *domain.Story) { s.Spread = math.NaN() }, "spread"},
		{"confidence over 1", func(s *domain.Story) { s.Confidence = 1.2 }, "confidence"},
		{"NaN confidence", func(s *domain.Story) { s.Confidence = math.NaN() }, "confidence"},
		{"unknown status", func(s *domain.Story) { s.Status = "satire" }, "verification_status"},
		{"negative votes", func(s *domain.Story) { s.Votes.Fake = -1 }, "votes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			story := newTestStory()
			tt.mutate(&story)

			err := Validate(story)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_BoundsAreInclusive(t *testing.T) {
	story := newTestStory()
	story.Spread = 100
	story.Confidence = 0
	assert.NoError(t, Validate(story))

	story.Spread = 0
	story.Confidence = 1
	assert.NoError(t, Validate(story))
}
