package credibility

import (
	"fmt"
	"math"
	"strconv"

	"github.com/pscheid92/credpulse/internal/domain"
)

const (
	FactorSourceReliability  = "Source Reliability"
	FactorSpreadAnalysis     = "Spread Analysis"
	FactorCommunityConsensus = "Community Consensus"

	multiSourceScore  = 0.8
	singleSourceScore = 0.4
)

// ComputeFactors derives the three explanatory factors from a story's signals.
// The order is fixed: source reliability, spread, community consensus.
func ComputeFactors(story domain.Story) [3]domain.Factor {
	return [3]domain.Factor{
		sourceReliability(story.Sources),
		spreadAnalysis(story.Spread),
		communityConsensus(story.Votes),
	}
}

func sourceReliability(sources []string) domain.Factor {
	score := singleSourceScore
	if len(sources) > 1 {
		score = multiSourceScore
	}

	noun := "sources"
	if len(sources) == 1 {
		noun = "source"
	}

	return domain.Factor{
		Name:        FactorSourceReliability,
		Score:       score,
		Description: fmt.Sprintf("Reported by %d %s", len(sources), noun),
	}
}

func spreadAnalysis(spread float64) domain.Factor {
	return domain.Factor{
		Name:        FactorSpreadAnalysis,
		Score:       round3(1 - spread/100),
		Description: fmt.Sprintf("Reached %s%% of the audience", strconv.FormatFloat(spread, 'f', -1, 64)),
	}
}

// communityConsensus scores the credible share of all votes. With no votes the
// ratio is undefined, so the factor reports 0 and says so.
func communityConsensus(votes domain.Tally) domain.Factor {
	total := votes.Total()
	if total == 0 {
		return domain.Factor{
			Name:        FactorCommunityConsensus,
			Score:       0,
			Description: "No votes yet",
		}
	}

	ratio := float64(votes.Credible) / float64(total)
	return domain.Factor{
		Name:        FactorCommunityConsensus,
		Score:       round3(ratio),
		Description: fmt.Sprintf("%d%% of community votes rate this story credible", int(math.Round(ratio*100))),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
