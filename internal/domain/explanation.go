package domain

// Factor is one named, scored signal contributing to an explanation.
// Factors are recomputed on every request and never persisted.
type Factor struct {
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// Explanation combines factors, evidence and a conclusion for a story.
// Factor and evidence order is fixed for presentation, not sorted by score.
type Explanation struct {
	Factors    []Factor `json:"factors"`
	Evidence   []string `json:"evidence"`
	Conclusion string   `json:"conclusion"`
}

// AnalysisResult is the full credibility assessment returned to callers.
type AnalysisResult struct {
	StoryID          string      `json:"story_id"`
	Sentiment        float64     `json:"sentiment"`
	Topics           []string    `json:"topics"`
	Entities         []string    `json:"entities"`
	CredibilityScore float64     `json:"credibility_score"`
	Explanation      Explanation `json:"explanation"`
}
