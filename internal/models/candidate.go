// internal/models/candidate.go
package models

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Candidate is one business returned by the search API. ID is the external
// identifier and is never generated locally.
type Candidate struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Coordinates    Coordinates            `json:"coordinates"`
	PriceTier      int                    `json:"priceTier,omitempty"` // 0 when unknown
	Rating         *float64               `json:"rating,omitempty"`
	ReviewCount    int                    `json:"reviewCount"`
	Categories     []string               `json:"categories"`
	DistanceMeters float64                `json:"distanceMeters"`
	RawAttributes  map[string]interface{} `json:"rawAttributes,omitempty"`
	ReviewExcerpt  string                 `json:"reviewExcerpt,omitempty"`
	ReviewRating   *float64               `json:"reviewRating,omitempty"`
}

// ScoreBreakdown explains a composite ranking score.
type ScoreBreakdown struct {
	Rating       float64 `json:"rating"`
	Keyword      float64 `json:"keyword"`
	Distance     float64 `json:"distance"`
	ReviewCount  float64 `json:"reviewCount"`
	ShownPenalty float64 `json:"shownPenalty"`
}

// RankedCandidate is a Candidate with its score.
type RankedCandidate struct {
	Candidate
	Score           float64        `json:"score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	MatchedKeywords []string       `json:"matchedKeywords,omitempty"`
	PreviouslyShown bool           `json:"previouslyShown,omitempty"`
}
