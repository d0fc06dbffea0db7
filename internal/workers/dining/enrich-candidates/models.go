// internal/workers/dining/enrich-candidates/models.go
package enrichcandidates

import "dinner-workers/internal/models"

type Input struct {
	Candidates []models.RankedCandidate `json:"candidates"`
	K          int                      `json:"k,omitempty"`
}

type Output struct {
	Candidates []models.RankedCandidate `json:"candidates"`
	Enriched   int                      `json:"enriched"`
	Failed     int                      `json:"failed"`
	FailedIDs  []string                 `json:"failedIds,omitempty"`
}

// Review is one review returned by the business API.
type Review struct {
	Text   string   `json:"text"`
	Rating *float64 `json:"rating,omitempty"`
}
