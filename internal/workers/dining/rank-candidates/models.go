// internal/workers/dining/rank-candidates/models.go
package rankcandidates

import "dinner-workers/internal/models"

type Input struct {
	Candidates []models.Candidate `json:"candidates"`
	Query      *models.QueryModel `json:"query"`
	ShownIDs   []string           `json:"shownIds"`
	Limit      int                `json:"limit,omitempty"`
}

type Output struct {
	Ranked      []models.RankedCandidate `json:"ranked"`
	FilteredOut int                      `json:"filteredOut"`
}
