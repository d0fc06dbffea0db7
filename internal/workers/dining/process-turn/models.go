// internal/workers/dining/process-turn/models.go
package processturn

import "dinner-workers/internal/models"

type Input struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type Output struct {
	models.Response
}

const (
	outcomeResults       = "results"
	outcomeClarification = "clarification"
	outcomeSuperseded    = "superseded"
	outcomeFailed        = "failed"
)
