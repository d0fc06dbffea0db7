// internal/models/response.go
package models

// Response is the serializable payload for the presentation layer.
// Clarification is set instead of Candidates when more input is needed.
type Response struct {
	SessionID     string            `json:"sessionId"`
	Reply         string            `json:"reply"`
	Clarification string            `json:"clarification,omitempty"`
	Query         *QueryModel       `json:"query,omitempty"`
	Candidates    []RankedCandidate `json:"candidates"`
	Partial       bool              `json:"partial"`
	Warnings      []string          `json:"warnings"`
	TurnCount     int               `json:"turnCount"`
}

// NeedsClarification reports whether the turn ended with a question.
func (r *Response) NeedsClarification() bool {
	return r.Clarification != ""
}
