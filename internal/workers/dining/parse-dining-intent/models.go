// internal/workers/dining/parse-dining-intent/models.go
package parsediningintent

import "dinner-workers/internal/models"

type Input struct {
	History []models.Turn `json:"history"`
	Message string        `json:"message"`
}

type Output struct {
	Kind          ResultKind         `json:"kind"`
	Reply         string             `json:"reply"`
	Clarification string             `json:"clarification,omitempty"`
	Query         *models.QueryModel `json:"query,omitempty"`
}

type ResultKind string

const (
	KindClarify ResultKind = "clarify"
	KindQuery   ResultKind = "query"
)

// Result is either a clarification question or a validated query, never both.
type Result struct {
	Kind  ResultKind
	Reply string
	Query *models.QueryModel

	// InvalidField names the query field that failed validation, if any.
	InvalidField string
}

func (r *Result) IsClarification() bool {
	return r.Kind == KindClarify
}

func Clarify(text string) *Result {
	return &Result{Kind: KindClarify, Reply: text}
}

func QueryResult(reply string, q *models.QueryModel) *Result {
	return &Result{Kind: KindQuery, Reply: reply, Query: q}
}

// chat completions wire format

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
