package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// SessionContext is the per-conversation state carried between turns.
type SessionContext struct {
	SessionID          string      `json:"sessionId"`
	AccumulatedQuery   *QueryModel `json:"accumulatedQuery,omitempty"`
	ShownIDs           []string    `json:"shownIds"`
	TurnCount          int         `json:"turnCount"`
	ClarificationCount int         `json:"clarificationCount"`
	History            []Turn      `json:"history,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	LastActiveAt       time.Time   `json:"lastActiveAt"`
}

func NewSessionContext(id string, now time.Time) *SessionContext {
	return &SessionContext{
		SessionID:    id,
		ShownIDs:     []string{},
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// ApplyTurn merges q into the accumulated query and bumps the turn counter.
// A nil q records a turn that produced no query.
func (s *SessionContext) ApplyTurn(q *QueryModel, now time.Time) {
	if q != nil {
		s.AccumulatedQuery = MergeQuery(s.AccumulatedQuery, q)
	}
	s.TurnCount++
	s.LastActiveAt = now
}

// RecordClarification counts a turn that ended with a question.
func (s *SessionContext) RecordClarification(now time.Time) {
	s.ClarificationCount++
	s.LastActiveAt = now
}

// AppendHistory adds a message, keeping at most max turns (0 keeps all).
func (s *SessionContext) AppendHistory(role, text string, max int) {
	s.History = append(s.History, Turn{Role: role, Text: text})
	if max > 0 && len(s.History) > max {
		s.History = append([]Turn{}, s.History[len(s.History)-max:]...)
	}
}

// MarkShown appends ids not seen before. Shown ids are never removed.
func (s *SessionContext) MarkShown(ids ...string) {
	s.ShownIDs = appendUnique(s.ShownIDs, ids...)
}

func (s *SessionContext) ShownSet() map[string]bool {
	set := make(map[string]bool, len(s.ShownIDs))
	for _, id := range s.ShownIDs {
		set[id] = true
	}
	return set
}

// IsExpired checks whether the session sat idle longer than idle.
func (s *SessionContext) IsExpired(now time.Time, idle time.Duration) bool {
	return idle > 0 && now.Sub(s.LastActiveAt) > idle
}

// Clone returns a deep copy so a turn can work on state it may discard.
func (s *SessionContext) Clone() *SessionContext {
	if s == nil {
		return nil
	}
	c := *s
	c.AccumulatedQuery = s.AccumulatedQuery.Clone()
	c.ShownIDs = append([]string{}, s.ShownIDs...)
	if s.History != nil {
		c.History = append([]Turn{}, s.History...)
	}
	return &c
}
