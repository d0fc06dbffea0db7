package parsediningintent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

func completion(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"message": map[string]interface{}{"role": "assistant", "content": content}},
		},
	}
}

func testConfig(baseURL string) *Config {
	c := LoadConfig()
	c.GenAIBaseURL = baseURL
	c.APIKey = "sk-test"
	c.Timeout = time.Second
	c.MaxRetries = 2
	return c
}

func userTurn(text string) []models.Turn {
	return []models.Turn{{Role: models.RoleUser, Text: text}}
}

// ==========================
// Interpret Tests
// ==========================

func TestInterpret(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		kind         ResultKind
		reply        string
		invalidField string
		check        func(t *testing.T, q *models.QueryModel)
	}{
		{
			name:    "bare json query",
			content: `{"reply": "Looking for Thai near you.", "query": {"location": {"address": "Waterloo, ON"}, "cuisine": ["thai"], "min_rating": 4}}`,
			kind:    KindQuery,
			reply:   "Looking for Thai near you.",
			check: func(t *testing.T, q *models.QueryModel) {
				assert.Equal(t, "Waterloo, ON", q.Location.Address)
				assert.Equal(t, []string{"thai"}, q.Cuisine)
				assert.Equal(t, 4.0, *q.MinRating)
			},
		},
		{
			name:    "json wrapped in prose and fences",
			content: "Sure!\n```json\n{\"reply\": \"On it.\", \"query\": {\"budget\": \"$$\", \"avoid\": [\"pizza\"], \"vibe\": [\"cozy\"]}}\n```",
			kind:    KindQuery,
			reply:   "On it.",
			check: func(t *testing.T, q *models.QueryModel) {
				assert.Equal(t, []int{2}, q.PriceTier)
				assert.Equal(t, []string{"pizza"}, q.Exclusions)
				assert.Equal(t, []string{"cozy"}, q.Keywords)
				assert.False(t, q.HasLocation())
			},
		},
		{
			name:    "empty query asks a question",
			content: `{"reply": "What city are you in?", "query": {}}`,
			kind:    KindClarify,
			reply:   "What city are you in?",
		},
		{
			name:    "plain text becomes the question",
			content: "Do you prefer something spicy or mild?",
			kind:    KindClarify,
			reply:   "Do you prefer something spicy or mild?",
		},
		{
			name:    "missing reply and query",
			content: `{}`,
			kind:    KindClarify,
			reply:   DefaultClarification,
		},
		{
			name:    "wrong envelope types",
			content: `{"reply": 42, "query": "thai"}`,
			kind:    KindClarify,
			reply:   DefaultClarification,
		},
		{
			name:         "out of range rating",
			content:      `{"reply": "Got it.", "query": {"location": "Seattle", "min_rating": 9}}`,
			kind:         KindClarify,
			reply:        "Got it. What minimum rating, between 0 and 5, would you like?",
			invalidField: "min_rating",
		},
		{
			name:    "null query",
			content: `{"reply": "Tell me more.", "query": null}`,
			kind:    KindClarify,
			reply:   "Tell me more.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Interpret(tt.content)
			assert.Equal(t, tt.kind, r.Kind)
			assert.Equal(t, tt.reply, r.Reply)
			assert.Equal(t, tt.invalidField, r.InvalidField)
			if tt.kind == KindClarify {
				assert.Nil(t, r.Query)
				return
			}
			require.NotNil(t, r.Query)
			if tt.check != nil {
				tt.check(t, r.Query)
			}
		})
	}
}

// ==========================
// Conformance Harness
// ==========================

type fixture struct {
	name       string
	turns      []models.Turn
	completion string
}

var conformanceFixtures = []fixture{
	{
		name:       "vague opener",
		turns:      userTurn("I'm hungry"),
		completion: `{"reply": "What are you in the mood for, and where?", "query": {}}`,
	},
	{
		name:       "full request",
		turns:      userTurn("cheap spicy food in Seattle, no fast food"),
		completion: `{"reply": "Here are some options.", "query": {"location": {"address": "Seattle"}, "budget": "$", "keywords": ["spicy"], "avoid": ["fast food"], "distance_km": 2.5}}`,
	},
	{
		name: "refinement",
		turns: []models.Turn{
			{Role: models.RoleUser, Text: "thai in Seattle"},
			{Role: models.RoleAssistant, Text: "Here are some Thai places."},
			{Role: models.RoleUser, Text: "actually make it vietnamese"},
		},
		completion: `{"reply": "Switching to Vietnamese.", "query": {"cuisine": ["vietnamese"], "replace": ["cuisine"]}}`,
	},
	{
		name:       "coordinates",
		turns:      userTurn("near me"),
		completion: `{"reply": "Searching near you.", "query": {"location": {"latitude": 47.6, "lng": -122.3}, "open_now": true}}`,
	},
	{
		name:       "chatty model",
		turns:      userTurn("anything good?"),
		completion: `I think you'd enjoy this! {"reply": "Try ramen.", "query": {"keywords": ["ramen"], "limit": 5}} Enjoy!`,
	},
	{
		name:       "malformed output",
		turns:      userTurn("sushi"),
		completion: `{"reply": "Sushi it is", "query": {"cuisine": ["sushi"]`,
	},
	{
		name:       "invalid coordinates",
		turns:      userTurn("somewhere"),
		completion: `{"reply": "Ok", "query": {"location": {"latitude": 123, "longitude": 5}}}`,
	},
}

// assertConforms checks the extractor contract: a clarification carries
// text and no query; a query re-validates to itself and is not empty.
func assertConforms(t *testing.T, r *Result) {
	t.Helper()
	switch r.Kind {
	case KindClarify:
		assert.NotEmpty(t, r.Reply)
		assert.Nil(t, r.Query)
	case KindQuery:
		require.NotNil(t, r.Query)
		assert.False(t, r.Query.IsEmpty())
		again, err := models.ValidateQuery(r.Query.ToMap(), false)
		require.NoError(t, err)
		assert.Equal(t, r.Query, again)
	default:
		t.Fatalf("unknown result kind %q", r.Kind)
	}
}

func runConformance(t *testing.T, newExtractor func(f fixture) IntentExtractor) {
	for _, f := range conformanceFixtures {
		t.Run(f.name, func(t *testing.T) {
			r, err := newExtractor(f).Extract(context.Background(), f.turns)
			require.NoError(t, err)
			assertConforms(t, r)
		})
	}
}

func TestChatExtractor_Conformance(t *testing.T) {
	runConformance(t, func(f fixture) IntentExtractor {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(completion(f.completion))
		}))
		t.Cleanup(server.Close)
		return NewChatExtractor(testConfig(server.URL), logger.NewNoOpLogger())
	})
}

// ==========================
// Chat Extractor Tests
// ==========================

func TestChatExtractor_RequestShape(t *testing.T) {
	var received chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(completion(`{"reply": "ok", "query": {"location": "Paris"}}`))
	}))
	defer server.Close()

	turns := []models.Turn{
		{Role: models.RoleUser, Text: "dinner in Paris"},
		{Role: models.RoleAssistant, Text: "What cuisine?"},
		{Role: models.RoleUser, Text: "anything"},
	}
	r, err := NewChatExtractor(testConfig(server.URL), logger.NewTestLogger(t)).Extract(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, KindQuery, r.Kind)

	require.Len(t, received.Messages, 4)
	assert.Equal(t, "system", received.Messages[0].Role)
	assert.Equal(t, SystemPrompt, received.Messages[0].Content)
	assert.Equal(t, "assistant", received.Messages[2].Role)
	assert.Equal(t, "anything", received.Messages[3].Content)
	assert.Equal(t, "gpt-4o-mini", received.Model)
	assert.Equal(t, "json_object", received.ResponseFormat["type"])
}

func TestChatExtractor_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(completion(`{"reply": "ok", "query": {}}`))
	}))
	defer server.Close()

	r, err := NewChatExtractor(testConfig(server.URL), logger.NewNoOpLogger()).Extract(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	assert.True(t, r.IsClarification())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChatExtractor_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		calls    int32
		expected error
	}{
		{name: "unauthorized is not retried", status: http.StatusUnauthorized, calls: 1, expected: errors.ErrAuth},
		{name: "bad request is not retried", status: http.StatusBadRequest, calls: 1, expected: errors.ErrIntentExtraction},
		{name: "server errors exhaust retries", status: http.StatusInternalServerError, calls: 3, expected: errors.ErrIntentExtraction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewChatExtractor(testConfig(server.URL), logger.NewNoOpLogger()).Extract(context.Background(), userTurn("hi"))
			assert.ErrorIs(t, err, tt.expected)
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestChatExtractor_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewChatExtractor(testConfig(server.URL), logger.NewNoOpLogger()).Extract(ctx, userTurn("hi"))
	assert.ErrorIs(t, err, errors.ErrIntentTimeout)
}

func TestChatExtractor_MissingKey(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.APIKey = ""
	_, err := NewChatExtractor(cfg, logger.NewNoOpLogger()).Extract(context.Background(), userTurn("hi"))
	assert.ErrorIs(t, err, errors.ErrAuth)
}

// ==========================
// Handler Tests
// ==========================

type stubExtractor struct {
	result *Result
	turns  []models.Turn
}

func (s *stubExtractor) Extract(_ context.Context, turns []models.Turn) (*Result, error) {
	s.turns = turns
	return s.result, nil
}

func TestHandler_Execute(t *testing.T) {
	q, err := models.ValidateQuery(map[string]interface{}{"location": "Seattle"}, true)
	require.NoError(t, err)
	stub := &stubExtractor{result: QueryResult("Found some.", q)}
	h := NewHandler(testConfig("http://unused"), stub, logger.NewNoOpLogger())

	out, err := h.Execute(context.Background(), &Input{
		History: []models.Turn{{Role: models.RoleUser, Text: "hello"}, {Role: models.RoleAssistant, Text: "Where?"}},
		Message: " Seattle ",
	})
	require.NoError(t, err)
	assert.Equal(t, KindQuery, out.Kind)
	assert.Equal(t, q, out.Query)
	assert.Empty(t, out.Clarification)
	require.Len(t, stub.turns, 3)
	assert.Equal(t, "Seattle", stub.turns[2].Text)

	stub.result = Clarify("Which cuisine?")
	out, err = h.Execute(context.Background(), &Input{Message: "food"})
	require.NoError(t, err)
	assert.Equal(t, "Which cuisine?", out.Clarification)
	assert.Nil(t, out.Query)

	_, err = h.Execute(context.Background(), &Input{Message: "  "})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}
