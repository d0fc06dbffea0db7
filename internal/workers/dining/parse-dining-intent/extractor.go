// internal/workers/dining/parse-dining-intent/extractor.go
package parsediningintent

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"dinner-workers/internal/common/errors"
	commonhttp "dinner-workers/internal/common/http"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/validation"
	"dinner-workers/internal/models"
)

// IntentExtractor turns a conversation into a clarification or a query.
// Implementations must never return a Query result whose query fails
// models.ValidateQuery.
type IntentExtractor interface {
	Extract(ctx context.Context, turns []models.Turn) (*Result, error)
}

const DefaultClarification = "Where would you like to eat, and what are you in the mood for?"

const SystemPrompt = `You are a dinner recommendation assistant.

You talk to the user about what they want for dinner and build a structured
search query that the backend sends to a local business search API. The
backend shows real restaurants; you never invent restaurant names or places.

RESPONSE FORMAT (a single JSON object, no markdown, no comments):

{
  "reply": "<friendly natural language reply to the user>",
  "query": {
    "location": {"address": "Waterloo, ON"},
    "cuisine": ["thai"],
    "price_tier": [1, 2],
    "radius_meters": 3000,
    "min_rating": 4.0,
    "keywords": ["spicy"],
    "exclusions": ["fast_food"],
    "open_now": true,
    "limit": 10
  }
}

Rules:
- Output only the JSON object, nothing before or after it.
- Use double quotes for every key and string value.
- If you do not have enough information to search yet, ask a question in
  "reply" and set "query" to {}.
- Only include fields the user asked for or clearly implied.
- When the user changes their mind about cuisine, keywords or exclusions,
  list the field name in "replace".`

var envelopeSchema = validation.MustCompile(`{
  "type": "object",
  "properties": {
    "reply": {"type": "string"},
    "query": {"type": ["object", "null"]}
  }
}`)

// ChatExtractor calls an OpenAI-compatible chat completions endpoint.
type ChatExtractor struct {
	config *Config
	http   *commonhttp.Client
	logger logger.Logger
}

func NewChatExtractor(cfg *Config, log logger.Logger) *ChatExtractor {
	return &ChatExtractor{
		config: cfg,
		http:   commonhttp.NewClient(cfg.Timeout),
		logger: log,
	}
}

func (e *ChatExtractor) Extract(ctx context.Context, turns []models.Turn) (*Result, error) {
	if e.config.APIKey == "" {
		return nil, errors.NewAuthError("genai", "API key is not configured")
	}

	messages := make([]chatMessage, 0, len(turns)+1)
	messages = append(messages, chatMessage{Role: "system", Content: SystemPrompt})
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: t.Role, Content: t.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:          e.config.Model,
		Messages:       messages,
		Temperature:    e.config.Temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, errors.NewInternalError(err)
	}

	content, err := e.complete(ctx, body)
	if err != nil {
		return nil, err
	}

	result := Interpret(content)
	e.logger.Info("intent extracted", map[string]interface{}{
		"kind":         result.Kind,
		"invalidField": result.InvalidField,
	})
	return result, nil
}

func (e *ChatExtractor) complete(ctx context.Context, body []byte) (string, error) {
	endpoint := strings.TrimRight(e.config.GenAIBaseURL, "/") + "/chat/completions"
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", errors.NewIntentAPITimeoutError()
			}
		}

		content, retry, err := e.send(ctx, endpoint, body)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil || isTimeout(err) {
			return "", errors.NewIntentAPITimeoutError()
		}
		lastErr = err
		if !retry {
			break
		}
	}

	var stdErr *errors.StandardError
	if stderrors.As(lastErr, &stdErr) {
		return "", stdErr
	}
	return "", errors.NewIntentExtractionFailedError(lastErr)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// send performs one request. retry reports whether the failure is transient.
func (e *ChatExtractor) send(ctx context.Context, endpoint string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.http.DoWithContext(ctx, req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", false, errors.NewAuthError("genai", fmt.Sprintf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return "", false, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", true, fmt.Errorf("decode error: %v", err)
	}
	if len(out.Choices) == 0 {
		return "", true, fmt.Errorf("no choices in response")
	}
	return out.Choices[0].Message.Content, false, nil
}

// ParseEnvelope extracts the {"reply", "query"} object from model output. It
// accepts a bare object or one surrounded by other text, and otherwise keeps
// the raw text as the reply.
func ParseEnvelope(text string) map[string]interface{} {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(text), &doc); err == nil && doc != nil {
		return doc
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err == nil && doc != nil {
			return doc
		}
	}

	return map[string]interface{}{"reply": strings.TrimSpace(text), "query": map[string]interface{}{}}
}

// Interpret maps raw model output to a Result. Anything that does not yield a
// valid, non-empty query becomes a clarification.
func Interpret(text string) *Result {
	doc := ParseEnvelope(text)

	if res := envelopeSchema.Validate(doc); !res.Valid {
		reply, _ := doc["reply"].(string)
		return Clarify(clarificationText(reply))
	}

	reply, _ := doc["reply"].(string)
	reply = strings.TrimSpace(reply)

	raw, _ := doc["query"].(map[string]interface{})
	if len(raw) == 0 {
		return Clarify(clarificationText(reply))
	}

	q, err := models.ValidateQuery(raw, false)
	if err != nil {
		r := Clarify(clarificationText(reply))
		var vErr *errors.ValidationError
		if stderrors.As(err, &vErr) {
			r.InvalidField = vErr.Field
			r.Reply = fieldClarification(vErr.Field, reply)
		}
		return r
	}
	if q.IsEmpty() {
		return Clarify(clarificationText(reply))
	}
	return QueryResult(reply, q)
}

func clarificationText(reply string) string {
	if strings.TrimSpace(reply) == "" {
		return DefaultClarification
	}
	return strings.TrimSpace(reply)
}

func fieldClarification(field, reply string) string {
	var ask string
	switch field {
	case "location":
		ask = "Which area should I search in?"
	case "price_tier":
		ask = "What price range works for you, from $ to $$$$?"
	case "min_rating":
		ask = "What minimum rating, between 0 and 5, would you like?"
	case "radius_meters":
		ask = "How far are you willing to travel?"
	default:
		ask = "Could you rephrase what you're looking for?"
	}
	if reply == "" {
		return ask
	}
	return reply + " " + ask
}
