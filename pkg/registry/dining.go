// pkg/registry/dining.go
package registry

import (
	"time"

	"dinner-workers/internal/common/errors"
	ec "dinner-workers/internal/workers/dining/enrich-candidates"
	pdi "dinner-workers/internal/workers/dining/parse-dining-intent"
	pt "dinner-workers/internal/workers/dining/process-turn"
	rc "dinner-workers/internal/workers/dining/rank-candidates"
	sb "dinner-workers/internal/workers/dining/search-businesses"
)

const diningWorkflow = "dinner-recommendation"

func object(props map[string]interface{}, required ...string) JSONSchema {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	anyObject   = map[string]interface{}{"type": "object"}
	objectArray = map[string]interface{}{"type": "array", "items": anyObject}
	stringType  = map[string]interface{}{"type": "string"}
	intType     = map[string]interface{}{"type": "integer"}
	boolType    = map[string]interface{}{"type": "boolean"}
)

func codes(cs ...errors.ErrorCode) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

// Dining returns the activities served by the worker manager.
func Dining(version string) *ActivityRegistry {
	activity := func(id, name, desc string, timeout time.Duration, in, out map[string]interface{}, errs []string, tags ...string) Activity {
		return Activity{
			ID:                   id,
			DisplayName:          name,
			Description:          desc,
			Category:             "dining",
			Version:              version,
			TaskType:             id,
			ImplementationStatus: "completed",
			InputSchema:          in,
			OutputSchema:         out,
			ErrorCodes:           errs,
			Timeout:              timeout.String(),
			Workflows:            []string{diningWorkflow},
			Tags:                 tags,
		}
	}

	return &ActivityRegistry{
		Version:     version,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Activities: []Activity{
			activity(pdi.TaskType, "Parse Dining Intent",
				"Extracts a structured restaurant query or a clarifying question from the conversation.",
				pdi.LoadConfig().Timeout,
				object(map[string]interface{}{"history": objectArray, "message": stringType}),
				object(map[string]interface{}{"kind": stringType, "reply": stringType, "clarification": stringType, "query": anyObject}, "kind"),
				codes(errors.ErrCodeInvalidInput, errors.ErrCodeIntentExtractionFailed, errors.ErrCodeIntentAPITimeout, errors.ErrCodeAuthFailed),
				"genai", "intent"),
			activity(sb.TaskType, "Search Businesses",
				"Queries the business search API with retries, pagination and an optional response cache.",
				sb.LoadConfig().JobTimeout,
				object(map[string]interface{}{"query": anyObject}, "query"),
				object(map[string]interface{}{"candidates": objectArray, "partial": boolType, "warnings": map[string]interface{}{"type": "array"}, "nextCursor": stringType}, "candidates"),
				codes(errors.ErrCodeInvalidInput, errors.ErrCodeValidationFailed, errors.ErrCodeAuthFailed, errors.ErrCodeSearchUnavailable, errors.ErrCodeSearchRejected),
				"search", "external"),
			activity(rc.TaskType, "Rank Candidates",
				"Filters and orders candidates by a deterministic composite score.",
				rc.LoadConfig().Timeout,
				object(map[string]interface{}{"candidates": objectArray, "query": anyObject, "shownIds": map[string]interface{}{"type": "array"}, "limit": intType}, "query"),
				object(map[string]interface{}{"ranked": objectArray, "filteredOut": intType}, "ranked"),
				codes(errors.ErrCodeInvalidInput),
				"ranking"),
			activity(ec.TaskType, "Enrich Candidates",
				"Attaches review excerpts to the top ranked candidates with bounded concurrency.",
				ec.LoadConfig().JobTimeout,
				object(map[string]interface{}{"candidates": objectArray, "k": intType}, "candidates"),
				object(map[string]interface{}{"candidates": objectArray, "enriched": intType, "failed": intType}, "candidates"),
				codes(errors.ErrCodeInvalidInput, errors.ErrCodeEnrichmentFailed),
				"reviews", "external"),
			activity(pt.TaskType, "Process Turn",
				"Runs one conversation turn end to end against the stored session.",
				pt.LoadConfig().Timeout,
				object(map[string]interface{}{"sessionId": stringType, "message": stringType}, "message"),
				object(map[string]interface{}{"sessionId": stringType, "reply": stringType, "clarification": stringType, "candidates": objectArray, "partial": boolType, "turnCount": intType}, "sessionId", "reply"),
				codes(errors.ErrCodeInvalidInput, errors.ErrCodeIntentExtractionFailed, errors.ErrCodeIntentAPITimeout,
					errors.ErrCodeSearchUnavailable, errors.ErrCodeSearchRejected, errors.ErrCodeAuthFailed,
					errors.ErrCodeTurnSuperseded, errors.ErrCodeSessionStoreFailed),
				"session", "pipeline"),
		},
	}
}
