// internal/workers/dining/rank-candidates/handler.go
package rankcandidates

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"
	"dinner-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "rank-candidates"

	// scores are rounded before comparison so equal inputs tie exactly
	scorePrecision = 1e6
)

type Handler struct {
	config   *Config
	logger   logger.Logger
	errorsHd *errors.ErrorHandler
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		logger:   l,
		errorsHd: errors.NewErrorHandler(l),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, errors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(_ context.Context, input *Input) (*Output, error) {
	if input.Query == nil {
		return nil, errors.NewInvalidInputError("query is required")
	}

	start := time.Now()
	shown := make(map[string]bool, len(input.ShownIDs))
	for _, id := range input.ShownIDs {
		shown[id] = true
	}

	ranked := Rank(input.Candidates, WithRatingFloor(input.Query, h.config.DefaultMinRating), shown, h.config.Weights)
	filtered := len(input.Candidates) - len(ranked)

	limit := input.Limit
	if limit <= 0 {
		limit = h.config.MaxResults
	}
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	h.logger.Info("ranking completed", map[string]interface{}{
		"inputCount":  len(input.Candidates),
		"filteredOut": filtered,
		"outputCount": len(ranked),
		"durationMs":  time.Since(start).Milliseconds(),
	})

	return &Output{Ranked: ranked, FilteredOut: filtered}, nil
}

// Execute ranks outside of a Zeebe job.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

// ==========================
// Ranking
// ==========================

// WithRatingFloor returns q with MinRating set to floor when the query has
// none. q itself is never modified.
func WithRatingFloor(q *models.QueryModel, floor float64) *models.QueryModel {
	if q == nil || q.MinRating != nil || floor <= 0 {
		return q
	}
	c := q.Clone()
	c.MinRating = &floor
	return c
}

// Rank filters and orders candidates. The result depends only on its
// arguments: candidates are copied, never mutated, and ties fall back to
// review count descending then id ascending.
func Rank(candidates []models.Candidate, q *models.QueryModel, shown map[string]bool, w Weights) []models.RankedCandidate {
	kept := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if passesFilters(c, q) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return []models.RankedCandidate{}
	}

	maxDistance := 0.0
	maxReviews := 0
	for _, c := range kept {
		maxDistance = math.Max(maxDistance, c.DistanceMeters)
		if c.ReviewCount > maxReviews {
			maxReviews = c.ReviewCount
		}
	}
	if q.RadiusMeters != nil {
		maxDistance = math.Max(maxDistance, float64(*q.RadiusMeters))
	}

	ranked := make([]models.RankedCandidate, len(kept))
	for i, c := range kept {
		ranked[i] = score(c, q, shown[c.ID], maxDistance, maxReviews, w)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ReviewCount != b.ReviewCount {
			return a.ReviewCount > b.ReviewCount
		}
		return a.ID < b.ID
	})
	return ranked
}

func passesFilters(c models.Candidate, q *models.QueryModel) bool {
	if isExcluded(c, q.Exclusions) {
		return false
	}
	if q.MinRating != nil {
		if c.Rating == nil || *c.Rating < *q.MinRating {
			return false
		}
	}
	if len(q.PriceTier) > 0 {
		if c.PriceTier == 0 || !containsInt(q.PriceTier, c.PriceTier) {
			return false
		}
	}
	return true
}

// isExcluded matches exclusions against category aliases and titles, and as
// a whole-word phrase against the business name.
func isExcluded(c models.Candidate, exclusions []string) bool {
	if len(exclusions) == 0 {
		return false
	}
	terms := make(map[string]bool)
	for _, cat := range categoryTerms(c) {
		terms[models.NormalizeToken(cat)] = true
	}
	name := "_" + models.NormalizeToken(c.Name) + "_"

	for _, ex := range exclusions {
		token := models.NormalizeToken(ex)
		if token == "" {
			continue
		}
		if terms[token] || strings.Contains(name, "_"+token+"_") {
			return true
		}
	}
	return false
}

func score(c models.Candidate, q *models.QueryModel, wasShown bool, maxDistance float64, maxReviews int, w Weights) models.RankedCandidate {
	var b models.ScoreBreakdown

	if c.Rating != nil {
		b.Rating = w.Rating * clamp01(*c.Rating/models.MaxRating)
	}

	matched := matchedKeywords(c, q.Keywords)
	b.Keyword = w.Keyword * float64(len(matched)) / math.Max(1, float64(len(q.Keywords)))

	if maxDistance > 0 {
		b.Distance = w.Distance * (1 - clamp01(c.DistanceMeters/maxDistance))
	} else {
		b.Distance = w.Distance
	}

	if maxReviews > 0 {
		b.ReviewCount = w.ReviewCount * math.Log(float64(c.ReviewCount)+1) / math.Log(float64(maxReviews)+1)
	}

	if wasShown {
		b.ShownPenalty = -w.ShownPenalty
	}

	total := b.Rating + b.Keyword + b.Distance + b.ReviewCount + b.ShownPenalty
	return models.RankedCandidate{
		Candidate:       c,
		Score:           math.Round(total*scorePrecision) / scorePrecision,
		Breakdown:       b,
		MatchedKeywords: matched,
		PreviouslyShown: wasShown,
	}
}

// matchedKeywords returns the query keywords found, case-insensitively, in
// the candidate name, categories or descriptive attribute text.
func matchedKeywords(c models.Candidate, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	haystack := strings.ToLower(searchText(c))
	var matched []string
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k != "" && strings.Contains(haystack, k) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// keywordAttributes are the raw attributes holding descriptive text. Links,
// image URLs and phone numbers are left out so tokens like "com" match nothing.
var keywordAttributes = []string{"address", "categoryTitles", "transactions"}

func searchText(c models.Candidate) string {
	parts := []string{c.Name}
	parts = append(parts, c.Categories...)
	for _, k := range keywordAttributes {
		parts = appendText(parts, c.RawAttributes[k])
	}
	return strings.Join(parts, " \n ")
}

func appendText(parts []string, v interface{}) []string {
	switch t := v.(type) {
	case string:
		return append(parts, t)
	case []string:
		return append(parts, t...)
	case []interface{}:
		for _, item := range t {
			parts = appendText(parts, item)
		}
	}
	return parts
}

func categoryTerms(c models.Candidate) []string {
	terms := append([]string{}, c.Categories...)
	return appendText(terms, c.RawAttributes["categoryTitles"])
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	h.errorsHd.HandleJobError(ctx, client, job, err)
}
