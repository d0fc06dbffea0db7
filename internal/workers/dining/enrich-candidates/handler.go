// internal/workers/dining/enrich-candidates/handler.go
package enrichcandidates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"
	"dinner-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"golang.org/x/sync/errgroup"
)

const TaskType = "enrich-candidates"

type Handler struct {
	config   *Config
	fetcher  ReviewFetcher
	logger   logger.Logger
	errorsHd *errors.ErrorHandler
}

func NewHandler(config *Config, fetcher ReviewFetcher, log logger.Logger) *Handler {
	if fetcher == nil {
		fetcher = NewReviewClient(config)
	}
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:   config,
		fetcher:  fetcher,
		logger:   l,
		errorsHd: errors.NewErrorHandler(l),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.GetKey(),
		"workflowKey": job.GetProcessInstanceKey(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.JobTimeout)
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

// Execute enriches the first K candidates with a review excerpt. Individual
// lookup failures leave that candidate without an excerpt; only cancellation
// of ctx fails the call.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()

	result := make([]models.RankedCandidate, len(input.Candidates))
	copy(result, input.Candidates)

	k := input.K
	if k <= 0 {
		k = h.config.TopK
	}
	if k > len(result) {
		k = len(result)
	}

	// each task writes only its own index
	failed := make([]bool, k)

	var g errgroup.Group
	g.SetLimit(h.concurrency())

	for i := 0; i < k; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			c := result[i].Candidate
			excerpt, rating, err := h.enrichOne(ctx, c.ID)
			if err != nil {
				metrics.EnrichmentResults.WithLabelValues("failed").Inc()
				h.logger.Warn("review enrichment failed", map[string]interface{}{
					"candidateId": c.ID,
					"error":       err.Error(),
				})
				failed[i] = true
				return nil
			}
			metrics.EnrichmentResults.WithLabelValues("enriched").Inc()
			c.ReviewExcerpt = excerpt
			c.ReviewRating = rating
			result[i].Candidate = c
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Output{Candidates: result}
	for i := 0; i < k; i++ {
		if failed[i] {
			out.Failed++
			out.FailedIDs = append(out.FailedIDs, result[i].ID)
			continue
		}
		if result[i].ReviewExcerpt != "" {
			out.Enriched++
		}
	}

	h.logger.Info("enrichment completed", map[string]interface{}{
		"k":          k,
		"enriched":   out.Enriched,
		"failed":     out.Failed,
		"durationMs": time.Since(start).Milliseconds(),
	})
	return out, nil
}

func (h *Handler) enrichOne(ctx context.Context, id string) (string, *float64, error) {
	cctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	reviews, err := h.fetcher.FetchReviews(cctx, id)
	if err != nil {
		return "", nil, errors.NewEnrichmentFailedError(id, err)
	}
	for _, r := range reviews {
		if text := Excerpt(r.Text, h.config.MaxExcerpt); text != "" {
			return text, r.Rating, nil
		}
	}
	return "", nil, nil
}

func (h *Handler) concurrency() int {
	if h.config.Concurrency < 1 {
		return 1
	}
	return h.config.Concurrency
}

// Excerpt collapses whitespace and caps the text at max runes, ending
// truncated text with an ellipsis.
func Excerpt(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	cut := max - 3
	if cut < 1 {
		cut = max
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
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
