// internal/workers/dining/parse-dining-intent/handler.go
package parsediningintent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dinner-workers/internal/common/errors"
	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"
	"dinner-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "parse-dining-intent"

type Handler struct {
	config    *Config
	extractor IntentExtractor
	logger    logger.Logger
	errorsHd  *errors.ErrorHandler
}

// NewHandler uses the chat completions extractor when extractor is nil.
func NewHandler(config *Config, extractor IntentExtractor, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	if extractor == nil {
		extractor = NewChatExtractor(config, l)
	}
	return &Handler{
		config:    config,
		extractor: extractor,
		logger:    l,
		errorsHd:  errors.NewErrorHandler(l),
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

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	turns := append([]models.Turn{}, input.History...)
	if msg := strings.TrimSpace(input.Message); msg != "" {
		turns = append(turns, models.Turn{Role: models.RoleUser, Text: msg})
	}
	if len(turns) == 0 {
		return nil, errors.NewInvalidInputError("message is required")
	}

	result, err := h.extractor.Extract(ctx, turns)
	if err != nil {
		return nil, err
	}

	out := &Output{Kind: result.Kind, Reply: result.Reply}
	if result.IsClarification() {
		out.Clarification = result.Reply
	} else {
		out.Query = result.Query
	}
	return out, nil
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
