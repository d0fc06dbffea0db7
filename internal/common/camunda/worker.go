// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"dinner-workers/internal/common/config"
	"dinner-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.uber.org/zap"
)

// JobHandler is implemented by every dining worker handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// CamundaWorker is one open job subscription.
type CamundaWorker struct {
	worker   worker.JobWorker
	logger   *zap.Logger
	taskType string
}

// NewWorker opens a job worker for taskType and records job metrics around
// the handler.
func NewWorker(client zbc.Client, taskType string, wcfg config.WorkerConfig, handler JobHandler, logger *zap.Logger) *CamundaWorker {
	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(func(jc worker.JobClient, job entities.Job) {
			start := time.Now()
			metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
			defer func() {
				metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
				metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
			}()
			handler.Handle(jc, job)
		}).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	logger.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)

	return &CamundaWorker{
		worker:   jobWorker,
		logger:   logger,
		taskType: taskType,
	}
}

func (w *CamundaWorker) TaskType() string {
	return w.taskType
}

// Stop closes the subscription and waits for in-flight jobs.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", zap.String("taskType", w.taskType))
	w.worker.Close()
	w.worker.AwaitClose()
}
