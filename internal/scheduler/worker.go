package scheduler

import (
	"context"
	"fmt"

	"leadflow_backend/internal/followup"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes due follow-up jobs and hands them to the service
// executor. Delivery failures are recorded by the executor itself, so a
// handler error here means infrastructure trouble, not a failed text.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	svc    *followup.Service
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, svc *followup.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		svc:    svc,
		log:    log,
	}

	mux.HandleFunc(TaskFollowUpDeliver, w.handleFollowUpDeliver)

	return w, nil
}

func (w *Worker) handleFollowUpDeliver(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseFollowUpDeliverPayload(task)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return err
	}
	taskID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return err
	}
	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}

	return w.svc.Execute(ctx, followup.QueuedJob{
		JobID:    jobID,
		TaskID:   taskID,
		LeadID:   leadID,
		Scenario: followup.Scenario(payload.Scenario),
		Text:     payload.Text,
		DueAt:    payload.DueAt,
	})
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
