package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"leadflow_backend/internal/followup"
	"leadflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client enqueues follow-up delivery jobs and cancels scheduled ones.
// The asynq task id is the job id, which is what makes cancellation by
// job id possible.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Close()
	if c.inspector != nil {
		if ierr := c.inspector.Close(); err == nil {
			err = ierr
		}
	}
	return err
}

// EnqueueAt schedules the job to run at its due time. MaxRetry is zero:
// a failed delivery is terminal and must never produce a second text.
func (c *Client) EnqueueAt(ctx context.Context, job followup.QueuedJob) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	task, err := NewFollowUpDeliverTask(FollowUpDeliverPayload{
		JobID:    job.JobID.String(),
		TaskID:   job.TaskID.String(),
		LeadID:   job.LeadID.String(),
		Scenario: string(job.Scenario),
		Text:     job.Text,
		DueAt:    job.DueAt,
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.JobID.String()),
		asynq.ProcessAt(job.DueAt),
		asynq.MaxRetry(0),
		asynq.Queue(c.queue),
	)
	return err
}

// Cancel removes a scheduled job from the queue. A job that already ran,
// was already removed, or is running right now is not an error; the
// executor's own status check closes that window.
func (c *Client) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if c == nil || c.inspector == nil {
		return nil
	}

	err := c.inspector.DeleteTask(c.queue, jobID.String())
	if err == nil ||
		errors.Is(err, asynq.ErrTaskNotFound) ||
		errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

var _ followup.JobQueue = (*Client)(nil)
