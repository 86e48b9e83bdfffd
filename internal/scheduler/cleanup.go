package scheduler

import (
	"context"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultCleanupInterval = time.Hour
	defaultTaskRetention   = 30 * 24 * time.Hour
	defaultJobRetention    = 90 * 24 * time.Hour
)

// Cleanup periodically removes inactive pending tasks and finished job
// records past their retention window. The inbound-event ledger is never
// pruned; it is the dedup source of truth.
type Cleanup struct {
	pool          *pgxpool.Pool
	log           *logger.Logger
	interval      time.Duration
	taskRetention time.Duration
	jobRetention  time.Duration
}

func NewCleanup(pool *pgxpool.Pool, log *logger.Logger, interval, taskRetention, jobRetention time.Duration) *Cleanup {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	if taskRetention <= 0 {
		taskRetention = defaultTaskRetention
	}
	if jobRetention <= 0 {
		jobRetention = defaultJobRetention
	}

	return &Cleanup{
		pool:          pool,
		log:           log,
		interval:      interval,
		taskRetention: taskRetention,
		jobRetention:  jobRetention,
	}
}

func (c *Cleanup) Run(ctx context.Context) {
	if c == nil || c.pool == nil {
		return
	}

	c.cleanup(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

func (c *Cleanup) cleanup(ctx context.Context) {
	now := time.Now()

	tag, err := c.pool.Exec(ctx, `
		DELETE FROM pending_tasks
		WHERE NOT active AND created_at < $1
	`, now.Add(-c.taskRetention))
	if err != nil {
		c.log.Warn("pending task cleanup failed", "error", err)
		return
	}
	deletedTasks := tag.RowsAffected()

	tag, err = c.pool.Exec(ctx, `
		DELETE FROM job_records
		WHERE status IN ('success', 'failure', 'revoked') AND finished_at < $1
	`, now.Add(-c.jobRetention))
	if err != nil {
		c.log.Warn("job record cleanup failed", "error", err)
		return
	}
	deletedJobs := tag.RowsAffected()

	if deletedTasks > 0 || deletedJobs > 0 {
		c.log.Info("retention cleanup removed rows",
			"pending_tasks", deletedTasks,
			"job_records", deletedJobs,
		)
	}
}
