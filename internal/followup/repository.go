package followup

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// Repository is the pgx-backed Store implementation.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new follow-up repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordInboundEvent appends an event to the ledger. The unique constraint
// on event_id makes re-ingestion of the same delivery a no-op.
func (r *Repository) RecordInboundEvent(ctx context.Context, ev InboundEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbound_events (event_id, lead_id, direction, text_raw, text_normalized, sent_by_us, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.LeadID, ev.Direction, ev.TextRaw, ev.TextNormalized, ev.SentByUs, ev.OccurredAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// WasSentByUs reports whether the normalized text was already delivered to
// the lead by this system.
func (r *Repository) WasSentByUs(ctx context.Context, leadID uuid.UUID, textNormalized string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbound_events
			WHERE lead_id = $1 AND text_normalized = $2 AND sent_by_us
		)
	`, leadID, textNormalized).Scan(&exists)
	return exists, err
}

// AlreadyHandled is the dedup guard: delivered already, or actively pending
// under a different job.
func (r *Repository) AlreadyHandled(ctx context.Context, leadID uuid.UUID, textNormalized string, excludingJobID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM inbound_events
			WHERE lead_id = $1 AND text_normalized = $2 AND sent_by_us
		) OR EXISTS (
			SELECT 1 FROM pending_tasks
			WHERE lead_id = $1 AND text_normalized = $2 AND active AND job_id <> $3
		)
	`, leadID, textNormalized, excludingJobID).Scan(&exists)
	return exists, err
}

// HasActiveTasks reports whether the lead has active tasks in the scenario.
func (r *Repository) HasActiveTasks(ctx context.Context, leadID uuid.UUID, scenario Scenario) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pending_tasks
			WHERE lead_id = $1 AND scenario = $2 AND active
		)
	`, leadID, scenario).Scan(&exists)
	return exists, err
}

// InsertPendingTask persists an active task. The partial unique index on
// (lead_id, text_normalized) WHERE active surfaces concurrent duplicate
// admission as ErrDuplicateTask.
func (r *Repository) InsertPendingTask(ctx context.Context, task PendingTask) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pending_tasks (id, lead_id, text_normalized, job_id, scenario, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
	`, task.ID, task.LeadID, task.TextNormalized, task.JobID, task.Scenario)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateTask
		}
		return err
	}
	return nil
}

// DeactivateTask flips one task to inactive. Already-inactive tasks are a no-op.
func (r *Repository) DeactivateTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE pending_tasks SET active = FALSE WHERE id = $1 AND active
	`, taskID)
	return err
}

// DeactivateLeadTasks flips all active tasks for the lead to inactive,
// optionally restricted to one scenario, and returns the affected job ids.
func (r *Repository) DeactivateLeadTasks(ctx context.Context, leadID uuid.UUID, scenario *Scenario) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE pending_tasks
		SET active = FALSE
		WHERE lead_id = $1 AND active AND ($2::text IS NULL OR scenario = $2)
		RETURNING job_id
	`, leadID, scenario)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, id)
	}
	return jobIDs, rows.Err()
}

// InsertJobRecord persists a new scheduled job record.
func (r *Repository) InsertJobRecord(ctx context.Context, rec JobRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO job_records (id, lead_id, status, due_at)
		VALUES ($1, $2, $3, $4)
	`, rec.ID, rec.LeadID, JobScheduled, rec.DueAt)
	return err
}

// MarkJobStarted transitions scheduled -> started. The WHERE clause is the
// monotonicity guard: a revoked or finished job stays put and the executor
// sees false.
func (r *Repository) MarkJobStarted(ctx context.Context, jobID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_records SET status = $2 WHERE id = $1 AND status = $3
	`, jobID, JobStarted, JobScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FinishJob transitions started -> terminal status with a result message.
func (r *Repository) FinishJob(ctx context.Context, jobID uuid.UUID, status JobStatus, result string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_records
		SET status = $2, result = $3, finished_at = now()
		WHERE id = $1 AND status = $4
	`, jobID, status, result, JobStarted)
	return err
}

// RevokeJobs transitions scheduled jobs to revoked with a reason. Jobs that
// already started or finished are untouched; the executor's own transition
// records their outcome.
func (r *Repository) RevokeJobs(ctx context.Context, jobIDs []uuid.UUID, reason string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE job_records
		SET status = $2, result = $3, finished_at = now()
		WHERE id = ANY($1) AND status = $4
	`, jobIDs, JobRevoked, reason, JobScheduled)
	return err
}

// ListTasks returns all tasks for a lead, newest first.
func (r *Repository) ListTasks(ctx context.Context, leadID uuid.UUID) ([]PendingTask, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, text_normalized, job_id, scenario, active, created_at
		FROM pending_tasks
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []PendingTask
	for rows.Next() {
		var t PendingTask
		if err := rows.Scan(&t.ID, &t.LeadID, &t.TextNormalized, &t.JobID, &t.Scenario, &t.Active, &t.CreatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListJobRecords returns all job records for a lead, newest first.
func (r *Repository) ListJobRecords(ctx context.Context, leadID uuid.UUID) ([]JobRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, lead_id, status, due_at, finished_at, result, created_at
		FROM job_records
		WHERE lead_id = $1
		ORDER BY created_at DESC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		if err := rows.Scan(&rec.ID, &rec.LeadID, &rec.Status, &rec.DueAt, &rec.FinishedAt, &rec.Result, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListLedger returns the most recent inbound events for a lead.
func (r *Repository) ListLedger(ctx context.Context, leadID uuid.UUID, limit int) ([]InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, lead_id, direction, text_raw, text_normalized, sent_by_us, occurred_at, created_at
		FROM inbound_events
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []InboundEvent
	for rows.Next() {
		var ev InboundEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.LeadID, &ev.Direction, &ev.TextRaw, &ev.TextNormalized, &ev.SentByUs, &ev.OccurredAt, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ Store = (*Repository)(nil)
