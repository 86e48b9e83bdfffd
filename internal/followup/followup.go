// Package followup provides the lead follow-up bounded context: scenario
// resolution, delayed-task scheduling, deduplication, cancellation and the
// job executor that runs when a task comes due.
package followup

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/leads"

	"github.com/google/uuid"
)

// Scenario classifies a lead for follow-up purposes. The phone opt-in flag
// is deliberately not a scenario; opt-in consequences route through
// ScenarioNoPhone.
type Scenario string

const (
	ScenarioNoPhone        Scenario = "no_phone"
	ScenarioPhoneAvailable Scenario = "phone_available"
)

// Valid reports whether s is a known scenario.
func (s Scenario) Valid() bool {
	return s == ScenarioNoPhone || s == ScenarioPhoneAvailable
}

// JobStatus is the lifecycle state of a queued follow-up job.
// Transitions are monotonic: scheduled -> started -> {success|failure},
// or scheduled -> revoked.
type JobStatus string

const (
	JobScheduled JobStatus = "scheduled"
	JobStarted   JobStatus = "started"
	JobSuccess   JobStatus = "success"
	JobFailure   JobStatus = "failure"
	JobRevoked   JobStatus = "revoked"
)

// Direction marks who authored an inbound event.
type Direction string

const (
	DirectionConsumer Direction = "consumer"
	DirectionBusiness Direction = "business"
)

// InboundEvent is an append-only record of a message observed from the
// messaging platform, or appended by this system after a delivery.
type InboundEvent struct {
	ID             uuid.UUID
	EventID        string
	LeadID         uuid.UUID
	Direction      Direction
	TextRaw        string
	TextNormalized string
	SentByUs       bool
	OccurredAt     time.Time
	CreatedAt      time.Time
}

// PendingTask is a scheduled-but-not-yet-delivered message, the unit of
// cancellation. At most one active row may exist per (lead, text).
type PendingTask struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	TextNormalized string
	JobID          uuid.UUID
	Scenario       Scenario
	Active         bool
	CreatedAt      time.Time
}

// JobRecord is the ledger entry tracking one queue job's lifecycle.
type JobRecord struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	Status     JobStatus
	DueAt      time.Time
	FinishedAt *time.Time
	Result     *string
	CreatedAt  time.Time
}

// QueuedJob is the payload handed to the job queue for a scheduled task.
type QueuedJob struct {
	JobID    uuid.UUID
	TaskID   uuid.UUID
	LeadID   uuid.UUID
	Scenario Scenario
	Text     string
	DueAt    time.Time
}

// ErrDuplicateTask is returned when inserting a pending task that collides
// with an existing active (lead, text) row. Callers treat it as a normal
// dedup branch, not a failure.
var ErrDuplicateTask = errors.New("followup: active task with identical text exists")

// ErrMissingCredential is returned by a delivery gateway that is not
// configured with credentials. The job is marked failed, never retried.
var ErrMissingCredential = errors.New("followup: delivery credential missing")

// Store is the persistence surface the follow-up service needs. The pgx
// implementation lives in repository.go; tests substitute fakes.
type Store interface {
	// RecordInboundEvent appends an event to the ledger. It returns false
	// when the event id was already ingested (idempotent re-delivery).
	RecordInboundEvent(ctx context.Context, ev InboundEvent) (bool, error)

	// WasSentByUs reports whether the normalized text exists in the ledger
	// as a self-sent message for the lead.
	WasSentByUs(ctx context.Context, leadID uuid.UUID, textNormalized string) (bool, error)

	// AlreadyHandled is the dedup guard predicate: true when the text was
	// already delivered, or an active pending task other than
	// excludingJobID carries it. Pass uuid.Nil to exclude nothing.
	AlreadyHandled(ctx context.Context, leadID uuid.UUID, textNormalized string, excludingJobID uuid.UUID) (bool, error)

	// HasActiveTasks reports whether the lead has active tasks in the
	// given scenario.
	HasActiveTasks(ctx context.Context, leadID uuid.UUID, scenario Scenario) (bool, error)

	// InsertPendingTask persists an active task, returning ErrDuplicateTask
	// on an active (lead, text) collision.
	InsertPendingTask(ctx context.Context, task PendingTask) error

	// DeactivateTask flips a single task to inactive by id.
	DeactivateTask(ctx context.Context, taskID uuid.UUID) error

	// DeactivateLeadTasks flips all active tasks for the lead (optionally
	// restricted to one scenario) to inactive, returning their job ids.
	DeactivateLeadTasks(ctx context.Context, leadID uuid.UUID, scenario *Scenario) ([]uuid.UUID, error)

	// InsertJobRecord persists a new job record in the scheduled state.
	InsertJobRecord(ctx context.Context, rec JobRecord) error

	// MarkJobStarted transitions scheduled -> started, returning false when
	// the job is no longer in the scheduled state (revoked or finished).
	MarkJobStarted(ctx context.Context, jobID uuid.UUID) (bool, error)

	// FinishJob transitions started -> status with a result message.
	FinishJob(ctx context.Context, jobID uuid.UUID, status JobStatus, result string) error

	// RevokeJobs transitions the given scheduled jobs to revoked with the
	// reason. Jobs already past scheduled are left untouched.
	RevokeJobs(ctx context.Context, jobIDs []uuid.UUID, reason string) error

	// ListTasks returns all tasks for a lead, newest first.
	ListTasks(ctx context.Context, leadID uuid.UUID) ([]PendingTask, error)

	// ListJobRecords returns all job records for a lead, newest first.
	ListJobRecords(ctx context.Context, leadID uuid.UUID) ([]JobRecord, error)

	// ListLedger returns the most recent inbound events for a lead.
	ListLedger(ctx context.Context, leadID uuid.UUID, limit int) ([]InboundEvent, error)
}

// LeadStore is the slice of the leads repository the service consumes.
type LeadStore interface {
	GetOrCreate(ctx context.Context, leadID, businessID uuid.UUID) (leads.Lead, bool, error)
	GetByID(ctx context.Context, leadID uuid.UUID) (leads.Lead, error)
	SetPhone(ctx context.Context, leadID uuid.UUID, number string) error
	SetPhoneOptIn(ctx context.Context, leadID uuid.UUID) error
	ProcessedAt(ctx context.Context, leadID uuid.UUID) (*time.Time, error)
	MarkProcessed(ctx context.Context, leadID uuid.UUID, at time.Time) error
}

// JobQueue is the delayed-job queue surface: enqueue a job keyed by its
// job id, or cancel one best-effort (unknown ids are tolerated).
type JobQueue interface {
	EnqueueAt(ctx context.Context, job QueuedJob) error
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// Locker provides the per-lead mutual exclusion used at delivery time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Gateway performs a single delivery attempt to the messaging platform.
type Gateway interface {
	Send(ctx context.Context, lead leads.Lead, text string) (string, error)
}

// Composer renders the outgoing message text for a template.
type Composer interface {
	Render(ctx context.Context, lead leads.Lead, tmpl Template) (string, error)
}
