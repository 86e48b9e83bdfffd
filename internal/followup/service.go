package followup

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/lock"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/textnorm"

	"github.com/google/uuid"
)

// Update is one normalized inbound webhook update. The webhook module
// validates and deduplicates batches; the service owns everything after.
type Update struct {
	LeadID     uuid.UUID
	BusinessID uuid.UUID
	EventID    string
	EventType  string
	UserType   string
	Text       string
	OccurredAt time.Time
}

// Event and user type constants from the messaging platform contract.
const (
	EventTypeNewLead    = "new_lead"
	EventTypeNewMessage = "new_message"
	EventTypePhoneOptIn = "phone_opt_in"

	UserTypeConsumer = "consumer"
	UserTypeBusiness = "business"
)

// Outcome summarizes what processing an update did, for the webhook
// response and the operator log.
type Outcome struct {
	Duplicate  bool   `json:"duplicate"`
	Historical bool   `json:"historical"`
	Resolution string `json:"resolution"`
	Cancelled  int    `json:"cancelled"`
	Scheduled  int    `json:"scheduled"`
}

// Deps bundles the collaborators the service needs.
type Deps struct {
	Store     Store
	LeadStore LeadStore
	Queue     JobQueue
	Locker    Locker
	Gateway   Gateway
	Composer  Composer
	Templates *TemplateSnapshot
	Bus       events.Bus
	Log       *logger.Logger

	MarkerSkew time.Duration
	LockTTL    time.Duration
	LockWait   time.Duration

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Service implements scenario resolution, scheduling, cancellation and the
// job executor for lead follow-ups.
type Service struct {
	store     Store
	leadStore LeadStore
	queue     JobQueue
	locker    Locker
	gateway   Gateway
	composer  Composer
	templates *TemplateSnapshot
	bus       events.Bus
	log       *logger.Logger

	markerSkew time.Duration
	lockTTL    time.Duration
	lockWait   time.Duration
	now        func() time.Time
}

// NewService creates the follow-up service.
func NewService(deps Deps) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = 60 * time.Second
	}
	lockWait := deps.LockWait
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}

	return &Service{
		store:      deps.Store,
		leadStore:  deps.LeadStore,
		queue:      deps.Queue,
		locker:     deps.Locker,
		gateway:    deps.Gateway,
		composer:   deps.Composer,
		templates:  deps.Templates,
		bus:        deps.Bus,
		log:        deps.Log,
		markerSkew: deps.MarkerSkew,
		lockTTL:    lockTTL,
		lockWait:   lockWait,
		now:        now,
	}
}

// ProcessUpdate ingests one webhook update: ledger append (idempotent by
// event id), scenario resolution, cancellation of superseded tasks and
// scheduling of the new scenario's templates.
func (s *Service) ProcessUpdate(ctx context.Context, upd Update) (Outcome, error) {
	norm := textnorm.Normalize(upd.Text)

	lead, _, err := s.leadStore.GetOrCreate(ctx, upd.LeadID, upd.BusinessID)
	if err != nil {
		return Outcome{}, err
	}

	businessAuthored := upd.UserType == UserTypeBusiness
	selfSent := false
	if businessAuthored {
		if selfSent, err = s.store.WasSentByUs(ctx, lead.ID, norm); err != nil {
			return Outcome{}, err
		}
	}

	inserted, err := s.store.RecordInboundEvent(ctx, InboundEvent{
		EventID:        upd.EventID,
		LeadID:         lead.ID,
		Direction:      directionFor(upd.UserType),
		TextRaw:        upd.Text,
		TextNormalized: norm,
		SentByUs:       businessAuthored && selfSent,
		OccurredAt:     upd.OccurredAt,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !inserted {
		s.log.Info("duplicate event ignored", "event_id", upd.EventID, "lead_id", lead.ID.String())
		return Outcome{Duplicate: true, Resolution: "no_change"}, nil
	}

	processedAt, err := s.leadStore.ProcessedAt(ctx, lead.ID)
	if err != nil {
		return Outcome{}, err
	}
	if processedAt != nil && upd.OccurredAt.Before(processedAt.Add(-s.markerSkew)) {
		// Historical context from before the lead was first processed;
		// recorded in the ledger but never a trigger.
		return Outcome{Historical: true, Resolution: "no_change"}, nil
	}

	phoneNumber, phoneFound := phone.FindNumber(norm)
	phoneTasksActive, err := s.store.HasActiveTasks(ctx, lead.ID, ScenarioPhoneAvailable)
	if err != nil {
		return Outcome{}, err
	}

	resolution := Resolve(ResolveInput{
		BusinessAuthored: businessAuthored,
		SelfSent:         selfSent,
		PhoneOptIn:       upd.EventType == EventTypePhoneOptIn,
		PhoneFound:       phoneFound,
		PhoneTasksActive: phoneTasksActive,
	})

	outcome, err := s.applyResolution(ctx, lead, upd, resolution, phoneNumber)
	if err != nil {
		return outcome, err
	}

	if processedAt == nil {
		if err := s.leadStore.MarkProcessed(ctx, lead.ID, s.now()); err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

func (s *Service) applyResolution(ctx context.Context, lead leads.Lead, upd Update, res Resolution, phoneNumber string) (Outcome, error) {
	switch res.Kind {
	case ResolveManualOverride:
		cancelled, err := s.CancelAll(ctx, lead.ID, res.Reason)
		if err != nil {
			return Outcome{}, err
		}
		s.bus.Publish(ctx, events.ManualOverrideDetected{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID,
			BusinessID: lead.BusinessID,
			Reason:     res.Reason,
			Cancelled:  cancelled,
		})
		return Outcome{Resolution: "manual_override", Cancelled: cancelled}, nil

	case ResolveTransition:
		if upd.EventType == EventTypePhoneOptIn {
			if err := s.leadStore.SetPhoneOptIn(ctx, lead.ID); err != nil {
				return Outcome{}, err
			}
		}

		superseded := ScenarioPhoneAvailable
		if res.Scenario == ScenarioPhoneAvailable {
			superseded = ScenarioNoPhone
			if err := s.leadStore.SetPhone(ctx, lead.ID, phoneNumber); err != nil {
				return Outcome{}, err
			}
			lead.PhoneKnown = true
			lead.PhoneNumber = &phoneNumber
		}

		cancelled, err := s.cancel(ctx, lead.ID, &superseded, "superseded by "+string(res.Scenario))
		if err != nil {
			return Outcome{}, err
		}

		scheduled, err := s.Schedule(ctx, lead, res.Scenario)
		outcome := Outcome{
			Resolution: "transition:" + string(res.Scenario),
			Cancelled:  cancelled,
			Scheduled:  scheduled,
		}
		if err != nil {
			return outcome, err
		}

		s.bus.Publish(ctx, events.ScenarioChanged{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID,
			BusinessID: lead.BusinessID,
			From:       string(superseded),
			To:         string(res.Scenario),
			Reason:     res.Reason,
			Cancelled:  cancelled,
			Scheduled:  scheduled,
		})
		return outcome, nil

	default:
		return Outcome{Resolution: "no_change"}, nil
	}
}

// Schedule enqueues the scenario's templates for the lead, each admitted
// through the dedup guard. Returns how many tasks were scheduled.
func (s *Service) Schedule(ctx context.Context, lead leads.Lead, scenario Scenario) (int, error) {
	scheduled := 0
	for _, tmpl := range s.templates.For(lead.BusinessID, scenario) {
		text, err := s.composer.Render(ctx, lead, tmpl)
		if err != nil {
			s.log.Warn("template render failed", "template", tmpl.ID, "lead_id", lead.ID.String(), "error", err)
			continue
		}

		norm := textnorm.Normalize(text)
		handled, err := s.store.AlreadyHandled(ctx, lead.ID, norm, uuid.Nil)
		if err != nil {
			return scheduled, err
		}
		if handled {
			s.log.Info("duplicate suppressed at schedule time", "template", tmpl.ID, "lead_id", lead.ID.String())
			continue
		}

		jobID := uuid.New()
		taskID := uuid.New()
		dueAt := ComputeDueAt(s.now(), tmpl)

		// The row insert comes before the enqueue: a uniqueness violation
		// here leaves nothing orphaned in the queue.
		err = s.store.InsertPendingTask(ctx, PendingTask{
			ID:             taskID,
			LeadID:         lead.ID,
			TextNormalized: norm,
			JobID:          jobID,
			Scenario:       scenario,
			Active:         true,
		})
		if errors.Is(err, ErrDuplicateTask) {
			s.log.Info("duplicate suppressed by active-task constraint", "template", tmpl.ID, "lead_id", lead.ID.String())
			continue
		}
		if err != nil {
			return scheduled, err
		}

		if err := s.store.InsertJobRecord(ctx, JobRecord{ID: jobID, LeadID: lead.ID, DueAt: dueAt}); err != nil {
			_ = s.store.DeactivateTask(ctx, taskID)
			return scheduled, err
		}

		err = s.queue.EnqueueAt(ctx, QueuedJob{
			JobID:    jobID,
			TaskID:   taskID,
			LeadID:   lead.ID,
			Scenario: scenario,
			Text:     text,
			DueAt:    dueAt,
		})
		if err != nil {
			_ = s.store.DeactivateTask(ctx, taskID)
			_ = s.store.RevokeJobs(ctx, []uuid.UUID{jobID}, "queue unavailable")
			return scheduled, apperr.Wrap(apperr.KindUnavailable, "job queue unavailable", err).WithOp("followup.Schedule")
		}

		s.log.JobEvent("scheduled", jobID.String(), lead.ID.String(), tmpl.ID)
		scheduled++
	}
	return scheduled, nil
}

// CancelAll revokes every active task for the lead regardless of scenario.
// Used for manual overrides and the operator cancel endpoint. Idempotent.
func (s *Service) CancelAll(ctx context.Context, leadID uuid.UUID, reason string) (int, error) {
	return s.cancel(ctx, leadID, nil, reason)
}

func (s *Service) cancel(ctx context.Context, leadID uuid.UUID, scenario *Scenario, reason string) (int, error) {
	jobIDs, err := s.store.DeactivateLeadTasks(ctx, leadID, scenario)
	if err != nil {
		return 0, err
	}

	// Queue removal is best-effort: a job may already be running or gone,
	// and the executor's started-state check covers that window.
	for _, jobID := range jobIDs {
		if err := s.queue.Cancel(ctx, jobID); err != nil {
			s.log.Warn("queue cancel failed", "job_id", jobID.String(), "error", err)
		}
	}

	if err := s.store.RevokeJobs(ctx, jobIDs, reason); err != nil {
		return 0, err
	}

	for _, jobID := range jobIDs {
		s.log.JobEvent("revoked", jobID.String(), leadID.String(), reason)
	}
	return len(jobIDs), nil
}

// Execute runs a due follow-up job. Steps are strictly ordered: start
// transition, task deactivation, dedup re-check, per-lead lock, in-lock
// re-check, delivery, ledger append. Failures are terminal; there is no
// automatic retry.
func (s *Service) Execute(ctx context.Context, job QueuedJob) error {
	started, err := s.store.MarkJobStarted(ctx, job.JobID)
	if err != nil {
		return err
	}
	if !started {
		s.log.JobEvent("skipped", job.JobID.String(), job.LeadID.String(), "no longer scheduled")
		return nil
	}

	if err := s.store.DeactivateTask(ctx, job.TaskID); err != nil {
		s.log.Warn("task deactivation failed", "task_id", job.TaskID.String(), "error", err)
	}

	norm := textnorm.Normalize(job.Text)
	handled, err := s.store.AlreadyHandled(ctx, job.LeadID, norm, job.JobID)
	if err != nil {
		return err
	}
	if handled {
		return s.finishNoOp(ctx, job)
	}

	held, err := s.locker.Acquire(ctx, leadLockKey(job.LeadID), s.lockTTL, s.lockWait)
	if err != nil {
		reason := "lock: " + err.Error()
		if errors.Is(err, lock.ErrTimeout) {
			reason = "lock timeout"
		}
		return s.finishFailed(ctx, job, reason)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("lock release failed", "lead_id", job.LeadID.String(), "error", err)
		}
	}()

	// Another job for this lead may have delivered while we waited.
	handled, err = s.store.AlreadyHandled(ctx, job.LeadID, norm, job.JobID)
	if err != nil {
		return err
	}
	if handled {
		return s.finishNoOp(ctx, job)
	}

	lead, err := s.leadStore.GetByID(ctx, job.LeadID)
	if err != nil {
		return s.finishFailed(ctx, job, "lead lookup: "+err.Error())
	}

	deliveryID, err := s.gateway.Send(ctx, lead, job.Text)
	if err != nil {
		reason := "gateway: " + err.Error()
		if errors.Is(err, ErrMissingCredential) {
			reason = "missing delivery credential"
		}
		return s.finishFailed(ctx, job, reason)
	}

	// The self-sent ledger row is what makes every future dedup check
	// for this text answer true.
	if _, err := s.store.RecordInboundEvent(ctx, InboundEvent{
		EventID:        "self:" + job.JobID.String(),
		LeadID:         job.LeadID,
		Direction:      DirectionBusiness,
		TextRaw:        job.Text,
		TextNormalized: norm,
		SentByUs:       true,
		OccurredAt:     s.now(),
	}); err != nil {
		return err
	}

	if err := s.store.FinishJob(ctx, job.JobID, JobSuccess, "delivered "+deliveryID); err != nil {
		return err
	}
	s.log.JobEvent("delivered", job.JobID.String(), job.LeadID.String(), deliveryID)

	s.bus.Publish(ctx, events.FollowUpDelivered{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     job.LeadID,
		JobID:      job.JobID,
		DeliveryID: deliveryID,
	})
	return nil
}

func (s *Service) finishNoOp(ctx context.Context, job QueuedJob) error {
	s.log.JobEvent("suppressed", job.JobID.String(), job.LeadID.String(), "already handled")
	return s.store.FinishJob(ctx, job.JobID, JobSuccess, "duplicate suppressed")
}

func (s *Service) finishFailed(ctx context.Context, job QueuedJob, reason string) error {
	if err := s.store.FinishJob(ctx, job.JobID, JobFailure, reason); err != nil {
		return err
	}
	s.log.JobEvent("failed", job.JobID.String(), job.LeadID.String(), reason)

	s.bus.Publish(ctx, events.FollowUpFailed{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    job.LeadID,
		JobID:     job.JobID,
		Reason:    reason,
	})
	return nil
}

func directionFor(userType string) Direction {
	if userType == UserTypeBusiness {
		return DirectionBusiness
	}
	return DirectionConsumer
}

func leadLockKey(leadID uuid.UUID) string {
	return "followup:lead:" + leadID.String()
}

// redisLocker adapts the platform lock to the Locker interface.
type redisLocker struct {
	inner *lock.RedisLocker
}

// NewRedisLocker wraps a platform RedisLocker for the service.
func NewRedisLocker(inner *lock.RedisLocker) Locker {
	return redisLocker{inner: inner}
}

func (l redisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Unlocker, error) {
	held, err := l.inner.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return nil, err
	}
	return held, nil
}
