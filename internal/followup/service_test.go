package followup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads"
	"leadflow_backend/platform/apperr"
	platformevents "leadflow_backend/platform/events"
	"leadflow_backend/platform/lock"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// ---- fakes ----

type fakeStore struct {
	mu      sync.Mutex
	events  []InboundEvent
	eventID map[string]bool
	tasks   map[uuid.UUID]*PendingTask
	jobs    map[uuid.UUID]*JobRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		eventID: make(map[string]bool),
		tasks:   make(map[uuid.UUID]*PendingTask),
		jobs:    make(map[uuid.UUID]*JobRecord),
	}
}

func (s *fakeStore) RecordInboundEvent(_ context.Context, ev InboundEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventID[ev.EventID] {
		return false, nil
	}
	s.eventID[ev.EventID] = true
	s.events = append(s.events, ev)
	return true, nil
}

func (s *fakeStore) WasSentByUs(_ context.Context, leadID uuid.UUID, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.LeadID == leadID && ev.TextNormalized == text && ev.SentByUs {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) AlreadyHandled(_ context.Context, leadID uuid.UUID, text string, excludingJobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.LeadID == leadID && ev.TextNormalized == text && ev.SentByUs {
			return true, nil
		}
	}
	for _, task := range s.tasks {
		if task.LeadID == leadID && task.TextNormalized == text && task.Active && task.JobID != excludingJobID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) HasActiveTasks(_ context.Context, leadID uuid.UUID, scenario Scenario) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.LeadID == leadID && task.Scenario == scenario && task.Active {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) InsertPendingTask(_ context.Context, task PendingTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.LeadID == task.LeadID && existing.TextNormalized == task.TextNormalized && existing.Active {
			return ErrDuplicateTask
		}
	}
	copied := task
	copied.CreatedAt = time.Now()
	s.tasks[task.ID] = &copied
	return nil
}

func (s *fakeStore) DeactivateTask(_ context.Context, taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[taskID]; ok {
		task.Active = false
	}
	return nil
}

func (s *fakeStore) DeactivateLeadTasks(_ context.Context, leadID uuid.UUID, scenario *Scenario) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobIDs []uuid.UUID
	for _, task := range s.tasks {
		if task.LeadID != leadID || !task.Active {
			continue
		}
		if scenario != nil && task.Scenario != *scenario {
			continue
		}
		task.Active = false
		jobIDs = append(jobIDs, task.JobID)
	}
	return jobIDs, nil
}

func (s *fakeStore) InsertJobRecord(_ context.Context, rec JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := rec
	copied.Status = JobScheduled
	copied.CreatedAt = time.Now()
	s.jobs[rec.ID] = &copied
	return nil
}

func (s *fakeStore) MarkJobStarted(_ context.Context, jobID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != JobScheduled {
		return false, nil
	}
	job.Status = JobStarted
	return true, nil
}

func (s *fakeStore) FinishJob(_ context.Context, jobID uuid.UUID, status JobStatus, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != JobStarted {
		return nil
	}
	now := time.Now()
	job.Status = status
	job.Result = &result
	job.FinishedAt = &now
	return nil
}

func (s *fakeStore) RevokeJobs(_ context.Context, jobIDs []uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range jobIDs {
		job, ok := s.jobs[id]
		if !ok || job.Status != JobScheduled {
			continue
		}
		job.Status = JobRevoked
		job.Result = &reason
		job.FinishedAt = &now
	}
	return nil
}

func (s *fakeStore) ListTasks(_ context.Context, leadID uuid.UUID) ([]PendingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []PendingTask
	for _, task := range s.tasks {
		if task.LeadID == leadID {
			tasks = append(tasks, *task)
		}
	}
	return tasks, nil
}

func (s *fakeStore) ListJobRecords(_ context.Context, leadID uuid.UUID) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []JobRecord
	for _, job := range s.jobs {
		if job.LeadID == leadID {
			recs = append(recs, *job)
		}
	}
	return recs, nil
}

func (s *fakeStore) ListLedger(_ context.Context, leadID uuid.UUID, _ int) ([]InboundEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []InboundEvent
	for _, ev := range s.events {
		if ev.LeadID == leadID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) activeTaskCount(leadID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, task := range s.tasks {
		if task.LeadID == leadID && task.Active {
			count++
		}
	}
	return count
}

func (s *fakeStore) jobStatus(jobID uuid.UUID) JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		return job.Status
	}
	return ""
}

type fakeLeadStore struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]*leads.Lead
	processed map[uuid.UUID]time.Time
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{
		leads:     make(map[uuid.UUID]*leads.Lead),
		processed: make(map[uuid.UUID]time.Time),
	}
}

func (s *fakeLeadStore) GetOrCreate(_ context.Context, leadID, businessID uuid.UUID) (leads.Lead, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.leads[leadID]; ok {
		return *lead, false, nil
	}
	lead := &leads.Lead{ID: leadID, BusinessID: businessID}
	s.leads[leadID] = lead
	return *lead, true, nil
}

func (s *fakeLeadStore) GetByID(_ context.Context, leadID uuid.UUID) (leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.leads[leadID]; ok {
		return *lead, nil
	}
	return leads.Lead{}, errors.New("lead not found")
}

func (s *fakeLeadStore) SetPhone(_ context.Context, leadID uuid.UUID, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.leads[leadID]; ok {
		lead.PhoneKnown = true
		lead.PhoneNumber = &number
	}
	return nil
}

func (s *fakeLeadStore) SetPhoneOptIn(_ context.Context, leadID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead, ok := s.leads[leadID]; ok {
		lead.PhoneOptIn = true
	}
	return nil
}

func (s *fakeLeadStore) ProcessedAt(_ context.Context, leadID uuid.UUID) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.processed[leadID]; ok {
		copied := at
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeLeadStore) MarkProcessed(_ context.Context, leadID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[leadID]; !ok {
		s.processed[leadID] = at
	}
	return nil
}

type fakeQueue struct {
	mu         sync.Mutex
	enqueued   []QueuedJob
	cancelled  []uuid.UUID
	enqueueErr error
}

func (q *fakeQueue) EnqueueAt(_ context.Context, job QueuedJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, jobID)
	return nil
}

type fakeUnlocker struct {
	released bool
}

func (u *fakeUnlocker) Release(context.Context) error {
	u.released = true
	return nil
}

type fakeLocker struct {
	err      error
	acquired int
	unlocker *fakeUnlocker
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration, time.Duration) (Unlocker, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	l.unlocker = &fakeUnlocker{}
	return l.unlocker, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls int
}

func (g *fakeGateway) Send(_ context.Context, _ leads.Lead, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, text)
	return "dlv-1", nil
}

type bodyComposer struct{}

func (bodyComposer) Render(_ context.Context, _ leads.Lead, tmpl Template) (string, error) {
	return tmpl.Body, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []platformevents.Event
}

func (b *fakeBus) Publish(_ context.Context, event platformevents.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeBus) PublishSync(ctx context.Context, event platformevents.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *fakeBus) Subscribe(string, platformevents.Handler) {}

func (b *fakeBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.events {
		out = append(out, ev.EventName())
	}
	return out
}

// ---- harness ----

type harness struct {
	svc    *Service
	store  *fakeStore
	leads  *fakeLeadStore
	queue  *fakeQueue
	locker *fakeLocker
	gw     *fakeGateway
	bus    *fakeBus
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  newFakeStore(),
		leads:  newFakeLeadStore(),
		queue:  &fakeQueue{},
		locker: &fakeLocker{},
		gw:     &fakeGateway{},
		bus:    &fakeBus{},
		now:    time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC),
	}

	templates := NewTemplateSnapshot([]Template{
		{ID: "np-1", Scenario: ScenarioNoPhone, Delay: time.Hour, Body: "Could you share a phone number?"},
		{ID: "np-2", Scenario: ScenarioNoPhone, Delay: 24 * time.Hour, Body: "Just checking in about your request."},
		{ID: "pa-1", Scenario: ScenarioPhoneAvailable, Delay: 15 * time.Minute, Body: "Thanks, we will call you shortly."},
	})

	h.svc = NewService(Deps{
		Store:     h.store,
		LeadStore: h.leads,
		Queue:     h.queue,
		Locker:    h.locker,
		Gateway:   h.gw,
		Composer:  bodyComposer{},
		Templates: templates,
		Bus:       h.bus,
		Log:       logger.New("test"),
		Now:       func() time.Time { return h.now },
	})
	return h
}

func (h *harness) update(eventID, eventType, userType, text string, leadID uuid.UUID) Update {
	return Update{
		LeadID:     leadID,
		BusinessID: uuid.New(),
		EventID:    eventID,
		EventType:  eventType,
		UserType:   userType,
		Text:       text,
		OccurredAt: h.now,
	}
}

// ---- ingestion and resolution ----

func TestProcessUpdateNewLeadSchedulesNoPhoneFollowUps(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hi, I need help with my roof", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if out.Resolution != "transition:no_phone" {
		t.Fatalf("expected no_phone transition, got %q", out.Resolution)
	}
	if out.Scheduled != 2 {
		t.Fatalf("expected 2 scheduled tasks, got %d", out.Scheduled)
	}
	if len(h.queue.enqueued) != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", len(h.queue.enqueued))
	}
	if h.store.activeTaskCount(leadID) != 2 {
		t.Fatalf("expected 2 active tasks, got %d", h.store.activeTaskCount(leadID))
	}
	if got := h.queue.enqueued[0].DueAt; !got.Equal(h.now.Add(time.Hour)) {
		t.Fatalf("expected first job due at +1h, got %v", got)
	}
}

func TestProcessUpdateDuplicateEventIsIgnored(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()
	upd := h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)

	if _, err := h.svc.ProcessUpdate(context.Background(), upd); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	before := len(h.queue.enqueued)

	out, err := h.svc.ProcessUpdate(context.Background(), upd)
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if !out.Duplicate {
		t.Fatal("expected duplicate outcome")
	}
	if len(h.queue.enqueued) != before {
		t.Fatal("expected no additional scheduling for a replayed event")
	}
}

func TestProcessUpdatePhoneNumberSupersedesNoPhone(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-2", EventTypeNewMessage, UserTypeConsumer, "sure, call me at 212-555-0171", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if out.Resolution != "transition:phone_available" {
		t.Fatalf("expected phone_available transition, got %q", out.Resolution)
	}
	if out.Cancelled != 2 {
		t.Fatalf("expected both no_phone tasks cancelled, got %d", out.Cancelled)
	}
	if out.Scheduled != 1 {
		t.Fatalf("expected 1 phone_available task, got %d", out.Scheduled)
	}

	lead, err := h.leads.GetByID(context.Background(), leadID)
	if err != nil {
		t.Fatalf("lead lookup failed: %v", err)
	}
	if !lead.PhoneKnown || lead.PhoneNumber == nil || *lead.PhoneNumber != "+12125550171" {
		t.Fatalf("expected stored E.164 phone, got %+v", lead)
	}
	if len(h.queue.cancelled) != 2 {
		t.Fatalf("expected 2 queue cancellations, got %d", len(h.queue.cancelled))
	}
}

func TestProcessUpdateManualOverrideCancelsEverything(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-2", EventTypeNewMessage, UserTypeBusiness, "I'll take this one personally", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if out.Resolution != "manual_override" {
		t.Fatalf("expected manual override, got %q", out.Resolution)
	}
	if out.Cancelled != 2 {
		t.Fatalf("expected 2 cancelled tasks, got %d", out.Cancelled)
	}
	if h.store.activeTaskCount(leadID) != 0 {
		t.Fatal("expected no active tasks after override")
	}

	found := false
	for _, name := range h.bus.names() {
		if name == events.EventManualOverrideDetected {
			found = true
		}
	}
	if !found {
		t.Fatal("expected manual override event on the bus")
	}
}

func TestProcessUpdateSelfEchoDoesNotTriggerOverride(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	// Seed the ledger with a delivery of ours.
	if _, err := h.store.RecordInboundEvent(context.Background(), InboundEvent{
		EventID:        "self:seed",
		LeadID:         leadID,
		Direction:      DirectionBusiness,
		TextRaw:        "Could you share a phone number?",
		TextNormalized: "Could you share a phone number?",
		SentByUs:       true,
		OccurredAt:     h.now,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, _, err := h.leads.GetOrCreate(context.Background(), leadID, uuid.New()); err != nil {
		t.Fatalf("lead seed failed: %v", err)
	}
	_ = h.leads.MarkProcessed(context.Background(), leadID, h.now.Add(-time.Hour))

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-echo", EventTypeNewMessage, UserTypeBusiness, "Could you share a phone number?", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Resolution != "no_change" {
		t.Fatalf("expected no change for our own echo, got %q", out.Resolution)
	}
}

func TestProcessUpdateHistoricalEventIsLedgerOnly(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, _, err := h.leads.GetOrCreate(context.Background(), leadID, uuid.New()); err != nil {
		t.Fatalf("lead seed failed: %v", err)
	}
	_ = h.leads.MarkProcessed(context.Background(), leadID, h.now)

	upd := h.update("ev-old", EventTypeNewMessage, UserTypeConsumer, "old backlog message", leadID)
	upd.OccurredAt = h.now.Add(-time.Hour)

	out, err := h.svc.ProcessUpdate(context.Background(), upd)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !out.Historical {
		t.Fatal("expected historical outcome")
	}
	if len(h.queue.enqueued) != 0 {
		t.Fatal("expected no scheduling for historical context")
	}

	ledger, _ := h.store.ListLedger(context.Background(), leadID, 10)
	if len(ledger) != 1 {
		t.Fatalf("expected ledger append, got %d entries", len(ledger))
	}
}

func TestProcessUpdateOptInWithoutNumberRoutesNoPhone(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypePhoneOptIn, UserTypeConsumer, "yes please contact me", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Resolution != "transition:no_phone" {
		t.Fatalf("expected no_phone transition, got %q", out.Resolution)
	}

	lead, _ := h.leads.GetByID(context.Background(), leadID)
	if !lead.PhoneOptIn {
		t.Fatal("expected opt-in flag on the lead")
	}
}

func TestProcessUpdateReplyWhilePhoneTasksActiveIsNoChange(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewMessage, UserTypeConsumer, "call 212-555-0171", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	scheduledBefore := len(h.queue.enqueued)

	out, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-2", EventTypeNewMessage, UserTypeConsumer, "when will you call?", leadID))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if out.Resolution != "no_change" {
		t.Fatalf("expected no change while phone tasks run, got %q", out.Resolution)
	}
	if len(h.queue.enqueued) != scheduledBefore {
		t.Fatal("expected no new scheduling")
	}
}

// ---- scheduling dedup ----

func TestScheduleSkipsAlreadyDeliveredText(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.store.RecordInboundEvent(context.Background(), InboundEvent{
		EventID:        "self:prior",
		LeadID:         leadID,
		TextNormalized: "Could you share a phone number?",
		SentByUs:       true,
		OccurredAt:     h.now,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	lead, _, err := h.leads.GetOrCreate(context.Background(), leadID, uuid.New())
	if err != nil {
		t.Fatalf("lead seed failed: %v", err)
	}

	scheduled, err := h.svc.Schedule(context.Background(), lead, ScenarioNoPhone)
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if scheduled != 1 {
		t.Fatalf("expected only the undelivered template, got %d", scheduled)
	}
}

func TestScheduleQueueOutageRollsBack(t *testing.T) {
	h := newHarness(t)
	h.queue.enqueueErr = errors.New("redis down")
	leadID := uuid.New()

	lead, _, err := h.leads.GetOrCreate(context.Background(), leadID, uuid.New())
	if err != nil {
		t.Fatalf("lead seed failed: %v", err)
	}

	_, err = h.svc.Schedule(context.Background(), lead, ScenarioNoPhone)
	if err == nil {
		t.Fatal("expected an error when the queue is down")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if h.store.activeTaskCount(leadID) != 0 {
		t.Fatal("expected failed task to be deactivated")
	}
}

// ---- execution ----

func TestExecuteDeliversAndAppendsSelfEvent(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	job := h.queue.enqueued[0]

	if err := h.svc.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if h.gw.calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", h.gw.calls)
	}
	if h.store.jobStatus(job.JobID) != JobSuccess {
		t.Fatalf("expected success status, got %s", h.store.jobStatus(job.JobID))
	}

	handled, err := h.store.WasSentByUs(context.Background(), leadID, job.Text)
	if err != nil || !handled {
		t.Fatalf("expected self-sent ledger record, got %v %v", handled, err)
	}
	if h.locker.unlocker == nil || !h.locker.unlocker.released {
		t.Fatal("expected the per-lead lock to be released")
	}
}

func TestExecuteSecondJobWithSameTextIsSuppressed(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	first := h.queue.enqueued[0]

	if err := h.svc.Execute(context.Background(), first); err != nil {
		t.Fatalf("first execute failed: %v", err)
	}

	// A second job carrying the identical text must not send again.
	dupJobID := uuid.New()
	dupTaskID := uuid.New()
	_ = h.store.InsertJobRecord(context.Background(), JobRecord{ID: dupJobID, LeadID: leadID, DueAt: h.now})
	dup := QueuedJob{JobID: dupJobID, TaskID: dupTaskID, LeadID: leadID, Scenario: first.Scenario, Text: first.Text, DueAt: h.now}

	if err := h.svc.Execute(context.Background(), dup); err != nil {
		t.Fatalf("duplicate execute failed: %v", err)
	}
	if h.gw.calls != 1 {
		t.Fatalf("expected a single delivery overall, got %d", h.gw.calls)
	}
	if h.store.jobStatus(dupJobID) != JobSuccess {
		t.Fatalf("expected duplicate job to finish success as no-op, got %s", h.store.jobStatus(dupJobID))
	}
}

func TestExecuteRevokedJobIsSkipped(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	job := h.queue.enqueued[0]

	if _, err := h.svc.CancelAll(context.Background(), leadID, "operator asked"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if err := h.svc.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if h.gw.calls != 0 {
		t.Fatal("expected no delivery for a revoked job")
	}
	if h.store.jobStatus(job.JobID) != JobRevoked {
		t.Fatalf("expected revoked status to stick, got %s", h.store.jobStatus(job.JobID))
	}
}

func TestExecuteLockTimeoutFailsJobWithoutSending(t *testing.T) {
	h := newHarness(t)
	h.locker.err = lock.ErrTimeout
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	job := h.queue.enqueued[0]

	if err := h.svc.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if h.gw.calls != 0 {
		t.Fatal("expected no delivery on lock timeout")
	}
	if h.store.jobStatus(job.JobID) != JobFailure {
		t.Fatalf("expected failure status, got %s", h.store.jobStatus(job.JobID))
	}
}

func TestExecuteGatewayErrorIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.gw.err = errors.New("gateway exploded")
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	job := h.queue.enqueued[0]

	if err := h.svc.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute should swallow delivery failures, got %v", err)
	}
	if h.store.jobStatus(job.JobID) != JobFailure {
		t.Fatalf("expected failure status, got %s", h.store.jobStatus(job.JobID))
	}

	failed := false
	for _, name := range h.bus.names() {
		if name == events.EventFollowUpFailed {
			failed = true
		}
	}
	if !failed {
		t.Fatal("expected a failure event on the bus")
	}
}

func TestExecuteMissingCredentialFailsJob(t *testing.T) {
	h := newHarness(t)
	h.gw.err = ErrMissingCredential
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	job := h.queue.enqueued[0]

	if err := h.svc.Execute(context.Background(), job); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if h.store.jobStatus(job.JobID) != JobFailure {
		t.Fatalf("expected failure status, got %s", h.store.jobStatus(job.JobID))
	}
}

// ---- cancellation ----

func TestCancelAllIsIdempotent(t *testing.T) {
	h := newHarness(t)
	leadID := uuid.New()

	if _, err := h.svc.ProcessUpdate(context.Background(), h.update("ev-1", EventTypeNewLead, UserTypeConsumer, "hello", leadID)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	first, err := h.svc.CancelAll(context.Background(), leadID, "operator asked")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if first != 2 {
		t.Fatalf("expected 2 cancelled, got %d", first)
	}

	second, err := h.svc.CancelAll(context.Background(), leadID, "operator asked again")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected idempotent cancel, got %d", second)
	}
}
