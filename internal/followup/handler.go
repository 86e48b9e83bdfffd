package followup

import (
	"net/http"
	"time"

	"leadflow_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handler serves the operator endpoints for inspecting and cancelling a
// lead's follow-up automation.
type Handler struct {
	service *Service
	store   Store
}

// NewHandler creates a new follow-up handler.
func NewHandler(service *Service, store Store) *Handler {
	return &Handler{service: service, store: store}
}

// TaskResponse is the operator view of a pending task.
type TaskResponse struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"jobId"`
	Scenario  string    `json:"scenario"`
	Text      string    `json:"text"`
	Active    bool      `json:"active"`
	CreatedAt string    `json:"createdAt"`
}

// JobResponse is the operator view of a job record.
type JobResponse struct {
	ID         uuid.UUID `json:"id"`
	Status     string    `json:"status"`
	DueAt      string    `json:"dueAt"`
	FinishedAt *string   `json:"finishedAt,omitempty"`
	Result     *string   `json:"result,omitempty"`
	CreatedAt  string    `json:"createdAt"`
}

// LedgerEntryResponse is the operator view of one inbound event.
type LedgerEntryResponse struct {
	EventID    string `json:"eventId"`
	Direction  string `json:"direction"`
	Text       string `json:"text"`
	SentByUs   bool   `json:"sentByUs"`
	OccurredAt string `json:"occurredAt"`
}

// OverviewResponse bundles everything the operator sees for a lead.
type OverviewResponse struct {
	LeadID uuid.UUID             `json:"leadId"`
	Tasks  []TaskResponse        `json:"tasks"`
	Jobs   []JobResponse         `json:"jobs"`
	Ledger []LedgerEntryResponse `json:"ledger"`
}

// HandleOverview returns the lead's tasks, jobs and recent ledger.
// GET /api/v1/admin/leads/:leadId/followups
func (h *Handler) HandleOverview(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead ID", nil)
		return
	}

	ctx := c.Request.Context()

	tasks, err := h.store.ListTasks(ctx, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	jobs, err := h.store.ListJobRecords(ctx, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	ledger, err := h.store.ListLedger(ctx, leadID, 50)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := OverviewResponse{
		LeadID: leadID,
		Tasks:  make([]TaskResponse, len(tasks)),
		Jobs:   make([]JobResponse, len(jobs)),
		Ledger: make([]LedgerEntryResponse, len(ledger)),
	}
	for i, t := range tasks {
		resp.Tasks[i] = TaskResponse{
			ID:        t.ID,
			JobID:     t.JobID,
			Scenario:  string(t.Scenario),
			Text:      t.TextNormalized,
			Active:    t.Active,
			CreatedAt: t.CreatedAt.Format(time.RFC3339),
		}
	}
	for i, j := range jobs {
		jr := JobResponse{
			ID:        j.ID,
			Status:    string(j.Status),
			DueAt:     j.DueAt.Format(time.RFC3339),
			Result:    j.Result,
			CreatedAt: j.CreatedAt.Format(time.RFC3339),
		}
		if j.FinishedAt != nil {
			finished := j.FinishedAt.Format(time.RFC3339)
			jr.FinishedAt = &finished
		}
		resp.Jobs[i] = jr
	}
	for i, ev := range ledger {
		resp.Ledger[i] = LedgerEntryResponse{
			EventID:    ev.EventID,
			Direction:  string(ev.Direction),
			Text:       ev.TextRaw,
			SentByUs:   ev.SentByUs,
			OccurredAt: ev.OccurredAt.Format(time.RFC3339),
		}
	}

	httpkit.OK(c, resp)
}

// CancelRequest is the optional body of a cancel request.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// CancelResponse reports how many tasks were cancelled.
type CancelResponse struct {
	Cancelled int `json:"cancelled"`
}

// HandleCancel cancels all active follow-up tasks for a lead.
// POST /api/v1/admin/leads/:leadId/followups/cancel
func (h *Handler) HandleCancel(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("leadId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead ID", nil)
		return
	}

	var req CancelRequest
	_ = c.ShouldBindJSON(&req)
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by operator"
	}

	cancelled, err := h.service.CancelAll(c.Request.Context(), leadID, reason)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, CancelResponse{Cancelled: cancelled})
}
