package webhook

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/followup"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// UpdateRequest is one lead update in a webhook batch.
type UpdateRequest struct {
	EventID    string    `json:"eventId" validate:"required,min=1,max=200"`
	LeadID     string    `json:"leadId" validate:"required,uuid"`
	EventType  string    `json:"eventType" validate:"required,oneof=new_lead new_message phone_opt_in"`
	UserType   string    `json:"userType" validate:"required,oneof=consumer business"`
	Text       string    `json:"text" validate:"max=10000"`
	OccurredAt time.Time `json:"occurredAt" validate:"required"`
}

// UpdateResult reports what happened to one update in the batch.
type UpdateResult struct {
	EventID string            `json:"eventId"`
	Status  string            `json:"status"`
	Outcome *followup.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BatchResponse is the webhook batch reply.
type BatchResponse struct {
	Processed int            `json:"processed"`
	Results   []UpdateResult `json:"results"`
}

// Service feeds authenticated webhook batches into the follow-up engine.
type Service struct {
	followups *followup.Service
	log       *logger.Logger
}

// NewService creates the webhook service.
func NewService(followups *followup.Service, log *logger.Logger) *Service {
	return &Service{followups: followups, log: log}
}

// ProcessBatch runs each update through the follow-up service in order.
// A queue outage aborts the whole batch so the platform retries it; the
// ledger's event-id idempotency makes the replay safe.
func (s *Service) ProcessBatch(ctx context.Context, businessID uuid.UUID, updates []UpdateRequest) (BatchResponse, error) {
	results := make([]UpdateResult, 0, len(updates))
	processed := 0

	for _, upd := range updates {
		leadID, err := uuid.Parse(upd.LeadID)
		if err != nil {
			results = append(results, UpdateResult{
				EventID: upd.EventID,
				Status:  "rejected",
				Error:   "invalid lead id",
			})
			continue
		}

		outcome, err := s.followups.ProcessUpdate(ctx, followup.Update{
			LeadID:     leadID,
			BusinessID: businessID,
			EventID:    upd.EventID,
			EventType:  upd.EventType,
			UserType:   upd.UserType,
			Text:       upd.Text,
			OccurredAt: upd.OccurredAt,
		})
		if err != nil {
			var appErr *apperr.Error
			if errors.As(err, &appErr) && appErr.Kind == apperr.KindUnavailable {
				return BatchResponse{}, err
			}
			s.log.Error("update processing failed", "event_id", upd.EventID, "error", err)
			results = append(results, UpdateResult{
				EventID: upd.EventID,
				Status:  "error",
				Error:   err.Error(),
			})
			continue
		}

		processed++
		out := outcome
		results = append(results, UpdateResult{
			EventID: upd.EventID,
			Status:  "ok",
			Outcome: &out,
		})
	}

	return BatchResponse{Processed: processed, Results: results}, nil
}
