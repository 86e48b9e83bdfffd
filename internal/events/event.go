// Package events defines the domain events exchanged between modules.
// All consequences of a lead state change are published from a single
// call site in the follow-up service, so subscribers see every transition.
package events

import "github.com/google/uuid"

// Event name constants for subscription.
const (
	EventScenarioChanged        = "lead.scenario_changed"
	EventManualOverrideDetected = "lead.manual_override_detected"
	EventFollowUpDelivered      = "followup.delivered"
	EventFollowUpFailed         = "followup.failed"
)

// ScenarioChanged fires when a lead transitions between follow-up scenarios.
type ScenarioChanged struct {
	BaseEvent
	LeadID     uuid.UUID
	BusinessID uuid.UUID
	From       string
	To         string
	Reason     string
	Cancelled  int
	Scheduled  int
}

func (ScenarioChanged) EventName() string { return EventScenarioChanged }

// ManualOverrideDetected fires when a human operator message supersedes
// the automation for a lead.
type ManualOverrideDetected struct {
	BaseEvent
	LeadID     uuid.UUID
	BusinessID uuid.UUID
	Reason     string
	Cancelled  int
}

func (ManualOverrideDetected) EventName() string { return EventManualOverrideDetected }

// FollowUpDelivered fires after a follow-up message was handed to the
// delivery gateway successfully.
type FollowUpDelivered struct {
	BaseEvent
	LeadID     uuid.UUID
	JobID      uuid.UUID
	DeliveryID string
}

func (FollowUpDelivered) EventName() string { return EventFollowUpDelivered }

// FollowUpFailed fires when a due follow-up could not be delivered.
// There is no automatic retry; the event exists for operator visibility.
type FollowUpFailed struct {
	BaseEvent
	LeadID uuid.UUID
	JobID  uuid.UUID
	Reason string
}

func (FollowUpFailed) EventName() string { return EventFollowUpFailed }
