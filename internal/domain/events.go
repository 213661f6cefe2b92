package domain

import (
	"time"

	"github.com/google/uuid"
)

// EngineEventType classifies events emitted to the observability sink
type EngineEventType string

const (
	EventEscalationExhausted EngineEventType = "ESCALATION_EXHAUSTED"
	EventTerminalFailure     EngineEventType = "TERMINAL_FAILURE"
	EventDataUnavailable     EngineEventType = "DATA_UNAVAILABLE"
)

// EngineEvent is a user-visible failure surfaced to the external
// observability/alerting collaborator. Only terminal failures, exhausted
// escalations, and repeated data-unavailable errors are emitted; everything
// else is logged and self-heals.
type EngineEvent struct {
	ID             uuid.UUID       `json:"id"`
	Type           EngineEventType `json:"type"`
	DeadlineID     uuid.UUID       `json:"deadline_id"`
	NotificationID *uuid.UUID      `json:"notification_id,omitempty"`
	Detail         string          `json:"detail"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// NewEngineEvent creates an event with a fresh id
func NewEngineEvent(t EngineEventType, deadlineID uuid.UUID, notificationID *uuid.UUID, detail string, now time.Time) *EngineEvent {
	return &EngineEvent{
		ID:             uuid.New(),
		Type:           t,
		DeadlineID:     deadlineID,
		NotificationID: notificationID,
		Detail:         detail,
		OccurredAt:     now,
	}
}
