// Package store defines the persistence ports of the engine. The engine owns
// risk_assessments and alert_notifications entirely; deadlines belong to the
// external CRUD collaborator and are read-only here.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
)

// DeadlineStore reads compliance deadlines owned by the external collaborator.
type DeadlineStore interface {
	ListDeadlines(ctx context.Context, filter domain.DeadlineFilter) ([]domain.ComplianceDeadline, error)
	GetDeadline(ctx context.Context, id uuid.UUID) (*domain.ComplianceDeadline, error)
}

// AssessmentRepository persists immutable risk assessment rows.
type AssessmentRepository interface {
	// Insert stores a new assessment and marks the previous current row for
	// the same deadline as superseded by it.
	Insert(ctx context.Context, a *domain.RiskAssessment) error
	// Latest returns the current (non-superseded) assessment for a deadline.
	Latest(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error)
	// History returns up to limit assessments for a deadline, newest first.
	History(ctx context.Context, deadlineID uuid.UUID, limit int) ([]domain.RiskAssessment, error)
	// CountByLevel aggregates current assessments per risk level.
	CountByLevel(ctx context.Context) (map[domain.RiskLevel]int, error)
}

// NotificationRepository persists alert notifications. Identity fields are
// immutable; status fields are updated with an optimistic status guard.
type NotificationRepository interface {
	Insert(ctx context.Context, n *domain.AlertNotification) error
	Get(ctx context.Context, id uuid.UUID) (*domain.AlertNotification, error)
	List(ctx context.Context, filter domain.NotificationFilter) ([]domain.AlertNotification, error)

	// Update writes the mutable fields of n, guarded by expectStatus: the row
	// is only written if its persisted status still equals expectStatus.
	// Returns domain.ErrStaleTransition otherwise, so a transition is never
	// partially applied.
	Update(ctx context.Context, n *domain.AlertNotification, expectStatus domain.NotificationStatus) error

	// FindUnresolved returns non-terminal notifications for a deadline and
	// type, used by the composer for deduplication.
	FindUnresolved(ctx context.Context, deadlineID uuid.UUID, t domain.NotificationType) ([]domain.AlertNotification, error)

	// Dispatchable returns notifications ready for (re)dispatch: pending, or
	// scheduled with scheduledFor at or before now.
	Dispatchable(ctx context.Context, now time.Time) ([]domain.AlertNotification, error)

	// AwaitingResponse returns delivered/read notifications that still
	// require acknowledgment and have not been escalated yet; once escalated,
	// the successor carries the flow.
	AwaitingResponse(ctx context.Context) ([]domain.AlertNotification, error)

	// FailedForEscalation returns failed notifications whose retry budget is
	// exhausted and which have not been escalated yet.
	FailedForEscalation(ctx context.Context, maxRetries int) ([]domain.AlertNotification, error)

	// ActiveForDeadline returns pending/scheduled notifications for a
	// deadline, used for cancellation when the deadline completes externally.
	ActiveForDeadline(ctx context.Context, deadlineID uuid.UUID) ([]domain.AlertNotification, error)

	// CountByStatus and CountByPriority feed the dashboard summary widgets.
	CountByStatus(ctx context.Context) (map[domain.NotificationStatus]int, error)
	CountByPriority(ctx context.Context) (map[domain.NotificationPriority]int, error)
}
