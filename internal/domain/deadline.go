package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeadlineStatus represents the lifecycle state of a compliance deadline
type DeadlineStatus string

const (
	DeadlineStatusPending    DeadlineStatus = "PENDING"
	DeadlineStatusInProgress DeadlineStatus = "IN_PROGRESS"
	DeadlineStatusCompleted  DeadlineStatus = "COMPLETED"
	DeadlineStatusOverdue    DeadlineStatus = "OVERDUE"
)

// DeadlinePriority represents the business priority of a deadline
type DeadlinePriority string

const (
	DeadlinePriorityLow      DeadlinePriority = "LOW"
	DeadlinePriorityMedium   DeadlinePriority = "MEDIUM"
	DeadlinePriorityHigh     DeadlinePriority = "HIGH"
	DeadlinePriorityCritical DeadlinePriority = "CRITICAL"
)

// ComplianceDeadline represents a tracked regulatory obligation.
// The record is owned by the external CRUD layer; this service only reads it
// and never mutates status or completion.
type ComplianceDeadline struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Title    string    `json:"title" db:"title"`
	Category string    `json:"category" db:"category"` // Regulatory body or domain (SEC, FINRA, ...)

	DueAt                time.Time        `json:"due_at" db:"due_at"`
	Status               DeadlineStatus   `json:"status" db:"status"`
	CompletionPercentage int              `json:"completion_percentage" db:"completion_percentage"` // 0-100
	Priority             DeadlinePriority `json:"priority" db:"priority"`
	OwnerID              uuid.UUID        `json:"owner_id" db:"owner_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsCompleted returns true if the deadline has been fulfilled
func (d *ComplianceDeadline) IsCompleted() bool {
	return d.Status == DeadlineStatusCompleted
}

// IsOverdue returns true if the due date has passed without completion
func (d *ComplianceDeadline) IsOverdue(now time.Time) bool {
	return !d.IsCompleted() && d.DueAt.Before(now)
}

// DaysRemaining returns the number of whole days until the due date.
// Negative values mean the deadline has already passed.
func (d *ComplianceDeadline) DaysRemaining(now time.Time) float64 {
	return d.DueAt.Sub(now).Hours() / 24
}

// CompletionGap returns the uncompleted share of the work (0-100)
func (d *ComplianceDeadline) CompletionGap() int {
	gap := 100 - d.CompletionPercentage
	if gap < 0 {
		return 0
	}
	if gap > 100 {
		return 100
	}
	return gap
}

// DeadlineFilter narrows deadline store queries
type DeadlineFilter struct {
	Statuses  []DeadlineStatus `json:"statuses,omitempty"`
	Priority  DeadlinePriority `json:"priority,omitempty"`
	Category  string           `json:"category,omitempty"`
	DueBefore *time.Time       `json:"due_before,omitempty"`
	OwnerID   *uuid.UUID       `json:"owner_id,omitempty"`
}

// DeadlineEvent is the change event received from the deadline CRUD service
type DeadlineEvent struct {
	EventID    uuid.UUID           `json:"event_id"`
	EventType  string              `json:"event_type"` // deadline.created, deadline.updated, deadline.completed
	Timestamp  time.Time           `json:"timestamp"`
	Deadline   *ComplianceDeadline `json:"payload"`
	PrevStatus DeadlineStatus      `json:"prev_status,omitempty"`
}
