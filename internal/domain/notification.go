package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecipientType represents how the recipient reference should be expanded
type RecipientType string

const (
	RecipientIndividual      RecipientType = "INDIVIDUAL"
	RecipientRole            RecipientType = "ROLE"
	RecipientDepartment      RecipientType = "DEPARTMENT"
	RecipientAllStakeholders RecipientType = "ALL_STAKEHOLDERS"
)

// NotificationType represents the kind of alert being sent
type NotificationType string

const (
	NotificationDeadlineReminder NotificationType = "DEADLINE_REMINDER"
	NotificationRiskAlert        NotificationType = "RISK_ALERT"
	NotificationOverdueWarning   NotificationType = "OVERDUE_WARNING"
	NotificationEscalation       NotificationType = "ESCALATION"
	NotificationCompletion       NotificationType = "COMPLETION_CONFIRMATION"
	NotificationStatusUpdate     NotificationType = "STATUS_UPDATE"
)

// Label returns a human-readable name for the notification type
func (t NotificationType) Label() string {
	switch t {
	case NotificationDeadlineReminder:
		return "Deadline Reminder"
	case NotificationRiskAlert:
		return "Risk Alert"
	case NotificationOverdueWarning:
		return "Overdue Warning"
	case NotificationEscalation:
		return "Escalation"
	case NotificationCompletion:
		return "Completion Confirmation"
	default:
		return "Status Update"
	}
}

// NotificationPriority represents the urgency of a notification
type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "LOW"
	PriorityMedium   NotificationPriority = "MEDIUM"
	PriorityHigh     NotificationPriority = "HIGH"
	PriorityUrgent   NotificationPriority = "URGENT"
	PriorityCritical NotificationPriority = "CRITICAL"
)

// Bumped returns the priority one level up, saturating at critical
func (p NotificationPriority) Bumped() NotificationPriority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	case PriorityHigh:
		return PriorityUrgent
	default:
		return PriorityCritical
	}
}

// Rank returns a comparable rank for a priority (low=0 .. critical=4)
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Channel represents a delivery medium
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPhone    Channel = "PHONE"
	ChannelPush     Channel = "PUSH"
	ChannelInApp    Channel = "IN_APP"
)

// AllChannels lists every supported channel kind
var AllChannels = []Channel{
	ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPhone, ChannelPush, ChannelInApp,
}

// ValidChannel reports whether c is a known channel kind
func ValidChannel(c Channel) bool {
	for _, known := range AllChannels {
		if c == known {
			return true
		}
	}
	return false
}

// NotificationStatus represents the delivery state of a notification
type NotificationStatus string

const (
	StatusPending      NotificationStatus = "PENDING"
	StatusScheduled    NotificationStatus = "SCHEDULED"
	StatusSent         NotificationStatus = "SENT"
	StatusDelivered    NotificationStatus = "DELIVERED"
	StatusFailed       NotificationStatus = "FAILED"
	StatusRead         NotificationStatus = "READ"
	StatusAcknowledged NotificationStatus = "ACKNOWLEDGED"
	StatusCancelled    NotificationStatus = "CANCELLED"
)

// MaxEscalationLevel caps how far a notification can be escalated
const MaxEscalationLevel = 3

// notificationTransitions is the full state machine. The only backward edge
// is failed -> scheduled (retry); everything else moves forward.
var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:   {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusSent, StatusCancelled},
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusRead, StatusAcknowledged, StatusCancelled},
	StatusFailed:    {StatusScheduled},
	StatusRead:      {StatusAcknowledged, StatusCancelled},
	// acknowledged and cancelled are terminal
}

// CanTransition reports whether from -> to is a legal status edge
func CanTransition(from, to NotificationStatus) bool {
	for _, next := range notificationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AlertNotification represents one attempt to inform a recipient about a
// deadline or its risk state. Identity fields are immutable after creation;
// only the dispatcher and escalation manager mutate the status fields.
type AlertNotification struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	DeadlineID       uuid.UUID  `json:"deadline_id" db:"deadline_id"`
	RiskAssessmentID *uuid.UUID `json:"risk_assessment_id,omitempty" db:"risk_assessment_id"`

	RecipientType RecipientType `json:"recipient_type" db:"recipient_type"`
	RecipientRef  string        `json:"recipient_ref" db:"recipient_ref"` // user id, role name, or department name
	RecipientID   uuid.UUID     `json:"recipient_id" db:"recipient_id"`   // concrete recipient after directory expansion

	NotificationType NotificationType     `json:"notification_type" db:"notification_type"`
	Priority         NotificationPriority `json:"priority" db:"priority"`
	Channels         []Channel            `json:"channels" db:"channels"` // never empty
	Subject          string               `json:"subject,omitempty" db:"subject"`
	Message          string               `json:"message" db:"message"`

	Status       NotificationStatus `json:"status" db:"status"`
	ScheduledFor *time.Time         `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt       *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt  *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResponseNote string             `json:"response_note,omitempty" db:"response_note"`

	RetryCount       int  `json:"retry_count" db:"retry_count"`           // >= 0, resets on successful delivery
	EscalationLevel  int  `json:"escalation_level" db:"escalation_level"` // 0-3, non-decreasing
	RequiresResponse bool `json:"requires_response" db:"requires_response"`

	// EscalatedAt is set once this notification has been escalated, so a
	// sweep never escalates the same notification twice; the successor
	// carries the flow from there.
	EscalatedAt *time.Time `json:"escalated_at,omitempty" db:"escalated_at"`

	// EscalatedFromID links an escalation successor back to the notification
	// whose failure or non-response produced it.
	EscalatedFromID *uuid.UUID `json:"escalated_from_id,omitempty" db:"escalated_from_id"`

	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true when no further automated transition applies.
// A failed notification is only terminal once escalation is exhausted.
func (n *AlertNotification) IsTerminal() bool {
	switch n.Status {
	case StatusAcknowledged, StatusCancelled:
		return true
	case StatusFailed:
		return n.EscalationLevel >= MaxEscalationLevel
	default:
		return false
	}
}

// IsResolved returns true when the notification no longer blocks deduplication
// of new notifications for the same deadline and type.
func (n *AlertNotification) IsResolved() bool {
	return n.IsTerminal()
}

// AwaitingResponse returns true when an acknowledgment is still expected
func (n *AlertNotification) AwaitingResponse() bool {
	if !n.RequiresResponse {
		return false
	}
	switch n.Status {
	case StatusDelivered, StatusRead:
		return true
	default:
		return false
	}
}

// Transition moves the notification to a new status, applying the lifecycle
// invariants: retryCount resets on entering delivered/read/acknowledged.
// Returns a ValidationError wrapper for illegal edges.
func (n *AlertNotification) Transition(to NotificationStatus, now time.Time) error {
	if !CanTransition(n.Status, to) {
		return NewDomainError(KindValidation, "notification",
			"illegal status transition "+string(n.Status)+" -> "+string(to))
	}
	n.Status = to
	n.UpdatedAt = now
	switch to {
	case StatusSent:
		n.SentAt = &now
	case StatusDelivered:
		n.DeliveredAt = &now
		n.RetryCount = 0
		n.ErrorMessage = ""
	case StatusRead:
		n.RetryCount = 0
	case StatusAcknowledged:
		n.AcknowledgedAt = &now
		n.RetryCount = 0
	}
	return nil
}

// Escalate raises the escalation level by one, saturating at the cap.
// The level never decreases.
func (n *AlertNotification) Escalate(now time.Time) {
	if n.EscalationLevel < MaxEscalationLevel {
		n.EscalationLevel++
	}
	n.EscalatedAt = &now
	n.UpdatedAt = now
}

// MarkPermanentlyFailed finalizes a notification whose escalation budget is
// exhausted. This is the one terminal marking applied outside the normal
// status edges: a delivered-but-never-acknowledged notification at the cap
// also ends as failed.
func (n *AlertNotification) MarkPermanentlyFailed(reason string, now time.Time) {
	n.Status = StatusFailed
	if n.ErrorMessage == "" {
		n.ErrorMessage = reason
	}
	n.EscalatedAt = &now
	n.UpdatedAt = now
}

// NotificationFilter narrows notification queries, mirroring the dashboard's
// filter surface.
type NotificationFilter struct {
	DeadlineID *uuid.UUID           `json:"deadline_id,omitempty"`
	Status     NotificationStatus   `json:"status,omitempty"`
	Priority   NotificationPriority `json:"priority,omitempty"`
	Channel    Channel              `json:"channel,omitempty"`
	Type       NotificationType     `json:"type,omitempty"`
	Limit      int                  `json:"limit,omitempty"`
}

// SendNotificationRequest is the payload accepted by the send endpoint
type SendNotificationRequest struct {
	DeadlineID       uuid.UUID            `json:"deadline_id" validate:"required"`
	RecipientType    RecipientType        `json:"recipient_type" validate:"required"`
	RecipientRef     string               `json:"recipient_ref" validate:"required"`
	NotificationType NotificationType     `json:"notification_type" validate:"required"`
	Priority         NotificationPriority `json:"priority"`
	Channels         []Channel            `json:"channels" validate:"required,min=1"`
	Subject          string               `json:"subject,omitempty"`
	Message          string               `json:"message" validate:"required"`
	RequiresResponse bool                 `json:"requires_response"`
	ScheduledFor     *time.Time           `json:"scheduled_for,omitempty"`
}

// Validate rejects malformed requests before anything is persisted
func (r *SendNotificationRequest) Validate() error {
	if r.DeadlineID == uuid.Nil {
		return NewDomainError(KindValidation, "notification", "deadline_id is required")
	}
	if r.RecipientRef == "" {
		return NewDomainError(KindValidation, "notification", "recipient_ref is required")
	}
	switch r.RecipientType {
	case RecipientIndividual, RecipientRole, RecipientDepartment, RecipientAllStakeholders:
	default:
		return NewDomainError(KindValidation, "notification", "unknown recipient_type "+string(r.RecipientType))
	}
	if r.Message == "" {
		return NewDomainError(KindValidation, "notification", "message is required")
	}
	if len(r.Channels) == 0 {
		return NewDomainError(KindValidation, "notification", "channels must not be empty")
	}
	for _, c := range r.Channels {
		if !ValidChannel(c) {
			return NewDomainError(KindValidation, "notification", "unknown channel "+string(c))
		}
	}
	return nil
}

// NotificationSummary is a lean DTO for list views
type NotificationSummary struct {
	ID               uuid.UUID            `json:"id"`
	DeadlineID       uuid.UUID            `json:"deadline_id"`
	NotificationType NotificationType     `json:"notification_type"`
	Priority         NotificationPriority `json:"priority"`
	Status           NotificationStatus   `json:"status"`
	Channels         []Channel            `json:"channels"`
	RetryCount       int                  `json:"retry_count"`
	EscalationLevel  int                  `json:"escalation_level"`
	CreatedAt        time.Time            `json:"created_at"`
}

// ToSummary converts AlertNotification to NotificationSummary
func (n *AlertNotification) ToSummary() *NotificationSummary {
	return &NotificationSummary{
		ID:               n.ID,
		DeadlineID:       n.DeadlineID,
		NotificationType: n.NotificationType,
		Priority:         n.Priority,
		Status:           n.Status,
		Channels:         n.Channels,
		RetryCount:       n.RetryCount,
		EscalationLevel:  n.EscalationLevel,
		CreatedAt:        n.CreatedAt,
	}
}
