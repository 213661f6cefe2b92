// Package notify turns risk and deadline events into concrete alert
// notifications, expanding abstract recipients through the external user
// directory and deduplicating against unresolved notifications.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store"
)

// RecipientDirectory resolves abstract recipient references into concrete
// addressable targets. Provided by the external user-directory collaborator.
type RecipientDirectory interface {
	ResolveRecipients(ctx context.Context, t domain.RecipientType, ref string) ([]domain.Recipient, error)
}

// Composer creates alert notifications from risk assessments and events
type Composer struct {
	notifications store.NotificationRepository
	directory     RecipientDirectory
	policy        *Policy
	targets       EscalationTargetResolver

	clock clockwork.Clock
	log   *logger.Logger
}

// NewComposer creates a new notification composer
func NewComposer(
	notifications store.NotificationRepository,
	directory RecipientDirectory,
	policy *Policy,
	targets EscalationTargetResolver,
	clock clockwork.Clock,
	log *logger.Logger,
) *Composer {
	return &Composer{
		notifications: notifications,
		directory:     directory,
		policy:        policy,
		targets:       targets,
		clock:         clock,
		log:           log.Named("composer"),
	}
}

// ComposeForAssessment creates the notifications a risk assessment calls for.
// An unresolved notification for the same (deadline, type) pair suppresses
// new rows, so repeated scheduler passes never flood recipients.
func (c *Composer) ComposeForAssessment(ctx context.Context, deadline *domain.ComplianceDeadline, assessment *domain.RiskAssessment) ([]domain.AlertNotification, error) {
	cp := c.policy.ForLevel(assessment.RiskLevel)

	notificationType := cp.Type
	if deadline.IsOverdue(c.clock.Now()) {
		notificationType = domain.NotificationOverdueWarning
	}

	unresolved, err := c.notifications.FindUnresolved(ctx, deadline.ID, notificationType)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if len(unresolved) > 0 {
		c.log.Debug("unresolved notification exists, skipping compose",
			logger.StringField("deadline_id", deadline.ID.String()),
			logger.StringField("notification_type", string(notificationType)),
		)
		return nil, nil
	}

	subject := fmt.Sprintf("[%s] %s: %s", assessment.RiskLevel, notificationType.Label(), deadline.Title)
	message := fmt.Sprintf(
		"Deadline %q (%s) is at %s risk (score %.0f). Due %s, completion %d%%.",
		deadline.Title, deadline.Category, assessment.RiskLevel,
		assessment.RiskScore, deadline.DueAt.Format("2006-01-02"), deadline.CompletionPercentage,
	)

	assessmentID := assessment.ID
	return c.compose(ctx, composeSpec{
		deadlineID:       deadline.ID,
		riskAssessmentID: &assessmentID,
		recipientType:    domain.RecipientIndividual,
		recipientRef:     deadline.OwnerID.String(),
		notificationType: notificationType,
		priority:         cp.Priority,
		channels:         cp.Channels,
		subject:          subject,
		message:          message,
		requiresResponse: cp.RequiresResponse,
	})
}

// ComposeEscalation creates the successor notification for an escalated one:
// targeted one recipient tier up, priority bumped one level, linked back to
// the original.
func (c *Composer) ComposeEscalation(ctx context.Context, original *domain.AlertNotification, reason string) ([]domain.AlertNotification, error) {
	target := c.targets.NextTarget(original)
	originalID := original.ID

	subject := fmt.Sprintf("[ESCALATION L%d] %s", original.EscalationLevel, original.Subject)
	message := fmt.Sprintf("Escalated (%s): %s", reason, original.Message)

	created, err := c.compose(ctx, composeSpec{
		deadlineID:       original.DeadlineID,
		riskAssessmentID: original.RiskAssessmentID,
		recipientType:    target.RecipientType,
		recipientRef:     target.RecipientRef,
		notificationType: domain.NotificationEscalation,
		priority:         original.Priority.Bumped(),
		channels:         original.Channels,
		subject:          subject,
		message:          message,
		requiresResponse: true,
		escalatedFromID:  &originalID,
		escalationLevel:  original.EscalationLevel,
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ComposeRequest creates notifications from an externally submitted request.
// Validation failures surface synchronously; nothing malformed is persisted.
func (c *Composer) ComposeRequest(ctx context.Context, req *domain.SendNotificationRequest) ([]domain.AlertNotification, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	return c.compose(ctx, composeSpec{
		deadlineID:       req.DeadlineID,
		recipientType:    req.RecipientType,
		recipientRef:     req.RecipientRef,
		notificationType: req.NotificationType,
		priority:         priority,
		channels:         req.Channels,
		subject:          req.Subject,
		message:          req.Message,
		requiresResponse: req.RequiresResponse,
		scheduledFor:     req.ScheduledFor,
	})
}

type composeSpec struct {
	deadlineID       uuid.UUID
	riskAssessmentID *uuid.UUID
	recipientType    domain.RecipientType
	recipientRef     string
	notificationType domain.NotificationType
	priority         domain.NotificationPriority
	channels         []domain.Channel
	subject          string
	message          string
	requiresResponse bool
	escalatedFromID  *uuid.UUID
	escalationLevel  int
	scheduledFor     *time.Time
}

// compose expands the recipient reference and persists one single-recipient
// notification per concrete target. A directory failure for one recipient
// skips that recipient; the others proceed.
func (c *Composer) compose(ctx context.Context, spec composeSpec) ([]domain.AlertNotification, error) {
	recipients, err := c.directory.ResolveRecipients(ctx, spec.recipientType, spec.recipientRef)
	if err != nil {
		return nil, domain.WrapDomainError(domain.KindRecipientResolution, "recipient",
			"resolve "+string(spec.recipientType)+" "+spec.recipientRef, err)
	}
	if len(recipients) == 0 {
		return nil, domain.NewDomainError(domain.KindRecipientResolution, "recipient",
			"no recipients for "+string(spec.recipientType)+" "+spec.recipientRef)
	}

	now := c.clock.Now()
	var created []domain.AlertNotification
	for _, recipient := range recipients {
		channels := channelsFor(recipient, spec.channels)
		if len(channels) == 0 {
			// A notification must always have at least one channel; fall back
			// to in-app rather than dropping the recipient.
			channels = []domain.Channel{domain.ChannelInApp}
		}

		n := domain.AlertNotification{
			ID:               uuid.New(),
			DeadlineID:       spec.deadlineID,
			RiskAssessmentID: spec.riskAssessmentID,
			RecipientType:    spec.recipientType,
			RecipientRef:     spec.recipientRef,
			RecipientID:      recipient.ID,
			NotificationType: spec.notificationType,
			Priority:         spec.priority,
			Channels:         channels,
			Subject:          spec.subject,
			Message:          spec.message,
			Status:           domain.StatusPending,
			ScheduledFor:     spec.scheduledFor,
			RequiresResponse: spec.requiresResponse,
			EscalatedFromID:  spec.escalatedFromID,
			EscalationLevel:  spec.escalationLevel,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		if err := c.notifications.Insert(ctx, &n); err != nil {
			c.log.Warn("failed to persist notification",
				logger.StringField("recipient_id", recipient.ID.String()),
				logger.ErrorField(err),
			)
			continue
		}
		c.log.NotificationComposed(n.ID.String(), n.DeadlineID.String(),
			string(n.NotificationType), string(n.Priority), len(n.Channels))
		created = append(created, n)
	}
	return created, nil
}

// channelsFor keeps only the requested channels the recipient is reachable on
func channelsFor(r domain.Recipient, requested []domain.Channel) []domain.Channel {
	var out []domain.Channel
	for _, ch := range requested {
		if ch == domain.ChannelInApp {
			out = append(out, ch)
			continue
		}
		if _, ok := r.ContactFor(ch); ok {
			out = append(out, ch)
		}
	}
	return out
}
