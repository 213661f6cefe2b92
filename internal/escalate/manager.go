// Package escalate promotes unresolved critical notifications to
// higher-priority recipients. Escalation is one-directional: a notification's
// level never decreases and never passes the cap.
package escalate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/events"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store"
)

// Manager observes delivery and acknowledgment outcomes and escalates
type Manager struct {
	notifications store.NotificationRepository
	composer      *notify.Composer
	sink          events.Sink

	cfg         *config.EscalationConfig
	maxRetries  int
	locks       *lock.MutexMap
	clock       clockwork.Clock
	log         *logger.Logger
}

// NewManager creates a new escalation manager
func NewManager(
	notifications store.NotificationRepository,
	composer *notify.Composer,
	sink events.Sink,
	cfg *config.EscalationConfig,
	maxRetries int,
	locks *lock.MutexMap,
	clock clockwork.Clock,
	log *logger.Logger,
) *Manager {
	return &Manager{
		notifications: notifications,
		composer:      composer,
		sink:          sink,
		cfg:           cfg,
		maxRetries:    maxRetries,
		locks:         locks,
		clock:         clock,
		log:           log.Named("escalation"),
	}
}

// Sweep finds notifications needing escalation and escalates them. Failures
// on one notification never block the rest of the sweep.
func (m *Manager) Sweep(ctx context.Context) ([]domain.AlertNotification, error) {
	var escalated []domain.AlertNotification

	failed, err := m.notifications.FailedForEscalation(ctx, m.maxRetries)
	if err != nil {
		return nil, fmt.Errorf("load failed notifications: %w", err)
	}
	for i := range failed {
		n := failed[i]
		successor, err := m.Escalate(ctx, n.ID, "retry budget exhausted")
		switch {
		case err != nil && domain.KindOf(err) == domain.KindEscalationExhausted:
			// Already surfaced through the event sink.
		case err != nil:
			m.log.Warn("escalation failed", logger.StringField("notification_id", n.ID.String()), logger.ErrorField(err))
		case successor != nil:
			escalated = append(escalated, *successor)
		}
	}

	awaiting, err := m.notifications.AwaitingResponse(ctx)
	if err != nil {
		return escalated, fmt.Errorf("load awaiting notifications: %w", err)
	}
	now := m.clock.Now()
	for i := range awaiting {
		n := awaiting[i]
		if !m.responseOverdue(&n, now) {
			continue
		}
		reason := fmt.Sprintf("no acknowledgment within %s window", m.cfg.ResponseWindow(string(n.Priority)))
		successor, err := m.Escalate(ctx, n.ID, reason)
		switch {
		case err != nil && domain.KindOf(err) == domain.KindEscalationExhausted:
			// Already surfaced through the event sink.
		case err != nil:
			m.log.Warn("escalation failed", logger.StringField("notification_id", n.ID.String()), logger.ErrorField(err))
		case successor != nil:
			escalated = append(escalated, *successor)
		}
	}

	return escalated, nil
}

// responseOverdue reports whether a requires-response notification has
// outlived its priority-specific acknowledgment window. The window runs from
// the send time, so escalation fires even when delivery itself succeeded.
func (m *Manager) responseOverdue(n *domain.AlertNotification, now time.Time) bool {
	ref := n.SentAt
	if ref == nil {
		ref = n.DeliveredAt
	}
	if ref == nil {
		return false
	}
	window := m.cfg.ResponseWindow(string(n.Priority))
	return now.Sub(*ref) >= window
}

// Escalate raises one notification's escalation level. Below the cap it
// composes a successor of type escalation targeted one recipient tier up with
// the priority bumped; at the cap it marks the notification permanently
// failed and emits to the observability sink.
func (m *Manager) Escalate(ctx context.Context, notificationID uuid.UUID, reason string) (*domain.AlertNotification, error) {
	m.locks.Lock(notificationID.String())
	defer m.locks.Unlock(notificationID.String())

	n, err := m.notifications.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Status == domain.StatusAcknowledged || n.Status == domain.StatusCancelled {
		return nil, nil
	}

	now := m.clock.Now()
	prev := n.Status

	if n.EscalationLevel >= domain.MaxEscalationLevel {
		if n.EscalatedAt != nil {
			// Already finalized on a previous pass.
			return nil, domain.NewDomainError(domain.KindEscalationExhausted, "notification",
				"escalation level cap reached for "+n.ID.String())
		}
		// Exhausted: permanently failed, surfaced to observability, no
		// further automated action.
		return nil, m.markExhausted(ctx, n, prev)
	}

	n.Escalate(now)

	successors, err := m.composer.ComposeEscalation(ctx, n, reason)
	if err != nil {
		return nil, domain.WrapDomainError(domain.KindRecipientResolution, "escalation",
			"compose successor for "+n.ID.String(), err)
	}

	if err := m.notifications.Update(ctx, n, prev); err != nil {
		return nil, err
	}

	var successor *domain.AlertNotification
	if len(successors) > 0 {
		successor = &successors[0]
		m.log.EscalationTriggered(n.ID.String(), successor.ID.String(), n.EscalationLevel, reason)
	}
	return successor, nil
}

// markExhausted finalizes a notification whose escalation budget is spent
func (m *Manager) markExhausted(ctx context.Context, n *domain.AlertNotification, prev domain.NotificationStatus) error {
	now := m.clock.Now()

	n.MarkPermanentlyFailed("escalation exhausted", now)
	if err := m.notifications.Update(ctx, n, prev); err != nil {
		return err
	}

	m.log.EscalationExhausted(n.ID.String(), n.DeadlineID.String())

	id := n.ID
	event := domain.NewEngineEvent(domain.EventEscalationExhausted, n.DeadlineID, &id,
		"notification permanently failed after escalation level "+fmt.Sprint(n.EscalationLevel), now)
	if err := m.sink.Emit(ctx, event); err != nil {
		m.log.Warn("failed to emit escalation exhausted event", logger.ErrorField(err))
	}
	return domain.NewDomainError(domain.KindEscalationExhausted, "notification",
		"escalation level cap reached for "+n.ID.String())
}
