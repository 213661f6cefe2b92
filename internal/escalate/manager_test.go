package escalate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/directory"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/events"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store/memory"
)

type managerFixture struct {
	manager       *Manager
	notifications *memory.NotificationRepository
	sink          *events.MemorySink
	clock         *clockwork.FakeClock
	cfg           *config.Config
	owner         domain.Recipient
	officer       domain.Recipient
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	notifications := memory.NewNotificationRepository()
	sink := events.NewMemorySink()
	cfg := config.Default()

	owner := domain.Recipient{
		ID:       uuid.New(),
		Name:     "Dana Osei",
		Contacts: map[domain.Channel]string{domain.ChannelEmail: "dana.osei@example.com"},
	}
	officer := domain.Recipient{
		ID:         uuid.New(),
		Name:       "Marta Kovacs",
		Role:       cfg.Escalation.EscalationRole,
		Department: cfg.Escalation.EscalationDepartment,
		Contacts:   map[domain.Channel]string{domain.ChannelEmail: "marta.kovacs@example.com"},
	}
	dir := directory.NewStatic()
	dir.Add(owner)
	dir.Add(officer)

	composer := notify.NewComposer(notifications, dir, notify.DefaultPolicy(),
		notify.NewTierLadderResolver(&cfg.Escalation), clock, log)
	manager := NewManager(notifications, composer, sink, &cfg.Escalation,
		cfg.Dispatch.MaxRetries, lock.NewMutexMap(), clock, log)
	return &managerFixture{
		manager:       manager,
		notifications: notifications,
		sink:          sink,
		clock:         clock,
		cfg:           cfg,
		owner:         owner,
		officer:       officer,
	}
}

func (f *managerFixture) insert(t *testing.T, status domain.NotificationStatus, mutate func(*domain.AlertNotification)) *domain.AlertNotification {
	t.Helper()
	now := f.clock.Now()
	n := &domain.AlertNotification{
		ID:               uuid.New(),
		DeadlineID:       uuid.New(),
		RecipientType:    domain.RecipientIndividual,
		RecipientRef:     f.owner.ID.String(),
		RecipientID:      f.owner.ID,
		NotificationType: domain.NotificationRiskAlert,
		Priority:         domain.PriorityHigh,
		Channels:         []domain.Channel{domain.ChannelEmail},
		Subject:          "risk alert",
		Message:          "deadline at high risk",
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, f.notifications.Insert(context.Background(), n))
	return n
}

func TestSweepEscalatesExhaustedRetries(t *testing.T) {
	f := newManagerFixture(t)
	original := f.insert(t, domain.StatusFailed, func(n *domain.AlertNotification) {
		n.RetryCount = f.cfg.Dispatch.MaxRetries
	})
	ctx := context.Background()

	escalated, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, escalated, 1)

	successor := escalated[0]
	assert.Equal(t, domain.NotificationEscalation, successor.NotificationType)
	assert.Equal(t, domain.RecipientRole, successor.RecipientType)
	assert.Equal(t, f.cfg.Escalation.EscalationRole, successor.RecipientRef)
	assert.Equal(t, domain.PriorityUrgent, successor.Priority)
	assert.Equal(t, 1, successor.EscalationLevel)
	require.NotNil(t, successor.EscalatedFromID)
	assert.Equal(t, original.ID, *successor.EscalatedFromID)

	stored, err := f.notifications.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
	require.NotNil(t, stored.EscalatedAt)
}

func TestSweepNeverEscalatesTwice(t *testing.T) {
	f := newManagerFixture(t)
	f.insert(t, domain.StatusFailed, func(n *domain.AlertNotification) {
		n.RetryCount = f.cfg.Dispatch.MaxRetries
	})
	ctx := context.Background()

	first, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestSweepLeavesRetryableFailuresAlone(t *testing.T) {
	f := newManagerFixture(t)
	f.insert(t, domain.StatusFailed, func(n *domain.AlertNotification) {
		n.RetryCount = 1
	})

	escalated, err := f.manager.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, escalated)
}

func TestSweepEscalatesUnacknowledgedPastWindow(t *testing.T) {
	f := newManagerFixture(t)
	sentAt := f.clock.Now()
	f.insert(t, domain.StatusDelivered, func(n *domain.AlertNotification) {
		n.RequiresResponse = true
		n.SentAt = &sentAt
	})
	ctx := context.Background()

	// Inside the high-priority response window nothing happens.
	f.clock.Advance(f.cfg.Escalation.ResponseWindowHigh - time.Minute)
	escalated, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, escalated)

	f.clock.Advance(2 * time.Minute)
	escalated, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, domain.NotificationEscalation, escalated[0].NotificationType)
}

func TestAcknowledgmentStopsEscalation(t *testing.T) {
	f := newManagerFixture(t)
	sentAt := f.clock.Now()
	n := f.insert(t, domain.StatusDelivered, func(n *domain.AlertNotification) {
		n.RequiresResponse = true
		n.SentAt = &sentAt
	})
	ctx := context.Background()

	require.NoError(t, n.Transition(domain.StatusAcknowledged, f.clock.Now()))
	require.NoError(t, f.notifications.Update(ctx, n, domain.StatusDelivered))

	f.clock.Advance(f.cfg.Escalation.ResponseWindowCritical * 48)
	escalated, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, escalated)
	assert.Empty(t, f.sink.Events())
}

func TestEscalationChainExhaustsAtCap(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// A successor already at the cap fails its delivery for good.
	last := f.insert(t, domain.StatusFailed, func(n *domain.AlertNotification) {
		n.NotificationType = domain.NotificationEscalation
		n.EscalationLevel = domain.MaxEscalationLevel
		n.RetryCount = f.cfg.Dispatch.MaxRetries
		n.ErrorMessage = "smtp 421"
	})

	escalated, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, escalated)

	stored, err := f.notifications.Get(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.True(t, stored.IsTerminal())
	require.NotNil(t, stored.EscalatedAt)

	emitted := f.sink.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.EventEscalationExhausted, emitted[0].Type)
	assert.Equal(t, last.DeadlineID, emitted[0].DeadlineID)
	require.NotNil(t, emitted[0].NotificationID)
	assert.Equal(t, last.ID, *emitted[0].NotificationID)

	// The exhausted notification never reenters the sweep.
	escalated, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, escalated)
	assert.Len(t, f.sink.Events(), 1)
}

func TestManualEscalateOnResolvedIsNoop(t *testing.T) {
	f := newManagerFixture(t)
	n := f.insert(t, domain.StatusAcknowledged, nil)

	successor, err := f.manager.Escalate(context.Background(), n.ID, "manual escalation request")
	require.NoError(t, err)
	assert.Nil(t, successor)
}

func TestEscalationChainWalksRecipientTiers(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	original := f.insert(t, domain.StatusFailed, func(n *domain.AlertNotification) {
		n.RetryCount = f.cfg.Dispatch.MaxRetries
	})

	s1, err := f.manager.Escalate(ctx, original.ID, "retry budget exhausted")
	require.NoError(t, err)
	require.NotNil(t, s1)
	assert.Equal(t, domain.RecipientRole, s1.RecipientType)
	assert.Equal(t, 1, s1.EscalationLevel)

	s2, err := f.manager.Escalate(ctx, s1.ID, "no acknowledgment")
	require.NoError(t, err)
	require.NotNil(t, s2)
	assert.Equal(t, domain.RecipientDepartment, s2.RecipientType)
	assert.Equal(t, 2, s2.EscalationLevel)

	s3, err := f.manager.Escalate(ctx, s2.ID, "no acknowledgment")
	require.NoError(t, err)
	require.NotNil(t, s3)
	assert.Equal(t, domain.RecipientAllStakeholders, s3.RecipientType)
	assert.Equal(t, 3, s3.EscalationLevel)

	// The cap: no fourth successor, the last one fails permanently.
	s4, err := f.manager.Escalate(ctx, s3.ID, "no acknowledgment")
	require.Error(t, err)
	assert.Equal(t, domain.KindEscalationExhausted, domain.KindOf(err))
	assert.Nil(t, s4)
	require.Len(t, f.sink.Events(), 1)
}
