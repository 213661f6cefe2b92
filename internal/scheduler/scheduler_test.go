package scheduler

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
	"github.com/compliance/deadline-engine/internal/dispatch"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/escalate"
	"github.com/compliance/deadline-engine/internal/events"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/risk"
	"github.com/compliance/deadline-engine/internal/store/memory"
)

type schedulerFixture struct {
	scheduler     *Scheduler
	deadlines     *memory.DeadlineStore
	assessments   *memory.AssessmentRepository
	notifications *memory.NotificationRepository
	sink          *events.MemorySink
	clock         *clockwork.FakeClock
	cfg           *config.Config
	email         *dispatch.SimulatedProvider
	owner         domain.Recipient
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	cfg := config.Default()

	deadlines := memory.NewDeadlineStore()
	assessments := memory.NewAssessmentRepository()
	notifications := memory.NewNotificationRepository()
	sink := events.NewMemorySink()
	locks := lock.NewMutexMap()

	owner := domain.Recipient{
		ID:   uuid.New(),
		Name: "Dana Osei",
		Contacts: map[domain.Channel]string{
			domain.ChannelEmail: "dana.osei@example.com",
			domain.ChannelSMS:   "+15550100",
			domain.ChannelPush:  "device-token-1",
		},
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

	email := dispatch.NewSimulatedProvider(domain.ChannelEmail, log)
	registry := dispatch.NewProviderRegistry()
	registry.Register(email)
	registry.Register(dispatch.NewSimulatedProvider(domain.ChannelSMS, log))
	registry.Register(dispatch.NewSimulatedProvider(domain.ChannelPush, log))
	registry.Register(dispatch.NewSimulatedProvider(domain.ChannelInApp, log))

	scorer := risk.NewScorer(deadlines, assessments, &cfg.Scoring, clock, log)
	composer := notify.NewComposer(notifications, dir, notify.DefaultPolicy(),
		notify.NewTierLadderResolver(&cfg.Escalation), clock, log)
	dispatcher := dispatch.NewDispatcher(notifications, registry, dir,
		dispatch.NewMemoryAttemptKeys(), &cfg.Dispatch, locks, clock, log)
	escalator := escalate.NewManager(notifications, composer, sink, &cfg.Escalation,
		cfg.Dispatch.MaxRetries, locks, clock, log)

	sched := NewScheduler(deadlines, assessments, notifications,
		scorer, composer, dispatcher, escalator, sink,
		&cfg.Scheduler, &cfg.Scoring, locks, clock, log)

	return &schedulerFixture{
		scheduler:     sched,
		deadlines:     deadlines,
		assessments:   assessments,
		notifications: notifications,
		sink:          sink,
		clock:         clock,
		cfg:           cfg,
		email:         email,
		owner:         owner,
	}
}

func (f *schedulerFixture) putDeadline(dueIn time.Duration, completion int, priority domain.DeadlinePriority) domain.ComplianceDeadline {
	now := f.clock.Now()
	d := domain.ComplianceDeadline{
		ID:                   uuid.New(),
		Title:                "Form 10-K filing",
		Category:             "SEC",
		DueAt:                now.Add(dueIn),
		Status:               domain.DeadlineStatusInProgress,
		CompletionPercentage: completion,
		Priority:             priority,
		OwnerID:              f.owner.ID,
		CreatedAt:            now.Add(-24 * time.Hour),
		UpdatedAt:            now,
	}
	f.deadlines.Put(d)
	return d
}

func TestTickScoresComposesAndDispatches(t *testing.T) {
	f := newSchedulerFixture(t)
	d := f.putDeadline(48*time.Hour, 10, domain.DeadlinePriorityCritical)
	ctx := context.Background()

	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Scored)
	assert.Equal(t, 1, stats.Composed)
	assert.Equal(t, 1, stats.Dispatched)

	latest, err := f.assessments.Latest(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLevelCritical, latest.RiskLevel)

	all, err := f.notifications.List(ctx, domain.NotificationFilter{DeadlineID: &d.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusDelivered, all[0].Status)
}

func TestTickSkipsFreshAssessments(t *testing.T) {
	f := newSchedulerFixture(t)
	f.putDeadline(48*time.Hour, 10, domain.DeadlinePriorityCritical)
	ctx := context.Background()

	_, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)

	// Nothing is stale one minute later, so the second tick scores nothing.
	f.clock.Advance(time.Minute)
	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scored)
}

func TestTickRescoresStaleAssessments(t *testing.T) {
	f := newSchedulerFixture(t)
	f.putDeadline(20*24*time.Hour, 50, domain.DeadlinePriorityMedium)
	ctx := context.Background()

	_, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)

	f.clock.Advance(f.cfg.Scoring.StalenessThreshold + time.Minute)
	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored)
	// Risk did not rise, so nothing new is composed.
	assert.Equal(t, 0, stats.Composed)
}

func TestCompletedDeadlineCancelsBeforeDispatch(t *testing.T) {
	f := newSchedulerFixture(t)
	d := f.putDeadline(48*time.Hour, 80, domain.DeadlinePriorityHigh)
	ctx := context.Background()
	now := f.clock.Now()

	pending := &domain.AlertNotification{
		ID:               uuid.New(),
		DeadlineID:       d.ID,
		RecipientType:    domain.RecipientIndividual,
		RecipientRef:     f.owner.ID.String(),
		RecipientID:      f.owner.ID,
		NotificationType: domain.NotificationRiskAlert,
		Priority:         domain.PriorityHigh,
		Channels:         []domain.Channel{domain.ChannelEmail},
		Message:          "deadline at high risk",
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.notifications.Insert(ctx, pending))

	// The deadline completes externally before the next tick.
	d.Status = domain.DeadlineStatusCompleted
	d.CompletionPercentage = 100
	f.deadlines.Put(d)

	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cancelled)

	stored, err := f.notifications.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Empty(t, f.email.Sent())
}

func TestRepeatedDataUnavailableEmitsEvent(t *testing.T) {
	f := newSchedulerFixture(t)
	d := f.putDeadline(48*time.Hour, 10, domain.DeadlinePriorityCritical)
	f.deadlines.SetUnavailable(d.ID, true)
	ctx := context.Background()

	for i := 0; i < f.cfg.Scheduler.DataUnavailableThreshold; i++ {
		_, err := f.scheduler.Tick(ctx)
		require.NoError(t, err)
		f.clock.Advance(f.cfg.Scheduler.TickInterval)
	}

	emitted := f.sink.Events()
	require.Len(t, emitted, 1)
	assert.Equal(t, domain.EventDataUnavailable, emitted[0].Type)
	assert.Equal(t, d.ID, emitted[0].DeadlineID)

	// Recovery clears the counter and scores normally again.
	f.deadlines.SetUnavailable(d.ID, false)
	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scored)
	assert.Len(t, f.sink.Events(), 1)
}

func TestTickEscalatesThroughSweep(t *testing.T) {
	f := newSchedulerFixture(t)
	d := f.putDeadline(48*time.Hour, 10, domain.DeadlinePriorityHigh)
	ctx := context.Background()
	now := f.clock.Now()

	failed := &domain.AlertNotification{
		ID:               uuid.New(),
		DeadlineID:       d.ID,
		RecipientType:    domain.RecipientIndividual,
		RecipientRef:     f.owner.ID.String(),
		RecipientID:      f.owner.ID,
		NotificationType: domain.NotificationRiskAlert,
		Priority:         domain.PriorityHigh,
		Channels:         []domain.Channel{domain.ChannelEmail},
		Message:          "deadline at high risk",
		Status:           domain.StatusFailed,
		RetryCount:       f.cfg.Dispatch.MaxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.notifications.Insert(ctx, failed))

	stats, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated)

	successors, err := f.notifications.List(ctx, domain.NotificationFilter{
		DeadlineID: &d.ID,
		Type:       domain.NotificationEscalation,
	})
	require.NoError(t, err)
	require.Len(t, successors, 1)
	assert.Equal(t, 1, successors[0].EscalationLevel)
}

func TestNeedsRescoreOnTierCrossing(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()
	d := f.putDeadline(8*24*time.Hour, 50, domain.DeadlinePriorityMedium)

	// Assessed while the deadline sat in the 8-14 day tier.
	prev := domain.NewRiskAssessment(d.ID, 30, nil, now)

	// Fresh assessment, same tier: no rescore.
	assert.False(t, f.scheduler.needsRescore(&d, prev, now.Add(time.Minute)))

	// Two days later the deadline crossed into the under-7-days tier.
	crossed := now.Add(2 * 24 * time.Hour)
	prev.ComputedAt = crossed.Add(-time.Minute)
	assert.True(t, f.scheduler.needsRescore(&d, prev, crossed))
}

func TestNeedsRescoreWhenOverdueNotCritical(t *testing.T) {
	f := newSchedulerFixture(t)
	now := f.clock.Now()
	d := f.putDeadline(time.Hour, 50, domain.DeadlinePriorityMedium)

	prev := domain.NewRiskAssessment(d.ID, 45, nil, now)
	assert.False(t, f.scheduler.needsRescore(&d, prev, now.Add(time.Minute)))

	// Past due with a non-critical assessment forces a rescore even if the
	// assessment is fresh.
	overdueAt := d.DueAt.Add(time.Minute)
	prev.ComputedAt = overdueAt.Add(-time.Second)
	assert.True(t, f.scheduler.needsRescore(&d, prev, overdueAt))
}
