package dispatch

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
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store/memory"
)

type dispatcherFixture struct {
	dispatcher    *Dispatcher
	notifications *memory.NotificationRepository
	clock         *clockwork.FakeClock
	cfg           *config.DispatchConfig
	email         *SimulatedProvider
	sms           *SimulatedProvider
	recipient     domain.Recipient
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	log := logger.NewNop()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	notifications := memory.NewNotificationRepository()

	recipient := domain.Recipient{
		ID:   uuid.New(),
		Name: "Dana Osei",
		Contacts: map[domain.Channel]string{
			domain.ChannelEmail: "dana.osei@example.com",
			domain.ChannelSMS:   "+15550100",
		},
	}
	dir := directory.NewStatic()
	dir.Add(recipient)

	email := NewSimulatedProvider(domain.ChannelEmail, log)
	sms := NewSimulatedProvider(domain.ChannelSMS, log)
	registry := NewProviderRegistry()
	registry.Register(email)
	registry.Register(sms)

	cfg := config.Default()
	dispatcher := NewDispatcher(notifications, registry, dir, NewMemoryAttemptKeys(),
		&cfg.Dispatch, lock.NewMutexMap(), clock, log)
	return &dispatcherFixture{
		dispatcher:    dispatcher,
		notifications: notifications,
		clock:         clock,
		cfg:           &cfg.Dispatch,
		email:         email,
		sms:           sms,
		recipient:     recipient,
	}
}

func (f *dispatcherFixture) insertPending(t *testing.T, channels ...domain.Channel) *domain.AlertNotification {
	t.Helper()
	now := f.clock.Now()
	n := &domain.AlertNotification{
		ID:               uuid.New(),
		DeadlineID:       uuid.New(),
		RecipientType:    domain.RecipientIndividual,
		RecipientRef:     f.recipient.ID.String(),
		RecipientID:      f.recipient.ID,
		NotificationType: domain.NotificationRiskAlert,
		Priority:         domain.PriorityHigh,
		Channels:         channels,
		Subject:          "risk alert",
		Message:          "deadline at high risk",
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.notifications.Insert(context.Background(), n))
	return n
}

func TestDispatchDeliversAcrossChannels(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail, domain.ChannelSMS)

	outcome, err := f.dispatcher.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Delivered)
	require.Len(t, outcome.Channels, 2)
	for _, ch := range outcome.Channels {
		assert.True(t, ch.Success, "channel %s", ch.Channel)
		assert.NotEmpty(t, ch.ProviderMessageID)
	}

	stored, err := f.notifications.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
	assert.Equal(t, 0, stored.RetryCount)
	require.NotNil(t, stored.SentAt)
	require.NotNil(t, stored.DeliveredAt)
}

func TestDispatchPartialSuccessCountsAsDelivered(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail, domain.ChannelSMS)
	f.sms.FailAll(true)

	outcome, err := f.dispatcher.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	assert.True(t, outcome.Delivered)
	succeeded := 0
	for _, ch := range outcome.Channels {
		if ch.Success {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.notifications.Get(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
}

func TestDispatchAllChannelsFailSchedulesRetryWithBackoff(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail)
	f.email.FailAll(true)
	ctx := context.Background()

	outcome, err := f.dispatcher.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Delivered)
	assert.True(t, outcome.RetryScheduled)

	stored, err := f.notifications.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.NotEmpty(t, stored.ErrorMessage)
	require.NotNil(t, stored.ScheduledFor)
	assert.Equal(t, f.clock.Now().Add(2*f.cfg.BackoffBase), *stored.ScheduledFor)
}

func TestDispatchRetryBudgetExhausts(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail)
	f.email.FailAll(true)
	ctx := context.Background()

	for attempt := 1; attempt < f.cfg.MaxRetries; attempt++ {
		outcome, err := f.dispatcher.Dispatch(ctx, n.ID)
		require.NoError(t, err)
		assert.True(t, outcome.RetryScheduled, "attempt %d", attempt)

		stored, err := f.notifications.Get(ctx, n.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.RetryCount)
		f.clock.Advance(f.cfg.BackoffCap)
	}

	outcome, err := f.dispatcher.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, outcome.RetriesExhausted)
	assert.False(t, outcome.RetryScheduled)

	stored, err := f.notifications.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, f.cfg.MaxRetries, stored.RetryCount)
}

func TestDispatchSkipsScheduledInFuture(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail)
	ctx := context.Background()

	future := f.clock.Now().Add(time.Hour)
	prev := n.Status
	require.NoError(t, n.Transition(domain.StatusScheduled, f.clock.Now()))
	n.ScheduledFor = &future
	require.NoError(t, f.notifications.Update(ctx, n, prev))

	outcome, err := f.dispatcher.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Empty(t, f.email.Sent())
}

func TestDispatchSkipsCancelledNotification(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail)
	ctx := context.Background()

	require.NoError(t, n.Transition(domain.StatusCancelled, f.clock.Now()))
	require.NoError(t, f.notifications.Update(ctx, n, domain.StatusPending))

	outcome, err := f.dispatcher.Dispatch(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
	assert.Empty(t, f.email.Sent())
}

func TestDispatchFailsChannelWithoutContact(t *testing.T) {
	f := newDispatcherFixture(t)
	// Recipient has no push token and no provider covers push either.
	n := f.insertPending(t, domain.ChannelEmail, domain.ChannelPush)

	outcome, err := f.dispatcher.Dispatch(context.Background(), n.ID)
	require.NoError(t, err)

	// Email still goes through; the notification counts as delivered.
	assert.True(t, outcome.Delivered)
	for _, ch := range outcome.Channels {
		if ch.Channel == domain.ChannelPush {
			assert.False(t, ch.Success)
			assert.NotEmpty(t, ch.Error)
		}
	}
}

func TestDispatchDeduplicatesAttemptKeys(t *testing.T) {
	_ = newDispatcherFixture(t)
	keys := NewMemoryAttemptKeys()
	ctx := context.Background()

	claimed, err := keys.Claim(ctx, "n1:0:EMAIL", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = keys.Claim(ctx, "n1:0:EMAIL", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A new retry round gets a fresh key.
	claimed, err = keys.Claim(ctx, "n1:1:EMAIL", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestProviderConfirmationIgnoredWhenTerminal(t *testing.T) {
	f := newDispatcherFixture(t)
	n := f.insertPending(t, domain.ChannelEmail)
	ctx := context.Background()

	require.NoError(t, n.Transition(domain.StatusCancelled, f.clock.Now()))
	require.NoError(t, f.notifications.Update(ctx, n, domain.StatusPending))

	require.NoError(t, f.dispatcher.RecordProviderConfirmation(ctx, n.ID, "msg-1"))

	stored, err := f.notifications.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
}
