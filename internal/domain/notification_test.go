package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotification(status NotificationStatus) *AlertNotification {
	return &AlertNotification{
		ID:         uuid.New(),
		DeadlineID: uuid.New(),
		Priority:   PriorityHigh,
		Channels:   []Channel{ChannelEmail},
		Status:     status,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to NotificationStatus
		want     bool
	}{
		{StatusPending, StatusScheduled, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusSent, false},
		{StatusScheduled, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusFailed, true},
		{StatusSent, StatusCancelled, false},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusAcknowledged, true},
		{StatusFailed, StatusScheduled, true},
		{StatusFailed, StatusDelivered, false},
		{StatusRead, StatusAcknowledged, true},
		{StatusAcknowledged, StatusCancelled, false},
		{StatusCancelled, StatusScheduled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	n := newTestNotification(StatusPending)
	err := n.Transition(StatusDelivered, time.Now())
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, StatusPending, n.Status)
}

func TestTransitionResetsRetryCountOnSuccess(t *testing.T) {
	now := time.Now()

	n := newTestNotification(StatusSent)
	n.RetryCount = 2
	require.NoError(t, n.Transition(StatusDelivered, now))
	assert.Equal(t, 0, n.RetryCount)
	require.NotNil(t, n.DeliveredAt)

	n = newTestNotification(StatusDelivered)
	n.RetryCount = 2
	require.NoError(t, n.Transition(StatusRead, now))
	assert.Equal(t, 0, n.RetryCount)

	n = newTestNotification(StatusRead)
	n.RetryCount = 2
	require.NoError(t, n.Transition(StatusAcknowledged, now))
	assert.Equal(t, 0, n.RetryCount)
	require.NotNil(t, n.AcknowledgedAt)
}

func TestTransitionClearsErrorOnDelivery(t *testing.T) {
	n := newTestNotification(StatusSent)
	n.ErrorMessage = "smtp 421"
	require.NoError(t, n.Transition(StatusDelivered, time.Now()))
	assert.Empty(t, n.ErrorMessage)
}

func TestIsTerminal(t *testing.T) {
	n := newTestNotification(StatusAcknowledged)
	assert.True(t, n.IsTerminal())

	n = newTestNotification(StatusCancelled)
	assert.True(t, n.IsTerminal())

	// Failed is only terminal once escalation is exhausted.
	n = newTestNotification(StatusFailed)
	assert.False(t, n.IsTerminal())
	n.EscalationLevel = MaxEscalationLevel
	assert.True(t, n.IsTerminal())

	n = newTestNotification(StatusDelivered)
	assert.False(t, n.IsTerminal())
}

func TestEscalateIsMonotoneAndCapped(t *testing.T) {
	now := time.Now()
	n := newTestNotification(StatusFailed)

	for i := 1; i <= MaxEscalationLevel; i++ {
		n.Escalate(now)
		assert.Equal(t, i, n.EscalationLevel)
	}
	n.Escalate(now)
	assert.Equal(t, MaxEscalationLevel, n.EscalationLevel)
	require.NotNil(t, n.EscalatedAt)
}

func TestMarkPermanentlyFailedKeepsFirstError(t *testing.T) {
	now := time.Now()
	n := newTestNotification(StatusDelivered)
	n.ErrorMessage = "sms gateway down"
	n.MarkPermanentlyFailed("escalation exhausted", now)

	assert.Equal(t, StatusFailed, n.Status)
	assert.Equal(t, "sms gateway down", n.ErrorMessage)
	require.NotNil(t, n.EscalatedAt)
}

func TestAwaitingResponse(t *testing.T) {
	n := newTestNotification(StatusDelivered)
	assert.False(t, n.AwaitingResponse())

	n.RequiresResponse = true
	assert.True(t, n.AwaitingResponse())

	require.NoError(t, n.Transition(StatusRead, time.Now()))
	assert.True(t, n.AwaitingResponse())

	require.NoError(t, n.Transition(StatusAcknowledged, time.Now()))
	assert.False(t, n.AwaitingResponse())
}

func TestPriorityBumped(t *testing.T) {
	assert.Equal(t, PriorityMedium, PriorityLow.Bumped())
	assert.Equal(t, PriorityHigh, PriorityMedium.Bumped())
	assert.Equal(t, PriorityUrgent, PriorityHigh.Bumped())
	assert.Equal(t, PriorityCritical, PriorityUrgent.Bumped())
	assert.Equal(t, PriorityCritical, PriorityCritical.Bumped())
}

func TestSendNotificationRequestValidate(t *testing.T) {
	valid := SendNotificationRequest{
		DeadlineID:       uuid.New(),
		RecipientType:    RecipientRole,
		RecipientRef:     "compliance_officer",
		NotificationType: NotificationDeadlineReminder,
		Channels:         []Channel{ChannelEmail},
		Message:          "quarterly filing due",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*SendNotificationRequest)
	}{
		{"missing deadline", func(r *SendNotificationRequest) { r.DeadlineID = uuid.Nil }},
		{"missing recipient ref", func(r *SendNotificationRequest) { r.RecipientRef = "" }},
		{"bad recipient type", func(r *SendNotificationRequest) { r.RecipientType = "TEAM" }},
		{"missing message", func(r *SendNotificationRequest) { r.Message = "" }},
		{"no channels", func(r *SendNotificationRequest) { r.Channels = nil }},
		{"unknown channel", func(r *SendNotificationRequest) { r.Channels = []Channel{"CARRIER_PIGEON"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}
