package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, 30.0, cfg.Scoring.TimeHorizonDays)
	assert.Equal(t, 45.0, cfg.Scoring.TimeWeight)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Dispatch.BackoffBase)
	assert.Equal(t, 30*time.Minute, cfg.Dispatch.BackoffCap)
	assert.Equal(t, time.Minute, cfg.Scheduler.TickInterval)
	assert.Equal(t, []int{1, 3, 7, 14, 30}, cfg.Scoring.TierBoundariesDays)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("DEADLINE_ENGINE_SERVER_PORT", "9191")
	t.Setenv("DEADLINE_ENGINE_DISPATCH_MAX_RETRIES", "5")
	t.Setenv("DEADLINE_ENGINE_SCHEDULER_TICK_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
}

func TestPriorityPoints(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.0, cfg.Scoring.PriorityPoints("LOW"))
	assert.Equal(t, 6.0, cfg.Scoring.PriorityPoints("MEDIUM"))
	assert.Equal(t, 12.0, cfg.Scoring.PriorityPoints("HIGH"))
	assert.Equal(t, 20.0, cfg.Scoring.PriorityPoints("CRITICAL"))
	// Unknown priorities carry no weight.
	assert.Equal(t, 0.0, cfg.Scoring.PriorityPoints("BLOCKER"))
}

func TestResponseWindow(t *testing.T) {
	cfg := Default()
	assert.Equal(t, time.Hour, cfg.Escalation.ResponseWindow("CRITICAL"))
	assert.Equal(t, 4*time.Hour, cfg.Escalation.ResponseWindow("HIGH"))
	assert.Equal(t, 4*time.Hour, cfg.Escalation.ResponseWindow("URGENT"))
	assert.Equal(t, 24*time.Hour, cfg.Escalation.ResponseWindow("MEDIUM"))
	assert.Equal(t, 24*time.Hour, cfg.Escalation.ResponseWindow("LOW"))
}
