package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskLevelLow},
		{39.9, RiskLevelLow},
		{40, RiskLevelMedium},
		{59.9, RiskLevelMedium},
		{60, RiskLevelHigh},
		{79.9, RiskLevelHigh},
		{80, RiskLevelCritical},
		{100, RiskLevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelForScore(tt.score), "score %.1f", tt.score)
	}
}

func TestNewRiskAssessmentClampsScore(t *testing.T) {
	now := time.Now()
	deadlineID := uuid.New()

	a := NewRiskAssessment(deadlineID, 140, nil, now)
	assert.Equal(t, 100.0, a.RiskScore)
	assert.Equal(t, RiskLevelCritical, a.RiskLevel)

	a = NewRiskAssessment(deadlineID, -3, nil, now)
	assert.Equal(t, 0.0, a.RiskScore)
	assert.Equal(t, RiskLevelLow, a.RiskLevel)
}

func TestNewRiskAssessmentDerivesLevelFromScore(t *testing.T) {
	a := NewRiskAssessment(uuid.New(), 67.5, []RiskFactor{{Name: "time_pressure"}}, time.Now())
	require.Equal(t, RiskLevelForScore(a.RiskScore), a.RiskLevel)
	assert.Nil(t, a.SupersededBy)
	assert.False(t, a.Overridden)
}

func TestSeverityOrdering(t *testing.T) {
	assert.Less(t, RiskLevelLow.Severity(), RiskLevelMedium.Severity())
	assert.Less(t, RiskLevelMedium.Severity(), RiskLevelHigh.Severity())
	assert.Less(t, RiskLevelHigh.Severity(), RiskLevelCritical.Severity())
}
