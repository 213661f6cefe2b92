package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel represents the risk severity bucket
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Risk level thresholds. These are the single source of truth for every
// consumer; RiskLevel is never stored independently of the score.
const (
	ThresholdCritical = 80.0
	ThresholdHigh     = 60.0
	ThresholdMedium   = 40.0
)

// RiskLevelForScore derives the categorical level from a continuous score
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return RiskLevelCritical
	case score >= ThresholdHigh:
		return RiskLevelHigh
	case score >= ThresholdMedium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// Severity returns a comparable rank for a risk level (low=0 .. critical=3)
func (l RiskLevel) Severity() int {
	switch l {
	case RiskLevelCritical:
		return 3
	case RiskLevelHigh:
		return 2
	case RiskLevelMedium:
		return 1
	default:
		return 0
	}
}

// RiskFactor is one contribution to a risk score
type RiskFactor struct {
	Name        string  `json:"name"`
	Impact      float64 `json:"impact"`      // 0-100, contribution to the score
	Probability float64 `json:"probability"` // 0-100
	Description string  `json:"description,omitempty"`
}

// RiskAssessment is a point-in-time risk evaluation of one deadline.
// Rows are immutable once created; a re-evaluation inserts a new row and
// sets SupersededBy on the previous one, preserving the audit trail.
type RiskAssessment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DeadlineID uuid.UUID `json:"deadline_id" db:"deadline_id"`

	RiskScore float64      `json:"risk_score" db:"risk_score"` // 0-100, continuous
	RiskLevel RiskLevel    `json:"risk_level" db:"risk_level"` // always RiskLevelForScore(RiskScore)
	Factors   []RiskFactor `json:"factors" db:"factors"`       // ordered, stored as JSONB

	Overridden bool `json:"overridden" db:"overridden"` // true when the overdue hard override fired

	ComputedAt   time.Time  `json:"computed_at" db:"computed_at"`
	SupersededBy *uuid.UUID `json:"superseded_by,omitempty" db:"superseded_by"`
}

// IsCurrent returns true if no later assessment has replaced this one
func (a *RiskAssessment) IsCurrent() bool {
	return a.SupersededBy == nil
}

// IsCritical returns true if the assessment warrants immediate alerting
func (a *RiskAssessment) IsCritical() bool {
	return a.RiskLevel == RiskLevelCritical
}

// NewRiskAssessment builds an assessment with the level derived from the score
func NewRiskAssessment(deadlineID uuid.UUID, score float64, factors []RiskFactor, computedAt time.Time) *RiskAssessment {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return &RiskAssessment{
		ID:         uuid.New(),
		DeadlineID: deadlineID,
		RiskScore:  score,
		RiskLevel:  RiskLevelForScore(score),
		Factors:    factors,
		ComputedAt: computedAt,
	}
}

// AssessmentSummary is a lean DTO for dashboard list views
type AssessmentSummary struct {
	DeadlineID uuid.UUID `json:"deadline_id"`
	RiskScore  float64   `json:"risk_score"`
	RiskLevel  RiskLevel `json:"risk_level"`
	ComputedAt time.Time `json:"computed_at"`
}

// ToSummary converts RiskAssessment to AssessmentSummary
func (a *RiskAssessment) ToSummary() *AssessmentSummary {
	return &AssessmentSummary{
		DeadlineID: a.DeadlineID,
		RiskScore:  a.RiskScore,
		RiskLevel:  a.RiskLevel,
		ComputedAt: a.ComputedAt,
	}
}
