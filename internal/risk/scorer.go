// Package risk computes deadline risk assessments. Scores follow one
// canonical formula; the categorical level is always derived from the score
// via domain.RiskLevelForScore, never set independently.
package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store"
)

// Scorer computes risk scores from deadline attributes and assessment history
type Scorer struct {
	deadlines   store.DeadlineStore
	assessments store.AssessmentRepository

	cfg   *config.ScoringConfig
	clock clockwork.Clock
	log   *logger.Logger
}

// NewScorer creates a new risk scorer
func NewScorer(
	deadlines store.DeadlineStore,
	assessments store.AssessmentRepository,
	cfg *config.ScoringConfig,
	clock clockwork.Clock,
	log *logger.Logger,
) *Scorer {
	return &Scorer{
		deadlines:   deadlines,
		assessments: assessments,
		cfg:         cfg,
		clock:       clock,
		log:         log.Named("risk_scorer"),
	}
}

// Score evaluates one deadline against its assessment history, persists a
// new immutable assessment row, and returns it. The deadline itself is never
// mutated.
func (s *Scorer) Score(ctx context.Context, deadline *domain.ComplianceDeadline, history []domain.RiskAssessment) (*domain.RiskAssessment, error) {
	now := s.clock.Now()

	var (
		score      float64
		factors    []domain.RiskFactor
		overridden bool
	)

	if deadline.IsOverdue(now) {
		// Hard override: an overdue, incomplete deadline is always maximal
		// risk regardless of the weighted formula.
		score = 100
		overridden = true
		factors = []domain.RiskFactor{{
			Name:        "overdue",
			Impact:      100,
			Probability: 100,
			Description: "deadline has passed without completion",
		}}
	} else {
		score, factors = s.weightedScore(deadline, history, now)
	}

	assessment := domain.NewRiskAssessment(deadline.ID, score, factors, now)
	assessment.Overridden = overridden

	if err := s.assessments.Insert(ctx, assessment); err != nil {
		return nil, domain.WrapDomainError(domain.KindDataUnavailable, "assessment", "persist assessment", err)
	}

	s.log.AssessmentCompleted(deadline.ID.String(), assessment.RiskScore, string(assessment.RiskLevel), overridden)
	return assessment, nil
}

// ScoreDeadline loads the deadline and its history, then scores it. Used by
// the scheduler pass and the explicit re-run command. A deadline whose source
// record cannot be read yields a DataUnavailable error; callers skip it
// without failing the batch.
func (s *Scorer) ScoreDeadline(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error) {
	deadline, err := s.deadlines.GetDeadline(ctx, deadlineID)
	if err != nil {
		return nil, domain.WrapDomainError(domain.KindDataUnavailable, "deadline", "read deadline "+deadlineID.String(), err)
	}
	history, err := s.assessments.History(ctx, deadlineID, s.cfg.TrendWindow)
	if err != nil && domain.KindOf(err) != domain.KindNotFound {
		return nil, domain.WrapDomainError(domain.KindDataUnavailable, "assessment", "read history", err)
	}
	return s.Score(ctx, deadline, history)
}

// weightedScore combines time pressure, completion gap, priority weight, and
// the trend term into a bounded 0-100 score.
func (s *Scorer) weightedScore(d *domain.ComplianceDeadline, history []domain.RiskAssessment, now time.Time) (float64, []domain.RiskFactor) {
	// Time pressure ramps linearly from 0 at the horizon to 1 at the due
	// date. Days at or below zero mean maximal pressure.
	days := d.DaysRemaining(now)
	pressure := 1 - days/s.cfg.TimeHorizonDays
	if pressure < 0 {
		pressure = 0
	}
	if pressure > 1 {
		pressure = 1
	}

	timeTerm := s.cfg.TimeWeight * pressure

	// The completion gap only matters to the extent the deadline is near.
	gap := float64(d.CompletionGap())
	gapTerm := s.cfg.GapWeight * gap * pressure

	priorityTerm := s.cfg.PriorityPoints(string(d.Priority))

	trendTerm := s.trendAdjustment(history)

	score := timeTerm + gapTerm + priorityTerm + trendTerm
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	factors := []domain.RiskFactor{
		{
			Name:        "time_pressure",
			Impact:      clamp100(timeTerm),
			Probability: clamp100(pressure * 100),
			Description: "proximity to due date",
		},
		{
			Name:        "completion_gap",
			Impact:      clamp100(gapTerm),
			Probability: clamp100(gap),
			Description: "uncompleted work scaled by time pressure",
		},
		{
			Name:        "priority_weight",
			Impact:      clamp100(priorityTerm),
			Probability: 100,
			Description: "deadline business priority",
		},
	}
	if trendTerm > 0 {
		factors = append(factors, domain.RiskFactor{
			Name:        "deteriorating_trend",
			Impact:      clamp100(trendTerm),
			Probability: 100,
			Description: "risk score rising across recent assessments",
		})
	}

	return score, factors
}

// trendAdjustment returns a positive boost when the score has risen across
// the last trend-window assessments, so a deteriorating situation does not
// flap between levels.
func (s *Scorer) trendAdjustment(history []domain.RiskAssessment) float64 {
	window := s.cfg.TrendWindow
	if window < 2 || len(history) < 2 {
		return 0
	}
	if len(history) > window {
		history = history[:window]
	}
	// History is newest first; a rising trend means every step back in time
	// has a strictly lower score.
	for i := 0; i < len(history)-1; i++ {
		if history[i].RiskScore <= history[i+1].RiskScore {
			return 0
		}
	}
	return s.cfg.TrendBoost
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
