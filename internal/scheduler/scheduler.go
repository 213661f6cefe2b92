// Package scheduler drives the engine's periodic evaluation loop. Each tick
// cancels notifications for externally completed deadlines, re-scores
// deadlines whose assessments went stale or crossed a proximity tier,
// composes notifications for risk increases, dispatches due sends, and
// sweeps escalations.
package scheduler

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/dispatch"
	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/escalate"
	"github.com/compliance/deadline-engine/internal/events"
	"github.com/compliance/deadline-engine/internal/notify"
	"github.com/compliance/deadline-engine/internal/pkg/lock"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/risk"
	"github.com/compliance/deadline-engine/internal/store"
)

// TickStats summarizes the work done by one tick
type TickStats struct {
	Scored     int
	Composed   int
	Dispatched int
	Escalated  int
	Cancelled  int
}

// Scheduler runs the fixed-interval evaluation loop. Ticks never overlap: a
// tick that fires while the previous one is still running is skipped, not
// queued.
type Scheduler struct {
	deadlines     store.DeadlineStore
	assessments   store.AssessmentRepository
	notifications store.NotificationRepository

	scorer     *risk.Scorer
	composer   *notify.Composer
	dispatcher *dispatch.Dispatcher
	escalator  *escalate.Manager
	sink       events.Sink

	cfg     *config.SchedulerConfig
	scoring *config.ScoringConfig
	locks   *lock.MutexMap
	clock   clockwork.Clock
	log     *logger.Logger
	tracer  trace.Tracer

	running atomic.Bool

	// Consecutive load failures per deadline. Crossing the configured
	// threshold emits a DataUnavailable event; a successful load resets.
	failMu       sync.Mutex
	loadFailures map[uuid.UUID]int
}

func NewScheduler(
	deadlines store.DeadlineStore,
	assessments store.AssessmentRepository,
	notifications store.NotificationRepository,
	scorer *risk.Scorer,
	composer *notify.Composer,
	dispatcher *dispatch.Dispatcher,
	escalator *escalate.Manager,
	sink events.Sink,
	cfg *config.SchedulerConfig,
	scoring *config.ScoringConfig,
	locks *lock.MutexMap,
	clock clockwork.Clock,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		deadlines:     deadlines,
		assessments:   assessments,
		notifications: notifications,
		scorer:        scorer,
		composer:      composer,
		dispatcher:    dispatcher,
		escalator:     escalator,
		sink:          sink,
		cfg:           cfg,
		scoring:       scoring,
		locks:         locks,
		clock:         clock,
		log:           log.Named("scheduler"),
		tracer:        otel.Tracer("deadline-engine/scheduler"),
		loadFailures:  make(map[uuid.UUID]int),
	}
}

// Run blocks until ctx is cancelled, firing a tick every TickInterval. Each
// tick runs on its own goroutine so a slow tick delays nothing; the overlap
// guard drops the colliding tick instead.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", logger.DurationField("tick_interval", s.cfg.TickInterval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.Chan():
			if !s.running.CompareAndSwap(false, true) {
				s.log.TickSkipped()
				continue
			}
			go func() {
				defer s.running.Store(false)
				if _, err := s.Tick(ctx); err != nil {
					s.log.Error("tick failed", logger.ErrorField(err))
				}
			}()
		}
	}
}

// Tick executes one full evaluation pass. Per-entity failures are logged and
// skipped; only a failure to enumerate work at all aborts the tick.
func (s *Scheduler) Tick(ctx context.Context) (*TickStats, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	started := s.clock.Now()
	stats := &TickStats{}

	all, err := s.deadlines.ListDeadlines(ctx, domain.DeadlineFilter{})
	if err != nil {
		return nil, domain.WrapDomainError(domain.KindDataUnavailable, "deadline", "list deadlines", err)
	}

	// Cancellation runs before dispatch so a deadline completed since the
	// last tick never produces a send.
	for i := range all {
		if !all[i].IsCompleted() {
			continue
		}
		stats.Cancelled += s.cancelFor(ctx, all[i].ID)
	}

	stats.Scored, stats.Composed = s.rescore(ctx, all)

	now := s.clock.Now()
	due, err := s.notifications.Dispatchable(ctx, now)
	if err != nil {
		s.log.Warn("failed to load dispatchable notifications", logger.ErrorField(err))
	}
	for i := range due {
		outcome, err := s.dispatcher.Dispatch(ctx, due[i].ID)
		if err != nil {
			s.log.Warn("dispatch failed",
				logger.StringField("notification_id", due[i].ID.String()),
				logger.ErrorField(err))
			continue
		}
		if outcome.Delivered {
			stats.Dispatched++
		}
	}

	escalated, err := s.escalator.Sweep(ctx)
	if err != nil {
		s.log.Warn("escalation sweep incomplete", logger.ErrorField(err))
	}
	stats.Escalated = len(escalated)

	span.SetAttributes(
		attribute.Int("tick.scored", stats.Scored),
		attribute.Int("tick.dispatched", stats.Dispatched),
		attribute.Int("tick.escalated", stats.Escalated),
	)
	s.log.TickCompleted(stats.Scored, stats.Composed, stats.Dispatched, stats.Escalated,
		stats.Cancelled, s.clock.Since(started).Milliseconds())
	return stats, nil
}

// cancelFor cancels the pending and scheduled notifications of a completed
// deadline. Rows that moved on concurrently are left to their new state.
func (s *Scheduler) cancelFor(ctx context.Context, deadlineID uuid.UUID) int {
	active, err := s.notifications.ActiveForDeadline(ctx, deadlineID)
	if err != nil {
		s.log.Warn("failed to load active notifications",
			logger.StringField("deadline_id", deadlineID.String()),
			logger.ErrorField(err))
		return 0
	}

	cancelled := 0
	now := s.clock.Now()
	for i := range active {
		n := active[i]
		s.locks.Lock(n.ID.String())
		prev := n.Status
		if err := n.Transition(domain.StatusCancelled, now); err != nil {
			s.locks.Unlock(n.ID.String())
			continue
		}
		if err := s.notifications.Update(ctx, &n, prev); err != nil {
			if domain.KindOf(err) != domain.KindConflict {
				s.log.Warn("failed to cancel notification",
					logger.StringField("notification_id", n.ID.String()),
					logger.ErrorField(err))
			}
			s.locks.Unlock(n.ID.String())
			continue
		}
		s.locks.Unlock(n.ID.String())
		cancelled++
	}
	return cancelled
}

// rescore re-evaluates every deadline whose assessment is stale or which
// crossed a proximity tier, in parallel, and composes notifications where
// the risk level rose.
func (s *Scheduler) rescore(ctx context.Context, all []domain.ComplianceDeadline) (scored, composed int) {
	now := s.clock.Now()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.ScoreWorkers)

	for i := range all {
		d := all[i]
		if d.IsCompleted() {
			continue
		}

		prev, err := s.assessments.Latest(ctx, d.ID)
		if err != nil && domain.KindOf(err) != domain.KindNotFound {
			s.log.Warn("failed to load latest assessment",
				logger.StringField("deadline_id", d.ID.String()),
				logger.ErrorField(err))
			continue
		}
		if !s.needsRescore(&d, prev, now) {
			continue
		}

		g.Go(func() error {
			assessment, err := s.scorer.ScoreDeadline(ctx, d.ID)
			if err != nil {
				if domain.KindOf(err) == domain.KindDataUnavailable {
					s.recordLoadFailure(ctx, d.ID, err)
				} else {
					s.log.Warn("scoring failed",
						logger.StringField("deadline_id", d.ID.String()),
						logger.ErrorField(err))
				}
				return nil
			}
			s.clearLoadFailure(d.ID)

			mu.Lock()
			scored++
			mu.Unlock()

			if !riskRose(prev, assessment) {
				return nil
			}
			created, err := s.composer.ComposeForAssessment(ctx, &d, assessment)
			if err != nil {
				s.log.Warn("compose failed",
					logger.StringField("deadline_id", d.ID.String()),
					logger.ErrorField(err))
				return nil
			}
			mu.Lock()
			composed += len(created)
			mu.Unlock()
			return nil
		})
	}
	// Workers swallow their own errors, so Wait only synchronizes.
	_ = g.Wait()
	return scored, composed
}

// needsRescore decides whether a deadline is due for re-evaluation: no
// assessment yet, the current one is stale, the deadline crossed a proximity
// tier since it was computed, or the deadline went overdue without the
// assessment reflecting it.
func (s *Scheduler) needsRescore(d *domain.ComplianceDeadline, prev *domain.RiskAssessment, now time.Time) bool {
	if prev == nil {
		return true
	}
	if now.Sub(prev.ComputedAt) >= s.scoring.StalenessThreshold {
		return true
	}
	if d.IsOverdue(now) && prev.RiskLevel != domain.RiskLevelCritical {
		return true
	}
	return s.tierOf(d.DaysRemaining(now)) != s.tierOf(d.DaysRemaining(prev.ComputedAt))
}

// tierOf maps days-remaining onto the configured proximity tiers. Tier 0 is
// the closest boundary; values beyond the last boundary fall into one extra
// far tier.
func (s *Scheduler) tierOf(days float64) int {
	for i, boundary := range s.scoring.TierBoundariesDays {
		if days <= float64(boundary) {
			return i
		}
	}
	return len(s.scoring.TierBoundariesDays)
}

// riskRose reports whether the new assessment carries a strictly higher risk
// level than the previous one. A first assessment always counts as a rise.
func riskRose(prev, current *domain.RiskAssessment) bool {
	if prev == nil {
		return true
	}
	return current.RiskLevel.Severity() > prev.RiskLevel.Severity()
}

func (s *Scheduler) recordLoadFailure(ctx context.Context, deadlineID uuid.UUID, cause error) {
	s.failMu.Lock()
	s.loadFailures[deadlineID]++
	count := s.loadFailures[deadlineID]
	s.failMu.Unlock()

	s.log.Warn("deadline data unavailable",
		logger.StringField("deadline_id", deadlineID.String()),
		logger.IntField("consecutive_failures", count),
		logger.ErrorField(cause))

	if count != s.cfg.DataUnavailableThreshold {
		return
	}
	event := domain.NewEngineEvent(domain.EventDataUnavailable, deadlineID, nil,
		"deadline source unreadable for "+strconv.Itoa(count)+" consecutive passes", s.clock.Now())
	if err := s.sink.Emit(ctx, event); err != nil {
		s.log.Warn("failed to emit data unavailable event", logger.ErrorField(err))
	}
}

func (s *Scheduler) clearLoadFailure(deadlineID uuid.UUID) {
	s.failMu.Lock()
	delete(s.loadFailures, deadlineID)
	s.failMu.Unlock()
}
