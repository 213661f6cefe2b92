package rediscache

import (
	"context"

	"github.com/google/uuid"

	"github.com/compliance/deadline-engine/internal/domain"
	"github.com/compliance/deadline-engine/internal/pkg/logger"
	"github.com/compliance/deadline-engine/internal/store"
)

// CachedAssessments decorates an assessment repository with the Redis
// current-assessment cache. Cache failures degrade to the inner repository;
// they are logged, never surfaced.
type CachedAssessments struct {
	inner store.AssessmentRepository
	cache *AssessmentCache
	log   *logger.Logger
}

func NewCachedAssessments(inner store.AssessmentRepository, cache *AssessmentCache, log *logger.Logger) *CachedAssessments {
	return &CachedAssessments{inner: inner, cache: cache, log: log.Named("assessment_cache")}
}

func (c *CachedAssessments) Insert(ctx context.Context, a *domain.RiskAssessment) error {
	if err := c.inner.Insert(ctx, a); err != nil {
		return err
	}
	if err := c.cache.Put(ctx, a); err != nil {
		c.log.Warn("cache write failed", logger.ErrorField(err))
	}
	return nil
}

func (c *CachedAssessments) Latest(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error) {
	cached, err := c.cache.Get(ctx, deadlineID)
	if err != nil {
		c.log.Warn("cache read failed", logger.ErrorField(err))
	} else if cached != nil {
		return cached, nil
	}

	a, err := c.inner.Latest(ctx, deadlineID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, a); err != nil {
		c.log.Warn("cache backfill failed", logger.ErrorField(err))
	}
	return a, nil
}

func (c *CachedAssessments) History(ctx context.Context, deadlineID uuid.UUID, limit int) ([]domain.RiskAssessment, error) {
	return c.inner.History(ctx, deadlineID, limit)
}

func (c *CachedAssessments) CountByLevel(ctx context.Context) (map[domain.RiskLevel]int, error) {
	return c.inner.CountByLevel(ctx)
}
