// Package rediscache backs the dispatch attempt-key dedup store and the
// current-assessment cache with Redis, so duplicate sends stay suppressed
// across process restarts.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/compliance/deadline-engine/internal/config"
	"github.com/compliance/deadline-engine/internal/domain"
)

// Client wraps a go-redis client with engine key conventions
type Client struct {
	rdb *redis.Client
}

func Connect(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error { return c.rdb.Close() }

// AttemptKeys implements the dispatch dedup store. Claim is a SETNX with
// TTL: the first claimant wins, duplicates within the TTL are rejected.
type AttemptKeys struct {
	client *Client
}

func NewAttemptKeys(client *Client) *AttemptKeys {
	return &AttemptKeys{client: client}
}

func (a *AttemptKeys) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := a.client.rdb.SetNX(ctx, "attempt:"+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim attempt key: %w", err)
	}
	return ok, nil
}

// AssessmentCache keeps the current assessment per deadline hot for the
// dashboard read path. The database remains the source of truth; cache
// misses and errors fall through to it.
type AssessmentCache struct {
	client *Client
	ttl    time.Duration
}

func NewAssessmentCache(client *Client, ttl time.Duration) *AssessmentCache {
	return &AssessmentCache{client: client, ttl: ttl}
}

func assessmentKey(deadlineID uuid.UUID) string {
	return "assessment:current:" + deadlineID.String()
}

// Get returns the cached current assessment, or nil on a miss
func (c *AssessmentCache) Get(ctx context.Context, deadlineID uuid.UUID) (*domain.RiskAssessment, error) {
	raw, err := c.client.rdb.Get(ctx, assessmentKey(deadlineID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read assessment cache: %w", err)
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode cached assessment: %w", err)
	}
	return &a, nil
}

func (c *AssessmentCache) Put(ctx context.Context, a *domain.RiskAssessment) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	if err := c.client.rdb.Set(ctx, assessmentKey(a.DeadlineID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write assessment cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached assessment after a new one is computed
func (c *AssessmentCache) Invalidate(ctx context.Context, deadlineID uuid.UUID) error {
	return c.client.rdb.Del(ctx, assessmentKey(deadlineID)).Err()
}
