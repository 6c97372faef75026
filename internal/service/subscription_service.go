package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegis-dev/aegis-api/internal/models"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
)

type subscriptionStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.Subscription, error)
}

// StatusCache holds cached subscription answers keyed by user.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedisStatusCache adapts a redis client to the StatusCache contract.
type RedisStatusCache struct {
	client *redis.Client
}

// NewRedisStatusCache wraps the provided client.
func NewRedisStatusCache(client *redis.Client) *RedisStatusCache {
	return &RedisStatusCache{client: client}
}

func (c *RedisStatusCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisStatusCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisStatusCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

const (
	cacheStatusActive   = "active"
	cacheStatusInactive = "inactive"
)

// SubscriptionService answers the subscription gate's one question: does
// this user currently hold an active subscription. Lookups go cache-aside
// through Redis; cache failures fall through to the store.
type SubscriptionService struct {
	store  subscriptionStore
	cache  StatusCache
	logger *zap.Logger
	ttl    time.Duration
}

// NewSubscriptionService constructs the service. cache may be nil.
func NewSubscriptionService(store subscriptionStore, cache StatusCache, logger *zap.Logger, ttl time.Duration) *SubscriptionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SubscriptionService{store: store, cache: cache, logger: logger, ttl: ttl}
}

// HasActiveSubscription reports whether the user may enter guarded exam
// routes. A store failure is returned as a check error, distinct from a
// plain "no subscription" answer.
func (s *SubscriptionService) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	key := cacheKey(userID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			return cached == cacheStatusActive, nil
		}
	}

	sub, err := s.store.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeCache(ctx, key, cacheStatusInactive)
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrSubscriptionCheck.Code, appErrors.ErrSubscriptionCheck.Status, "subscription lookup failed")
	}

	active := sub.Active
	if active && sub.CurrentPeriodEnd != nil && time.Now().UTC().After(*sub.CurrentPeriodEnd) {
		active = false
	}

	if active {
		s.writeCache(ctx, key, cacheStatusActive)
	} else {
		s.writeCache(ctx, key, cacheStatusInactive)
	}
	return active, nil
}

// Invalidate drops the cached status after a billing sync.
func (s *SubscriptionService) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		s.logger.Warn("failed to invalidate subscription cache", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *SubscriptionService) writeCache(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("failed to cache subscription status", zap.Error(err))
	}
}

func cacheKey(userID string) string {
	return "subscription:status:" + userID
}
