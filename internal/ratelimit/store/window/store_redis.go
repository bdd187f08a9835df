package window

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vaultgate/internal/policy"
	"vaultgate/internal/ratelimit/models"
	dErrors "vaultgate/pkg/domain-errors"
)

const (
	redisWindowPrefix = "vaultgate:win:"
	redisBlockPrefix  = "vaultgate:block:"
)

// RedisStore keeps sliding windows in Redis sorted sets and blocks as keys
// with TTLs, so limiter state is shared when the gateway runs more than one
// process. The decision algorithm matches InMemoryStore exactly.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// CheckAndRecord runs the sliding-window algorithm against Redis.
func (s *RedisStore) CheckAndRecord(ctx context.Context, key string, cfg policy.RateLimitConfig, now time.Time) (*models.Decision, error) {
	blockKey := redisBlockPrefix + key
	windowKey := redisWindowPrefix + key

	// Active block rejects before anything is counted. Expiry is handled
	// by the key TTL, so there is nothing to clear explicitly.
	ttl, err := s.client.PTTL(ctx, blockKey).Result()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "check block state")
	}
	if ttl > 0 {
		reason, _ := s.client.Get(ctx, blockKey).Result()
		return &models.Decision{
			Admitted:   false,
			Blocked:    true,
			RetryAfter: ttl,
			Limit:      cfg.MaxRequests,
			Reason:     reason,
		}, nil
	}

	// Prune aged entries and count the remaining window in one round trip.
	cutoff := strconv.FormatInt(now.Add(-cfg.Window).UnixNano(), 10)
	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", cutoff)
	card := pipe.ZCard(ctx, windowKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "prune window")
	}

	count := int(card.Val())
	if count >= cfg.MaxRequests {
		// The violating request is not recorded; it only sets the block.
		if err := s.client.Set(ctx, blockKey, models.ReasonBlocked, cfg.BlockDuration).Err(); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "set block state")
		}
		return &models.Decision{
			Admitted:     false,
			Blocked:      true,
			RetryAfter:   cfg.BlockDuration,
			CurrentCount: count,
			Limit:        cfg.MaxRequests,
			Reason:       models.ReasonRateLimitExceeded,
		}, nil
	}

	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	pipe.Expire(ctx, windowKey, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "record request")
	}

	return &models.Decision{
		Admitted:     true,
		CurrentCount: count + 1,
		Limit:        cfg.MaxRequests,
	}, nil
}

// Reset clears window and block state for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisWindowPrefix+key, redisBlockPrefix+key).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "reset limiter key")
	}
	return nil
}

// CurrentCount returns the live request count for a key.
func (s *RedisStore) CurrentCount(ctx context.Context, key string, window time.Duration, now time.Time) (int, error) {
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	n, err := s.client.ZCount(ctx, redisWindowPrefix+key, cutoff, "+inf").Result()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "count window")
	}
	return int(n), nil
}
