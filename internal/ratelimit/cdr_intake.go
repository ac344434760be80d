package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/voxbill/internal/config"
)

const keyCDRIntakeAccount = "cdr:intake:account:%s"

// CDRIntakeLimiter throttles CDR submissions per account. Disabled limiters
// allow everything, so the pipeline works without redis.
type CDRIntakeLimiter struct {
	enabled bool
	bucket  *TokenBucket
	rate    float64
	burst   int
}

func NewCDRIntakeLimiter(cfg config.Config) (*CDRIntakeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("rate limit requires REDIS_ADDR")
	}
	if limitCfg.CDRIntakeRate <= 0 || limitCfg.CDRIntakeBurst <= 0 {
		return nil, fmt.Errorf("cdr intake rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})

	return &CDRIntakeLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.CDRIntakeRate,
		burst:   limitCfg.CDRIntakeBurst,
	}, nil
}

func (l *CDRIntakeLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowAccount takes one intake token for the account. Redis errors fail
// open; losing the limiter must not take billing down with it.
func (l *CDRIntakeLimiter) AllowAccount(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyCDRIntakeAccount, strings.TrimSpace(accountID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}
