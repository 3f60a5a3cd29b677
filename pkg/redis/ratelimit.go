package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindow trims entries older than the window, then admits the request if the
// remaining count is below the limit.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window_ms)
		return {1, limit - count - 1}
	end
	return {0, 0}
`)

// RateLimiter implements sliding window rate limiting shared across processes
// ⭐ SSOT: 프로세스 간 레이트 리밋은 여기서만
type RateLimiter struct {
	client *Client
	prefix string
	cfg    RateLimitConfig
	seq    func() int64
}

// RateLimitConfig defines rate limit parameters
type RateLimitConfig struct {
	Key    string        // API identifier, e.g. "smard"
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window
}

// SMARDRateLimit keeps the whole fleet below a polite request rate against smard.de
var SMARDRateLimit = RateLimitConfig{
	Key:    "smard",
	Limit:  10,
	Window: time.Second,
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, prefix string, cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		prefix: prefix,
		cfg:    cfg,
		seq:    func() int64 { return time.Now().UnixNano() },
	}
}

// Allow checks if a request is allowed under the rate limit
// Returns (allowed, remaining, error)
func (r *RateLimiter) Allow(ctx context.Context) (bool, int, error) {
	if r.client == nil || !r.client.Enabled() {
		return true, r.cfg.Limit, nil
	}

	key := fmt.Sprintf("%s:ratelimit:%s", r.prefix, r.cfg.Key)
	now := time.Now().UnixMilli()
	windowStart := now - r.cfg.Window.Milliseconds()

	result, err := slidingWindow.Run(ctx, r.client.Redis(), []string{key},
		now,
		windowStart,
		r.cfg.Limit,
		r.cfg.Window.Milliseconds(),
		r.seq(),
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	remaining := int(result[1].(int64))

	return allowed, remaining, nil
}

// Wait blocks until a request is allowed or context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		allowed, _, err := r.Allow(ctx)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
