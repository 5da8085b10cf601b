package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// BackpressurePolicy is a per-actor token bucket.
type BackpressurePolicy struct {
	RPM   int
	Burst int
}

func (p BackpressurePolicy) perSecond() float64 {
	r := float64(p.RPM) / 60.0
	if r <= 0 {
		r = 1.0
	}
	return r
}

// RetryAfter is the wait for one token, in whole seconds.
func (p BackpressurePolicy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// LimiterStore decides whether actorID may spend cost tokens.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error)
}

// MemoryLimiterStore keeps one token bucket per actor in process.
type MemoryLimiterStore struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{buckets: make(map[string]*rate.Limiter)}
}

func (s *MemoryLimiterStore) Allow(_ context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	s.mu.Lock()
	b, ok := s.buckets[actorID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(policy.perSecond()), policy.Burst)
		s.buckets[actorID] = b
	}
	s.mu.Unlock()
	return b.AllowN(time.Now(), cost), nil
}

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "limiter:u1")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 1)

return {allowed, tostring(tokens)}
`)

// RedisLimiterStore shares token buckets between replicas.
type RedisLimiterStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiterStore creates a store backed by client.
func NewRedisLimiterStore(client redis.UniversalClient) *RedisLimiterStore {
	return &RedisLimiterStore{client: client, prefix: "logware:limiter:"}
}

// Allow executes the Lua script to check and update the token bucket.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy BackpressurePolicy, cost int) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{s.prefix + actorID},
		policy.perSecond(), policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter error: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("invalid response from lua script")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}
