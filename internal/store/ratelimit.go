package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProviderRateLimiter is a Redis-backed token bucket shared across process
// instances, covering the cross-process per-provider case (§5): several
// engine replicas must agree on one marketplace's remaining quota, unlike
// the in-memory per-IP bucket in internal/api/ratelimit.go.
type ProviderRateLimiter struct {
	client *redis.Client
	rate   int // tokens added per refill window
	window time.Duration
	burst  int
}

func NewProviderRateLimiter(client *redis.Client, rate, burst int, window time.Duration) *ProviderRateLimiter {
	return &ProviderRateLimiter{client: client, rate: rate, burst: burst, window: window}
}

// luaRefillAndTake implements a refill-on-read token bucket atomically:
// tokens accrue linearly since last refill, capped at burst, then one is
// taken if available.
const luaRefillAndTake = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local window = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = burst
  ts = now
end

local elapsed = now - ts
if elapsed > 0 then
  local refill = (elapsed / window) * rate
  tokens = math.min(burst, tokens + refill)
  ts = now
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", ts)
redis.call("EXPIRE", key, math.ceil(window * 2))

return allowed
`

// Allow reports whether a call against the given provider tag may proceed
// right now, consuming a token if so.
func (l *ProviderRateLimiter) Allow(ctx context.Context, providerTag string) (bool, error) {
	key := "ratelimit:provider:" + providerTag
	now := float64(time.Now().UnixNano()) / 1e9
	windowSeconds := l.window.Seconds()

	result, err := l.client.Eval(ctx, luaRefillAndTake, []string{key}, now, l.rate, l.burst, windowSeconds).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: eval: %w", err)
	}
	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit: unexpected eval result type %T", result)
	}
	return allowed == 1, nil
}
