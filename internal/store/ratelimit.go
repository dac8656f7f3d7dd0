package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter counts attempts per scope and subject.
type RateLimiter interface {
	// Consume records one attempt. When allowed is false, retryAfterSeconds
	// tells the caller when to try again.
	Consume(ctx context.Context, scope, subject string) (allowed bool, retryAfterSeconds int, err error)
}

// loginWindowScript counts one attempt in a fixed window and decides in a
// single round trip. It returns {allowed, remaining window in ms}.
var loginWindowScript = redis.NewScript(`
local attempts = redis.call("INCR", KEYS[1])
if attempts == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if attempts <= tonumber(ARGV[2]) then
  return {1, 0}
end
local remaining = redis.call("PTTL", KEYS[1])
if remaining < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  remaining = tonumber(ARGV[1])
end
return {0, remaining}
`)

// RedisRateLimiter is a fixed-window limiter shared by every replica.
type RedisRateLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	windowMs int64
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	windowMs := window.Milliseconds()
	if window > 0 && windowMs < 1000 {
		windowMs = 1000
	}
	return &RedisRateLimiter{
		client:   client,
		prefix:   normalizePrefix(prefix) + ":rate_limit",
		limit:    limit,
		windowMs: windowMs,
	}
}

// Consume fails open: on any redis error the attempt is allowed and the error
// is returned for logging.
func (r *RedisRateLimiter) Consume(ctx context.Context, scope, subject string) (bool, int, error) {
	key, ok := r.key(scope, subject)
	if !ok {
		return true, 0, nil
	}

	reply, err := loginWindowScript.Run(ctx, r.client, []string{key}, r.windowMs, r.limit).Int64Slice()
	if err != nil {
		return true, 0, err
	}
	if len(reply) != 2 {
		return true, 0, fmt.Errorf("rate limit script returned %d values", len(reply))
	}
	if reply[0] == 1 {
		return true, 0, nil
	}
	return false, ceilSeconds(time.Duration(reply[1]) * time.Millisecond), nil
}

// key returns false when limiting is off or the request has nothing to key on.
func (r *RedisRateLimiter) key(scope, subject string) (string, bool) {
	if r == nil || r.client == nil || r.limit <= 0 || r.windowMs <= 0 {
		return "", false
	}
	scope = strings.TrimSpace(scope)
	subject = strings.ToLower(strings.TrimSpace(subject))
	if scope == "" || subject == "" {
		return "", false
	}
	return r.prefix + ":" + scope + ":" + subject, true
}

// ceilSeconds rounds d up to whole seconds, never below one.
func ceilSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// MemoryRateLimiter keeps one token bucket per scope and subject in process.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     int
	window    time.Duration
	lastPrune time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (m *MemoryRateLimiter) Consume(_ context.Context, scope, subject string) (bool, int, error) {
	if m.limit <= 0 || m.window <= 0 {
		return true, 0, nil
	}
	key := strings.TrimSpace(scope) + ":" + strings.ToLower(strings.TrimSpace(subject))

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPrune) > m.window {
		for k, b := range m.buckets {
			if now.Sub(b.lastSeen) > m.window {
				delete(m.buckets, k)
			}
		}
		m.lastPrune = now
	}

	b, ok := m.buckets[key]
	if !ok {
		every := m.window / time.Duration(m.limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), m.limit)}
		m.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0, nil
	}

	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, ceilSeconds(delay), nil
}
