package middleware

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every replica.
type RedisLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, limit: limit, window: window}
}

// incrWindow counts a hit and sets the window expiry whenever the key has
// none, so a counter can never outlive its window.
var incrWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := "rate:" + key
	count, err := incrWindow.Run(ctx, l.rdb, []string{redisKey}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return count <= int64(l.limit), nil
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	entries map[string]*localEntry
	lastGC  time.Time
}

// NewLocalLimiter allows perMinute requests per key with an equal burst.
func NewLocalLimiter(perMinute int) *LocalLimiter {
	return &LocalLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		ttl:     15 * time.Minute,
		entries: make(map[string]*localEntry),
		lastGC:  time.Now(),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastGC) >= l.ttl {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.ttl {
				delete(l.entries, k)
			}
		}
		l.lastGC = now
	}

	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow(), nil
}

// RateLimiter rejects callers over the limit with 429. A limiter backend
// error lets the request through.
func RateLimiter(l Limiter, onLimited func(route string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + ":" + c.Request.Method + ":" + c.FullPath()

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Printf("[warn] request_id=%s operation=rate_limit error=%v", GetRequestID(c.Request.Context()), err)
			c.Next()
			return
		}
		if !allowed {
			if onLimited != nil {
				onLimited(c.FullPath())
			}
			c.Header("X-Error-Class", "rate_limited")
			c.String(http.StatusTooManyRequests, "Too many requests.")
			c.Abort()
			return
		}
		c.Next()
	}
}
