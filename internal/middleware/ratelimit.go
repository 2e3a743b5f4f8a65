package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type visitor struct {
	count    int
	lastSeen time.Time
}

// RateLimiter is a per-process fixed window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    int
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
	}

	// Cleanup goroutine
	go func() {
		for {
			time.Sleep(window)
			rl.mu.Lock()
			for key, v := range rl.visitors {
				if time.Since(v.lastSeen) > window {
					delete(rl.visitors, key)
				}
			}
			rl.mu.Unlock()
		}
	}()

	return rl
}

func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists || time.Since(v.lastSeen) > rl.window {
		rl.visitors[key] = &visitor{count: 1, lastSeen: time.Now()}
		return true, nil
	}

	v.count++
	v.lastSeen = time.Now()
	return v.count <= rl.limit, nil
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return RateLimit(rl, ByIP)(next)
}

// WindowCounter is the part of Redis the shared limiter uses. *redis.Client
// satisfies it.
type WindowCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter shares a fixed window across replicas.
type RedisRateLimiter struct {
	redis  WindowCounter
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisRateLimiter(redisClient WindowCounter, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redisClient, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Allow counts one hit against key in the current window. The window number
// is part of the Redis key, so a key whose expiry failed to set still stops
// counting once the window passes.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := rl.now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", rl.prefix, key, bucket)

	n, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, err
	}
	if n == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			log.Printf("rate limiter: failed to set expiry on %s: %v", redisKey, err)
		}
	}
	return n <= int64(rl.limit), nil
}

// RateLimit applies l to every request, keyed by keyFn. Limiter failures let
// the request through.
func RateLimit(l Limiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), keyFn(r))
			if err != nil {
				log.Printf("rate limiter unavailable: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ByIP(r *http.Request) string { return r.RemoteAddr }

// ByUser keys on the authenticated user; it must run after JWTAuth.Middleware.
func ByUser(r *http.Request) string { return GetUserID(r.Context()).String() }
