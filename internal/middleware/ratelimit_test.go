package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubCounter struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiries map[string]time.Duration
	err      error
}

func newStubCounter() *stubCounter {
	return &stubCounter{counts: map[string]int64{}, expiries: map[string]time.Duration{}}
}

func (s *stubCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return redis.NewIntResult(0, s.err)
	}
	s.counts[key]++
	return redis.NewIntResult(s.counts[key], nil)
}

func (s *stubCounter) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiries[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func TestRedisRateLimiterWindow(t *testing.T) {
	counter := newStubCounter()
	rl := NewRedisRateLimiter(counter, "mark", 2, time.Minute)
	now := time.Unix(0, 0).UTC().Add(1000*time.Minute + 5*time.Second)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	got := make([]bool, 0, 3)
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "alice")
		if err != nil {
			t.Fatalf("Allow returned error: %v", err)
		}
		got = append(got, ok)
	}
	if !got[0] || !got[1] || got[2] {
		t.Fatalf("unexpected allow sequence %v", got)
	}

	if ok, _ := rl.Allow(ctx, "bob"); !ok {
		t.Fatalf("expected a different key to have its own budget")
	}

	if len(counter.expiries) != 2 {
		t.Fatalf("expected one expiry per window key, got %v", counter.expiries)
	}
	for key, ttl := range counter.expiries {
		if ttl != time.Minute {
			t.Fatalf("expected %s to expire after the window, got %s", key, ttl)
		}
	}

	now = now.Add(time.Minute)
	if ok, _ := rl.Allow(ctx, "alice"); !ok {
		t.Fatalf("expected the budget to reset in the next window")
	}
}

func TestRateLimitFailsOpenWhenStoreIsDown(t *testing.T) {
	counter := newStubCounter()
	counter.err = errors.New("connection refused")
	rl := NewRedisRateLimiter(counter, "mark", 1, time.Minute)

	h := RateLimit(rl, ByIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attendance/mark", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 while the store is down, got %d", i, rr.Code)
		}
	}
}
