package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookwise/pkg/logging"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// 窗口内第 40 秒，距重置 20 秒
	clock := &fakeClock{now: time.Unix(1_700_000_080, 0)}
	l := New(rdb, 5, time.Minute, "test:rl", WithClock(clock.Now), WithLogger(logging.Discard()))
	return l, mr, clock
}

func TestAllowFixedWindow(t *testing.T) {
	l, mr, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 5-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	// 其他身份不受影响
	other, err := l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	// 窗口翻转后重新放行
	clock.Advance(time.Minute)
	mr.FastForward(time.Minute)
	res, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
}

func TestAllowSetsExpiry(t *testing.T) {
	l, mr, clock := newTestLimiter(t)
	_, err := l.Allow(context.Background(), "id")
	require.NoError(t, err)

	idx := clock.Now().UnixMilli() / time.Minute.Milliseconds()
	key := l.key("id", idx)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute+time.Second, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(key))
}

func TestResetIsWindowEnd(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	res, err := l.Allow(context.Background(), "id")
	require.NoError(t, err)

	windowMs := time.Minute.Milliseconds()
	wantReset := time.UnixMilli((clock.Now().UnixMilli()/windowMs + 1) * windowMs)
	assert.True(t, wantReset.Equal(res.Reset))
	assert.Equal(t, 20, res.RetryAfter(clock.Now()))
}

func TestMiddleware(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	var hits int
	h := l.Middleware("upload-auth", nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/upload-auth", nil)
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 5; i++ {
		rec := do()
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too many requests", body["error"])
	assert.EqualValues(t, 20, body["retry_after"])
	assert.Equal(t, 5, hits)
}

func TestMiddlewareFailsOpen(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	mr.Close()

	h := l.Middleware("sign-in", nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/sign-in", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		realIP string
		remote string
		want   string
	}{
		{"forwarded first hop", "203.0.113.7, 10.0.0.1", "", "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", "", "198.51.100.1", "10.0.0.2:1234", "198.51.100.1"},
		{"remote addr", "", "", "192.0.2.10:5555", "192.0.2.10"},
		{"remote without port", "", "", "192.0.2.10", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestSubMillisecondWindowClamped(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.UnixMilli(1_700_000_000_123)
	l := New(rdb, 1, 500*time.Microsecond, "test:rl",
		WithClock(func() time.Time { return now }), WithLogger(logging.Discard()))

	res, err := l.Allow(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, now.Add(time.Millisecond), res.Reset)

	res, err = l.Allow(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
