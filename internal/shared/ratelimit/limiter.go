// Package ratelimit 基于 Redis 的固定窗口限流
//
// 每个身份在每个窗口内一个计数器：{prefix}:{identity}:{windowIndex}。
// 窗口边界按 Unix 时间对齐，计数器在窗口结束后自动过期。
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"bookwise/pkg/logging"
)

// Result 一次限流判定结果
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time // 当前窗口结束时间
}

// RetryAfter 距离窗口重置的秒数（至少 1 秒）
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.Reset.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter 固定窗口限流器
type Limiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
	logger *logging.Logger
}

// Option 限流器选项
type Option func(*Limiter)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger 设置日志器
func WithLogger(logger *logging.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New 创建限流器，默认 5 次 / 60 秒
func New(rdb redis.Cmdable, limit int, window time.Duration, prefix string, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	// 窗口按毫秒编号
	window = max(window, time.Millisecond)
	if prefix == "" {
		prefix = "bookwise:ratelimit"
	}
	l := &Limiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: prefix,
		now:    time.Now,
		logger: logging.Default("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit 窗口内允许的请求数
func (l *Limiter) Limit() int {
	return l.limit
}

// key 当前窗口的计数器键
func (l *Limiter) key(identity string, windowIndex int64) string {
	return l.prefix + ":" + identity + ":" + strconv.FormatInt(windowIndex, 10)
}

// Allow 对 identity 计数一次并判定是否放行
func (l *Limiter) Allow(ctx context.Context, identity string) (Result, error) {
	now := l.now()
	windowMs := l.window.Milliseconds()
	idx := now.UnixMilli() / windowMs
	reset := time.UnixMilli((idx + 1) * windowMs)
	key := l.key(identity, idx)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	// 过期时间略长于窗口，避免时钟误差导致提前删除
	pipe.PExpire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", identity, err)
	}

	count := int(incr.Val())
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}
