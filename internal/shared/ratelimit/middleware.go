package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// KeyFunc 从请求中提取限流身份
type KeyFunc func(r *http.Request) string

// ClientIP 取 X-Forwarded-For 第一跳，否则 RemoteAddr
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware 对 next 施加限流
//
// policy 用于区分不同接口的计数器（如 "sign-in"、"upload-auth"）。
// 限流器本身故障时放行请求并记录日志。
func (l *Limiter) Middleware(policy string, keyFn KeyFunc, next http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ClientIP
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := policy + ":" + keyFn(r)
		res, err := l.Allow(r.Context(), identity)
		if err != nil {
			l.logger.WithContext(r.Context()).WithError(err).Warn("Rate limiter unavailable, allowing request",
				"policy", policy)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if !res.Allowed {
			retryAfter := res.RetryAfter(l.now())
			rejections.WithLabelValues(policy).Inc()
			h.Set("Retry-After", strconv.Itoa(retryAfter))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]any{
				"error":       "too many requests",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
