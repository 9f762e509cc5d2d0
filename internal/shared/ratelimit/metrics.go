package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// rejections 被限流拒绝的请求数
var rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "bookwise",
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected by the fixed-window rate limiter",
	},
	[]string{"policy"},
)
