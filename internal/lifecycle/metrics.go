package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookwise",
			Name:      "lifecycle_steps_total",
			Help:      "Lifecycle workflow steps executed by step and result",
		},
		[]string{"step", "result"},
	)
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookwise",
			Name:      "notifications_sent_total",
			Help:      "Lifecycle emails handed to the dispatcher by template",
		},
		[]string{"template"},
	)
)
