package borrowing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	borrowAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookwise",
			Name:      "borrow_attempts_total",
			Help:      "Borrow attempts by result",
		},
		[]string{"result"},
	)
	loansReturned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookwise",
			Name:      "loans_returned_total",
			Help:      "Loans returned",
		},
	)
	returnsWithoutCopy = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bookwise",
			Name:      "returns_without_copy_total",
			Help:      "Returned loans whose book copy could not be restored",
		},
	)
)
