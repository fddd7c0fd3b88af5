package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProposeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetingrooms",
		Subsystem: "schedule",
		Name:      "propose_count",
	}, []string{"outcome"})
	ConflictCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meetingrooms",
		Subsystem: "schedule",
		Name:      "conflict_count",
	})
	LockTimeoutCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meetingrooms",
		Subsystem: "schedule",
		Name:      "lock_timeout_count",
	})
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meetingrooms",
		Subsystem: "schedule",
		Name:      "op_duration",
	}, []string{"method"})
	PgErrCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetingrooms",
		Subsystem: "pg",
		Name:      "pg_err_count",
	}, []string{"method"})
	PgDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "meetingrooms",
		Subsystem: "pg",
		Name:      "pg_duration",
	}, []string{"method"})
)
