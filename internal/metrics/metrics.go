package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupulse_sync_sessions_total",
			Help: "Sync sessions by final status",
		},
		[]string{"status", "forced"},
	)
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edupulse_sync_session_duration_seconds",
			Help:    "Wall time of a sync session",
			Buckets: prometheus.DefBuckets,
		},
	)
	RecordOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupulse_sync_record_outcomes_total",
			Help: "Per-record sync outcomes",
		},
		[]string{"entity_type", "status"},
	)
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupulse_sync_conflicts_total",
			Help: "Conflict records written, by resolution",
		},
		[]string{"entity_type", "resolution"},
	)
	LedgerReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edupulse_sync_ledger_replays_total",
			Help: "Changes answered from the idempotency ledger",
		},
	)
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edupulse_sync_lock_contention_total",
			Help: "Entity lock acquisitions that timed out",
		},
	)
	CollaboratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edupulse_sync_collaborator_errors_total",
			Help: "Failed calls to external collaborators",
		},
		[]string{"collaborator"},
	)
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edupulse_sync_websocket_connections",
			Help: "Open websocket connections",
		},
	)
)

func ObserveSession(status string, forced bool, started time.Time) {
	f := "false"
	if forced {
		f = "true"
	}
	SessionsTotal.WithLabelValues(status, f).Inc()
	SessionDuration.Observe(time.Since(started).Seconds())
}
