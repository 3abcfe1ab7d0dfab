package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_chat_requests_total",
			Help: "Total number of processed chat requests by intent and outcome.",
		},
		[]string{"intent", "status"},
	)
	chatRequestDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_chat_request_duration_ms",
			Help:    "End-to-end chat request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
		},
	)
	queryDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_duration_ms",
			Help:    "SQL execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbchat_query_rows_returned",
			Help:    "Row counts returned by executed queries.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
	resultsTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_results_truncated_total",
			Help: "Total number of query results truncated at the row cap.",
		},
	)
	writeRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_write_rejected_total",
			Help: "Total number of rejected write-shaped requests.",
		},
	)
	executorRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_executor_retries_total",
			Help: "Total number of transient execution retries.",
		},
	)
	catalogRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_catalog_refresh_total",
			Help: "Total number of schema catalog refresh attempts by outcome.",
		},
		[]string{"status"},
	)
	catalogSchemaChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_catalog_schema_changes_total",
			Help: "Total number of refreshes that observed a changed schema fingerprint.",
		},
	)
	catalogTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbchat_catalog_tables",
			Help: "Number of tables in the current schema snapshot.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbchat_sessions_active",
			Help: "Number of live conversation sessions.",
		},
	)
	sessionsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_sessions_evicted_total",
			Help: "Total number of sessions evicted after the idle timeout.",
		},
	)
	auditEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_audit_events_total",
			Help: "Total number of audit events recorded by status.",
		},
		[]string{"status"},
	)
	auditArchiveBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbchat_audit_archive_batches_total",
			Help: "Total number of audit archive cycles by outcome.",
		},
		[]string{"status"},
	)
	auditArchivedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dbchat_audit_archived_events_total",
			Help: "Total number of audit events shipped to object storage.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		chatRequestsTotal,
		chatRequestDurationMs,
		queryDurationMs,
		queryRowsReturned,
		resultsTruncatedTotal,
		writeRejectedTotal,
		executorRetriesTotal,
		catalogRefreshTotal,
		catalogSchemaChangesTotal,
		catalogTables,
		sessionsActive,
		sessionsEvictedTotal,
		auditEventsTotal,
		auditArchiveBatchesTotal,
		auditArchivedEventsTotal,
	)
}

func ObserveChatRequest(intent, status string, elapsed time.Duration) {
	chatRequestsTotal.WithLabelValues(intent, status).Inc()
	chatRequestDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(elapsed time.Duration, rows int, truncated bool) {
	queryDurationMs.Observe(float64(elapsed.Milliseconds()))
	if rows < 0 {
		rows = 0
	}
	queryRowsReturned.Observe(float64(rows))
	if truncated {
		resultsTruncatedTotal.Inc()
	}
}

func IncrementWriteRejected() {
	writeRejectedTotal.Inc()
}

func IncrementExecutorRetry() {
	executorRetriesTotal.Inc()
}

func ObserveCatalogRefresh(status string, tables int, changed bool) {
	catalogRefreshTotal.WithLabelValues(status).Inc()
	if tables >= 0 {
		catalogTables.Set(float64(tables))
	}
	if changed {
		catalogSchemaChangesTotal.Inc()
	}
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	sessionsActive.Set(float64(count))
}

func AddEvictedSessions(count int) {
	if count > 0 {
		sessionsEvictedTotal.Add(float64(count))
	}
}

func IncrementAuditEvent(status string) {
	auditEventsTotal.WithLabelValues(status).Inc()
}

func ObserveAuditArchiveBatch(status string, events int) {
	auditArchiveBatchesTotal.WithLabelValues(status).Inc()
	if events > 0 {
		auditArchivedEventsTotal.Add(float64(events))
	}
}
