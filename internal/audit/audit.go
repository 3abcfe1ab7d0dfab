// Package audit records the outcome of every chat and raw-query request so
// operators can review what was asked and what ran.
package audit

import (
	"context"
	"time"
)

const (
	// StatusOK marks a request that produced an answer.
	StatusOK = "ok"
	// StatusResolutionError marks a request answered with a clarification
	// instead of data, such as an unknown table name.
	StatusResolutionError = "resolution_error"
	// StatusRejected marks a refused request, such as a write attempt.
	StatusRejected = "rejected"
	// StatusFailed marks a request that errored out.
	StatusFailed = "failed"
)

// Event is one finished request. SQL holds the parameterized template only;
// bound values are never recorded.
type Event struct {
	EventID    string     `json:"event_id"`
	SessionID  string     `json:"session_id"`
	TraceID    string     `json:"trace_id,omitempty"`
	Intent     string     `json:"intent"`
	Tables     []string   `json:"tables,omitempty"`
	SQL        string     `json:"sql,omitempty"`
	RowCount   int        `json:"row_count"`
	Truncated  bool       `json:"truncated,omitempty"`
	Status     string     `json:"status"`
	ErrorCode  string     `json:"error_code,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	SessionID string
	Status    string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// Recorder accepts finished events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Reader retrieves recorded events.
type Reader interface {
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// NopRecorder drops every event. It stands in when auditing is disabled.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) Record(context.Context, Event) error { return nil }
