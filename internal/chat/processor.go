// Package chat turns natural-language utterances into answered database
// queries. The processor walks each request through parsing, planning,
// guarded execution, and formatting, keeping per-session conversation
// context along the way.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dbchat/dbchat/internal/audit"
	"github.com/dbchat/dbchat/internal/catalog"
	"github.com/dbchat/dbchat/internal/intent"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/sqlgen"
)

const (
	// CodeSchemaUnavailable reports that no schema snapshot could be
	// produced; the request is worth retrying.
	CodeSchemaUnavailable = "SCHEMA_UNAVAILABLE"
	// CodeTryAgain reports a transient execution failure that outlived the
	// processor's own retry.
	CodeTryAgain = "TRY_AGAIN"
	// CodeQueryFailed reports a request that failed for good.
	CodeQueryFailed = "QUERY_FAILED"
)

// Failure describes a chat request that produced no answer. The API layer
// maps Code to an HTTP status; Message is safe to show users.
type Failure struct {
	Code      string
	Message   string
	Retryable bool
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Health reports whether the processor's dependencies are usable.
type Health struct {
	Database bool `json:"database"`
	Chatbot  bool `json:"chatbot"`
}

// Pinger is the probe surface of a database handle.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	SchemaRetries      int
	SchemaRetryBackoff time.Duration
}

// Processor answers chat requests. All fields but Catalog, Parser, Builder,
// and Executor are optional.
type Processor struct {
	Catalog   *catalog.Catalog
	Parser    intent.Parser
	Builder   *sqlgen.Builder
	Executor  query.Executor
	Sessions  *SessionStore
	Audit     audit.Recorder
	Formatter Formatter
	DB        Pinger
	Config    Config
	Logger    *slog.Logger
	Clock     func() time.Time

	defaultsOnce sync.Once
}

func (p *Processor) ensureDefaults() {
	p.defaultsOnce.Do(func() {
		if p.Sessions == nil {
			p.Sessions = NewSessionStore()
		}
		if p.Audit == nil {
			p.Audit = audit.NopRecorder{}
		}
		if p.Logger == nil {
			p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		if p.Clock == nil {
			p.Clock = time.Now
		}
		if p.Config.SchemaRetries <= 0 {
			p.Config.SchemaRetries = 3
		}
		if p.Config.SchemaRetryBackoff <= 0 {
			p.Config.SchemaRetryBackoff = 200 * time.Millisecond
		}
	})
}

// Process answers one utterance for the given session. A blank sessionID
// starts a new session whose generated ID comes back on the Response.
// Requests on the same session run one at a time.
func (p *Processor) Process(ctx context.Context, sessionID, utterance string) (Response, error) {
	p.ensureDefaults()
	start := p.Clock()

	session := p.Sessions.Get(sessionID)
	session.mu.Lock()
	defer session.mu.Unlock()

	event := audit.Event{
		SessionID: session.ID,
		TraceID:   observability.TraceIDFromContext(ctx),
		CreatedAt: start,
	}

	snap, err := p.snapshotWithRetry(ctx)
	if err != nil {
		p.Logger.ErrorContext(ctx, "schema snapshot unavailable", slog.Any("error", err))
		return Response{}, p.fail(ctx, &event, start, &Failure{
			Code:      CodeSchemaUnavailable,
			Message:   "The database schema is temporarily unavailable. Please try again.",
			Retryable: true,
		})
	}

	parsed, err := p.Parser.Parse(ctx, utterance, snap, session.Context())
	if err != nil {
		p.Logger.ErrorContext(ctx, "intent parsing failed", slog.Any("error", err))
		return Response{}, p.fail(ctx, &event, start, &Failure{
			Code:    CodeQueryFailed,
			Message: "Something went wrong while reading your request. Please try again.",
		})
	}
	event.Intent = string(parsed.Kind)
	p.Logger.DebugContext(ctx, "parsed utterance",
		slog.String("utterance", utterance),
		slog.String("intent", string(parsed.Kind)),
		slog.String("table", parsed.Table))

	if parsed.Kind == intent.KindUnknown {
		status := audit.StatusResolutionError
		if parsed.Note != "" {
			status = audit.StatusRejected
			observability.IncrementWriteRejected()
			p.Logger.WarnContext(ctx, "refused write request", slog.String("session_id", session.ID))
		}
		resp := p.Formatter.Format(parsed, sqlgen.Plan{}, query.Result{})
		resp.SessionID = session.ID
		p.complete(ctx, &event, start, status)
		return resp, nil
	}

	plan, err := p.Builder.Build(parsed, snap)
	if err != nil {
		if sqlgen.IsResolutionError(err) {
			resp := p.Formatter.FormatResolutionError(err)
			resp.SessionID = session.ID
			p.complete(ctx, &event, start, audit.StatusResolutionError)
			return resp, nil
		}
		p.Logger.ErrorContext(ctx, "query planning failed", slog.Any("error", err))
		return Response{}, p.fail(ctx, &event, start, &Failure{
			Code:    CodeQueryFailed,
			Message: "I couldn't turn that request into a query. Please try rephrasing it.",
		})
	}
	event.SQL = plan.SQL
	event.Tables = plan.Tables

	result, err := p.Executor.Execute(ctx, query.Request{SQL: plan.SQL, Args: plan.Args})
	if err != nil && query.IsTransient(err) && ctx.Err() == nil {
		p.Logger.WarnContext(ctx, "retrying chat query after transient failure", slog.Any("error", err))
		result, err = p.Executor.Execute(ctx, query.Request{SQL: plan.SQL, Args: plan.Args})
	}
	if err != nil {
		if query.IsSchemaDrift(err) {
			// The plan came from a snapshot the database has moved past.
			p.Catalog.Invalidate()
		}
		if errors.Is(err, query.ErrWriteNotPermitted) {
			p.Logger.WarnContext(ctx, "executor refused statement", slog.String("session_id", session.ID))
			p.complete(ctx, &event, start, audit.StatusRejected)
			return Response{SessionID: session.ID, Answer: "I can only read data, so I can't run that request."}, nil
		}
		failure := executionFailure(err)
		p.Logger.ErrorContext(ctx, "query execution failed",
			slog.String("code", failure.Code),
			slog.Any("error", err))
		return Response{}, p.fail(ctx, &event, start, failure)
	}
	event.RowCount = result.RowCount
	event.Truncated = result.Truncated

	resp := p.Formatter.Format(parsed, plan, result)
	resp.SessionID = session.ID
	session.Remember(parsed.Table, parsed.Filters)
	p.complete(ctx, &event, start, audit.StatusOK)
	return resp, nil
}

// Health probes the database and the processing pipeline.
func (p *Processor) Health(ctx context.Context) Health {
	p.ensureDefaults()
	h := Health{Chatbot: p.Parser != nil && p.Builder != nil && p.Executor != nil}
	if p.DB != nil {
		h.Database = p.DB.PingContext(ctx) == nil
	}
	return h
}

func (p *Processor) snapshotWithRetry(ctx context.Context) (*catalog.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < p.Config.SchemaRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.Config.SchemaRetryBackoff):
			}
		}
		snap, err := p.Catalog.Snapshot(ctx)
		if err == nil {
			return snap, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func executionFailure(err error) *Failure {
	if query.IsTransient(err) {
		return &Failure{
			Code:      CodeTryAgain,
			Message:   "The database is busy right now. Please try again in a moment.",
			Retryable: true,
		}
	}
	return &Failure{
		Code:    CodeQueryFailed,
		Message: "I encountered an error while querying the database. Please try again.",
	}
}

func (p *Processor) fail(ctx context.Context, event *audit.Event, start time.Time, failure *Failure) *Failure {
	event.ErrorCode = failure.Code
	p.complete(ctx, event, start, audit.StatusFailed)
	return failure
}

// complete finalizes the audit record and metrics for one request.
func (p *Processor) complete(ctx context.Context, event *audit.Event, start time.Time, status string) {
	elapsed := p.Clock().Sub(start)
	event.Status = status
	event.DurationMS = elapsed.Milliseconds()

	kind := event.Intent
	if kind == "" {
		kind = string(intent.KindUnknown)
	}
	observability.ObserveChatRequest(kind, status, elapsed)
	observability.IncrementAuditEvent(status)

	if err := p.Audit.Record(ctx, *event); err != nil {
		p.Logger.WarnContext(ctx, "audit record failed", slog.Any("error", err))
	}
}
