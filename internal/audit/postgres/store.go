// Package postgres stores audit events in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/dbchat/dbchat/internal/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// auditColumns lists columns returned by audit SELECT queries.
var auditColumns = []string{
	"id", "session_id", "trace_id", "intent", "tables", "sql_text",
	"row_count", "truncated", "status", "error_code", "duration_ms",
	"created_at", "archived_at",
}

// Store persists audit events in the audit_events table.
type Store struct {
	db            *sql.DB
	retentionDays int
	logger        *slog.Logger
	cancel        context.CancelFunc
	done          chan struct{}
}

// Options configures the PostgreSQL audit store.
type Options struct {
	// RetentionDays bounds how long events are kept before Cleanup
	// deletes them. Defaults to 90.
	RetentionDays int
	Logger        *slog.Logger
}

// New creates a PostgreSQL audit store on top of an open database handle.
func New(db *sql.DB, opts Options) *Store {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		db:            db,
		retentionDays: opts.RetentionDays,
		logger:        opts.Logger,
	}
}

// Record inserts one audit event. A missing event ID is assigned here so
// callers never have to mint their own.
func (s *Store) Record(ctx context.Context, event audit.Event) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	tables, err := json.Marshal(event.Tables)
	if err != nil {
		tables = []byte("[]")
	}

	query := `
		INSERT INTO audit_events
		(id, session_id, trace_id, intent, tables, sql_text, row_count, truncated, status, error_code, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.SessionID,
		event.TraceID,
		event.Intent,
		tables,
		event.SQL,
		event.RowCount,
		event.Truncated,
		event.Status,
		event.ErrorCode,
		event.DurationMS,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.SessionID != "" {
		qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
	}
	if filter.Status != "" {
		qb = qb.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Since != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": *filter.Since})
	}
	if filter.Until != nil {
		qb = qb.Where(sq.LtOrEq{"created_at": *filter.Until})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyFilter(psq.Select(auditColumns...).From("audit_events"), filter)
	qb = qb.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}
	return s.executeQuery(ctx, query, args, filter.Limit)
}

// Count returns the number of audit events matching the filter.
func (s *Store) Count(ctx context.Context, filter audit.QueryFilter) (int, error) {
	qb := applyFilter(psq.Select("COUNT(*)").From("audit_events"), filter)

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting audit events: %w", err)
	}
	return count, nil
}

// ListUnarchived returns up to limit events that have not yet been copied to
// the archive, oldest first so the archive fills in chronological order.
func (s *Store) ListUnarchived(ctx context.Context, limit int) ([]audit.Event, error) {
	qb := psq.Select(auditColumns...).From("audit_events").
		Where(sq.Eq{"archived_at": nil}).
		OrderBy("created_at ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building unarchived query: %w", err)
	}
	return s.executeQuery(ctx, query, args, limit)
}

// MarkArchived stamps the given events with the time they were archived.
func (s *Store) MarkArchived(ctx context.Context, ids []string, archivedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := psq.Update("audit_events").
		Set("archived_at", archivedAt).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building archive update: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking events archived: %w", err)
	}
	return nil
}

func (s *Store) executeQuery(ctx context.Context, query string, args []any, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if limit > 0 && limit <= maxQueryCapacity {
		allocCap = limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit event rows: %w", err)
	}
	return events, nil
}

func (*Store) scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var tables []byte
	var archivedAt sql.NullTime

	err := rows.Scan(
		&event.EventID,
		&event.SessionID,
		&event.TraceID,
		&event.Intent,
		&tables,
		&event.SQL,
		&event.RowCount,
		&event.Truncated,
		&event.Status,
		&event.ErrorCode,
		&event.DurationMS,
		&event.CreatedAt,
		&archivedAt,
	)
	if err != nil {
		return event, fmt.Errorf("scanning audit event row: %w", err)
	}

	if len(tables) > 0 {
		_ = json.Unmarshal(tables, &event.Tables)
	}
	if archivedAt.Valid {
		event.ArchivedAt = &archivedAt.Time
	}
	return event, nil
}

// Cleanup removes audit events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	query := `DELETE FROM audit_events WHERE created_at < $1`
	if _, err := s.db.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("cleaning up audit events: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// events past retention. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Cleanup(ctx); err != nil {
					s.logger.WarnContext(ctx, "audit cleanup failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

var _ audit.Recorder = (*Store)(nil)
var _ audit.Reader = (*Store)(nil)
