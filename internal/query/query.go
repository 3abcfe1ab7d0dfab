// Package query executes planned SQL against the live database under
// read-only, row-cap, and timeout guards.
package query

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbchat/dbchat/internal/observability"
)

var (
	// ErrWriteNotPermitted reports a statement that is not provably read-only.
	ErrWriteNotPermitted = errors.New("statement is not read-only")
	// ErrPoolExhausted reports that no connection became free within the
	// acquire budget.
	ErrPoolExhausted = errors.New("no database connection available")
	// ErrQueryTimeout reports a query that exceeded its time budget.
	ErrQueryTimeout = errors.New("query exceeded its time budget")
)

// ExecutionError wraps a query failure and records whether retrying the same
// statement could plausibly succeed.
type ExecutionError struct {
	Transient bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Transient {
		return fmt.Sprintf("transient query failure: %v", e.Err)
	}
	return fmt.Sprintf("query failure: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is an execution failure worth retrying.
func IsTransient(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr) && execErr.Transient
}

// IsSchemaDrift reports whether err indicates the statement referenced a
// table or column the database no longer has, which usually means the cached
// schema snapshot went stale after a DDL change.
func IsSchemaDrift(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01" || pgErr.Code == "42703"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

// Request carries one parameterized statement. Args hold every user-supplied
// value; the SQL text itself never embeds them.
type Request struct {
	SQL  string
	Args []any
}

// Result is a fully materialized result set. Rows holds at most the executor
// row cap; Truncated reports that the database had more.
type Result struct {
	Columns   []string
	Rows      [][]any
	RowCount  int
	Truncated bool
	Duration  time.Duration
}

// RowMaps returns the rows keyed by column name, in result order.
func (r Result) RowMaps() []map[string]any {
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		entry := make(map[string]any, len(r.Columns))
		for i, column := range r.Columns {
			if i < len(row) {
				entry[column] = row[i]
			}
		}
		out = append(out, entry)
	}
	return out
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

const (
	defaultMaxRows        = 100
	defaultQueryTimeout   = 5 * time.Second
	defaultAcquireTimeout = 2 * time.Second
)

// SQLExecutor runs statements on a database/sql pool. It rejects anything
// that is not read-only, caps result rows, and retries once on a connection
// that died between checkout and use.
type SQLExecutor struct {
	db             *sql.DB
	maxRows        int
	queryTimeout   time.Duration
	acquireTimeout time.Duration
	logger         *slog.Logger
}

type Options struct {
	MaxRows        int
	QueryTimeout   time.Duration
	AcquireTimeout time.Duration
	Logger         *slog.Logger
}

var _ Executor = (*SQLExecutor)(nil)

func New(db *sql.DB, opts Options) *SQLExecutor {
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaultMaxRows
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLExecutor{
		db:             db,
		maxRows:        opts.MaxRows,
		queryTimeout:   opts.QueryTimeout,
		acquireTimeout: opts.AcquireTimeout,
		logger:         opts.Logger,
	}
}

// MaxRows returns the row cap applied to every result set.
func (e *SQLExecutor) MaxRows() int { return e.maxRows }

func (e *SQLExecutor) Execute(ctx context.Context, request Request) (Result, error) {
	if e.db == nil {
		return Result{}, &ExecutionError{Err: errors.New("database handle is required")}
	}
	sqlText := strings.TrimSpace(request.SQL)
	if sqlText == "" {
		return Result{}, &ExecutionError{Err: errors.New("sql is required")}
	}
	if err := checkReadOnly(sqlText); err != nil {
		observability.IncrementWriteRejected()
		return Result{}, err
	}

	start := time.Now()
	result, err := e.runOnce(ctx, sqlText, request.Args)
	if err != nil && isBrokenConn(err) && ctx.Err() == nil {
		observability.IncrementExecutorRetry()
		e.logger.WarnContext(ctx, "retrying query on a fresh connection", slog.Any("error", err))
		result, err = e.runOnce(ctx, sqlText, request.Args)
	}
	if err != nil {
		return Result{}, classify(err)
	}

	result.Duration = time.Since(start)
	observability.ObserveQueryExecution(result.Duration, result.RowCount, result.Truncated)
	return result, nil
}

// runOnce checks out a single connection so the retry path is guaranteed a
// different one.
func (e *SQLExecutor) runOnce(ctx context.Context, sqlText string, args []any) (Result, error) {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, e.acquireTimeout)
	defer cancelAcquire()

	conn, err := e.db.Conn(acquireCtx)
	if err != nil {
		if acquireCtx.Err() != nil && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w after %s", ErrPoolExhausted, e.acquireTimeout)
		}
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	queryCtx, cancelQuery := context.WithTimeout(ctx, e.queryTimeout)
	defer cancelQuery()

	rows, err := conn.QueryContext(queryCtx, sqlText, args...)
	if err != nil {
		if queryCtx.Err() != nil && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w after %s", ErrQueryTimeout, e.queryTimeout)
		}
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		// One row past the cap is enough to know the set was cut short.
		if len(resultRows) == e.maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		if queryCtx.Err() != nil && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w after %s", ErrQueryTimeout, e.queryTimeout)
		}
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return Result{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrPoolExhausted), errors.Is(err, ErrQueryTimeout), isBrokenConn(err):
		return &ExecutionError{Transient: true, Err: err}
	default:
		return &ExecutionError{Err: err}
	}
}

func isBrokenConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// readOnlyVerbs lists the only statement keywords the executor accepts.
// Anything else, including keywords it has never seen, is rejected.
var readOnlyVerbs = map[string]struct{}{
	"select":   {},
	"with":     {},
	"explain":  {},
	"show":     {},
	"describe": {},
}

func checkReadOnly(sqlText string) error {
	verb := leadingVerb(sqlText)
	if verb == "" {
		return fmt.Errorf("%w: statement has no leading keyword", ErrWriteNotPermitted)
	}
	if _, ok := readOnlyVerbs[verb]; !ok {
		return fmt.Errorf("%w: statement begins with %q", ErrWriteNotPermitted, verb)
	}
	return nil
}

// leadingVerb returns the first keyword of the statement, skipping line and
// block comments so a commented prefix cannot hide a write.
func leadingVerb(sqlText string) string {
	rest := strings.TrimSpace(sqlText)
	for {
		switch {
		case strings.HasPrefix(rest, "--"):
			newline := strings.Index(rest, "\n")
			if newline < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[newline+1:])
		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest, "*/")
			if end < 0 {
				return ""
			}
			rest = strings.TrimSpace(rest[end+2:])
		default:
			fields := strings.Fields(rest)
			if len(fields) == 0 {
				return ""
			}
			return strings.ToLower(strings.TrimLeft(fields[0], "("))
		}
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
