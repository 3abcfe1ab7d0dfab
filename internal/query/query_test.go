package query

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestExecuteReturnsRowsAndNormalizesBytes(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{})

	mock.ExpectQuery(`SELECT \* FROM "orders" WHERE "status" = \$1`).
		WithArgs("Shipped").
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).
			AddRow(int64(1), []byte("Shipped")).
			AddRow(int64(2), []byte("Shipped")))

	result, err := executor.Execute(context.Background(), Request{
		SQL:  `SELECT * FROM "orders" WHERE "status" = $1`,
		Args: []any{"Shipped"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !reflect.DeepEqual(result.Columns, []string{"id", "status"}) {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if result.RowCount != 2 || result.Truncated {
		t.Fatalf("RowCount = %d, Truncated = %v, want 2 rows untruncated", result.RowCount, result.Truncated)
	}
	if got := result.Rows[0][1]; got != "Shipped" {
		t.Fatalf("Rows[0][1] = %v (%T), want normalized string", got, got)
	}
	maps := result.RowMaps()
	if len(maps) != 2 || maps[1]["id"] != int64(2) {
		t.Fatalf("RowMaps() = %v", maps)
	}
	assertSQLMock(t, mock)
}

func TestExecuteCapsRowsAtLimit(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{MaxRows: 2})

	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(int64(1)).
			AddRow(int64(2)).
			AddRow(int64(3)))

	result, err := executor.Execute(context.Background(), Request{SQL: `SELECT * FROM "orders"`})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 2 || len(result.Rows) != 2 {
		t.Fatalf("RowCount = %d, len(Rows) = %d, want cap of 2", result.RowCount, len(result.Rows))
	}
	if !result.Truncated {
		t.Fatal("expected truncation to be reported when rows exceed the cap")
	}
	assertSQLMock(t, mock)
}

func TestExecuteRejectsWrites(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"delete", `DELETE FROM orders`},
		{"update", `update orders set status = 'x'`},
		{"insert", `INSERT INTO orders VALUES (1)`},
		{"drop", `DROP TABLE orders`},
		{"truncate", `TRUNCATE orders`},
		{"line comment hiding a drop", "-- just looking\nDROP TABLE orders"},
		{"block comment hiding an insert", `/* read */ INSERT INTO orders VALUES (1)`},
		{"comment only", `-- nothing here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newSQLMock(t)
			executor := New(db, Options{})

			_, err := executor.Execute(context.Background(), Request{SQL: tt.sql})
			if !errors.Is(err, ErrWriteNotPermitted) {
				t.Fatalf("Execute(%q) error = %v, want ErrWriteNotPermitted", tt.sql, err)
			}
			assertSQLMock(t, mock)
		})
	}
}

func TestCheckReadOnlyAllowsQueryVerbs(t *testing.T) {
	statements := []string{
		`SELECT 1`,
		`WITH t AS (SELECT 1) SELECT * FROM t`,
		`EXPLAIN SELECT * FROM orders`,
		`show server_version`,
		"-- newest first\nSELECT * FROM orders ORDER BY id DESC",
	}
	for _, stmt := range statements {
		if err := checkReadOnly(stmt); err != nil {
			t.Fatalf("checkReadOnly(%q) error = %v", stmt, err)
		}
	}
}

func TestExecuteAllowsLeadingComments(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{})

	mock.ExpectQuery(`SELECT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(int64(1)))

	result, err := executor.Execute(context.Background(), Request{SQL: "-- sanity\nSELECT 1"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", result.RowCount)
	}
	assertSQLMock(t, mock)
}

func TestExecuteEmptySQLFails(t *testing.T) {
	db, _ := newSQLMock(t)
	executor := New(db, Options{})

	_, err := executor.Execute(context.Background(), Request{SQL: "   "})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Transient {
		t.Fatalf("Execute() error = %v, want fatal execution error", err)
	}
}

func TestExecuteRetriesOnBrokenConnection(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{})

	mock.ExpectQuery(`SELECT \* FROM "orders"`).WillReturnError(driver.ErrBadConn)
	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	result, err := executor.Execute(context.Background(), Request{SQL: `SELECT * FROM "orders"`})
	if err != nil {
		t.Fatalf("Execute() error = %v, want success after retry", err)
	}
	if result.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", result.RowCount)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRetriesOnlyOnce(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{})

	mock.ExpectQuery(`SELECT \* FROM "orders"`).WillReturnError(driver.ErrBadConn)
	mock.ExpectQuery(`SELECT \* FROM "orders"`).WillReturnError(driver.ErrBadConn)

	_, err := executor.Execute(context.Background(), Request{SQL: `SELECT * FROM "orders"`})
	if err == nil {
		t.Fatal("expected error after two broken connections")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteQueryTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{QueryTimeout: 15 * time.Millisecond})

	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := executor.Execute(context.Background(), Request{SQL: `SELECT * FROM "orders"`})
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("Execute() error = %v, want ErrQueryTimeout", err)
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
}

func TestExecutePoolExhausted(t *testing.T) {
	db, _ := newSQLMock(t)
	db.SetMaxOpenConns(1)
	executor := New(db, Options{AcquireTimeout: 15 * time.Millisecond})

	held, err := db.Conn(context.Background())
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer func() { _ = held.Close() }()

	_, err = executor.Execute(context.Background(), Request{SQL: `SELECT 1`})
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Execute() error = %v, want ErrPoolExhausted", err)
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient(%v) = false, want true", err)
	}
}

func TestExecuteFatalFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	executor := New(db, Options{})

	mock.ExpectQuery(`SELECT \* FROM "orders"`).
		WillReturnError(errors.New(`column "statu" does not exist`))

	_, err := executor.Execute(context.Background(), Request{SQL: `SELECT * FROM "orders"`})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient(%v) = true, want false", err)
	}
	if !IsSchemaDrift(err) {
		t.Fatalf("IsSchemaDrift(%v) = false, want true", err)
	}
	assertSQLMock(t, mock)
}

func TestIsSchemaDrift(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"undefined table code", &pgconn.PgError{Code: "42P01"}, true},
		{"undefined column code", &pgconn.PgError{Code: "42703"}, true},
		{"wrapped pg error", fmt.Errorf("execute query: %w", &pgconn.PgError{Code: "42P01"}), true},
		{"unrelated pg error", &pgconn.PgError{Code: "23505"}, false},
		{"message fallback", errors.New(`table "orders" does not exist`), true},
		{"unrelated error", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSchemaDrift(tt.err); got != tt.want {
				t.Fatalf("IsSchemaDrift(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
