// Package sqlgen compiles intents into parameterized SQL plans. Identifiers
// written into statement text must already exist in the schema snapshot;
// user-supplied values only ever reach the database as bound parameters.
package sqlgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/dbchat/dbchat/internal/catalog"
	"github.com/dbchat/dbchat/internal/intent"
)

// psq builds statements with dollar placeholders, which both supported
// drivers accept.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const listTablesSQL = `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`

const describeTableSQL = `SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`

const (
	costCheap     = "cheap"
	costModerate  = "moderate"
	costExpensive = "expensive"
)

var aggregateFuncs = map[string]struct{}{
	"COUNT": {},
	"SUM":   {},
	"AVG":   {},
	"MIN":   {},
	"MAX":   {},
}

// ErrNotBuildable marks intents with no SQL rendering, such as unknown
// utterances or aggregates missing a target column.
var ErrNotBuildable = errors.New("intent cannot be compiled to a query")

type UnknownTableError struct {
	Name       string
	Suggestion string
}

func (e *UnknownTableError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown table %q (closest match %q)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown table %q", e.Name)
}

type UnknownColumnError struct {
	Table      string
	Name       string
	Suggestion string
}

func (e *UnknownColumnError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown column %q in table %q (closest match %q)", e.Name, e.Table, e.Suggestion)
	}
	return fmt.Sprintf("unknown column %q in table %q", e.Name, e.Table)
}

type UnsupportedAggregateError struct {
	Func string
}

func (e *UnsupportedAggregateError) Error() string {
	return fmt.Sprintf("unsupported aggregate function %q", e.Func)
}

// IsResolutionError reports whether err is a user-facing resolution failure
// rather than an infrastructure one.
func IsResolutionError(err error) bool {
	var unknownTable *UnknownTableError
	var unknownColumn *UnknownColumnError
	var unsupported *UnsupportedAggregateError
	return errors.Is(err, ErrNotBuildable) ||
		errors.As(err, &unknownTable) ||
		errors.As(err, &unknownColumn) ||
		errors.As(err, &unsupported)
}

// Plan is an executable statement with its bound arguments. Tables lists the
// identifiers the plan touches; Cost is a coarse size class from the row
// estimate of the largest table.
type Plan struct {
	SQL    string
	Args   []any
	Tables []string
	Cost   string
}

type Builder struct {
	// MaxRows caps the LIMIT a user may request.
	MaxRows int
}

func New(maxRows int) *Builder {
	if maxRows <= 0 {
		maxRows = 100
	}
	return &Builder{MaxRows: maxRows}
}

func (b *Builder) Build(it intent.Intent, snap *catalog.Snapshot) (Plan, error) {
	switch it.Kind {
	case intent.KindListTables:
		return Plan{SQL: listTablesSQL, Cost: costCheap}, nil
	case intent.KindDescribeTable:
		return b.describeTable(it, snap)
	case intent.KindSelectRows:
		return b.selectRows(it, snap)
	case intent.KindAggregate:
		return b.aggregate(it, snap)
	default:
		return Plan{}, ErrNotBuildable
	}
}

func (b *Builder) describeTable(it intent.Intent, snap *catalog.Snapshot) (Plan, error) {
	table, err := resolveTable(snap, it.Table)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		SQL:    describeTableSQL,
		Args:   []any{table.Name},
		Tables: []string{table.Name},
		Cost:   costCheap,
	}, nil
}

func (b *Builder) selectRows(it intent.Intent, snap *catalog.Snapshot) (Plan, error) {
	table, err := resolveTable(snap, it.Table)
	if err != nil {
		return Plan{}, err
	}

	columns := []string{"*"}
	if len(it.Columns) > 0 {
		columns = columns[:0]
		for _, name := range it.Columns {
			col, ok := table.Column(name)
			if !ok {
				return Plan{}, unknownColumn(snap, table, name)
			}
			columns = append(columns, quoteIdent(col.Name))
		}
	}

	qb := psq.Select(columns...).From(quoteIdent(table.Name))
	qb, err = applyFilters(qb, table, snap, it.Filters)
	if err != nil {
		return Plan{}, err
	}
	if limit := b.clampLimit(it.Limit); limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	sqlText, args, err := qb.ToSql()
	if err != nil {
		return Plan{}, fmt.Errorf("render select statement: %w", err)
	}
	return Plan{SQL: sqlText, Args: args, Tables: []string{table.Name}, Cost: costFor(table)}, nil
}

func (b *Builder) aggregate(it intent.Intent, snap *catalog.Snapshot) (Plan, error) {
	table, err := resolveTable(snap, it.Table)
	if err != nil {
		return Plan{}, err
	}

	fn := strings.ToUpper(strings.TrimSpace(it.Func))
	if _, ok := aggregateFuncs[fn]; !ok {
		return Plan{}, &UnsupportedAggregateError{Func: it.Func}
	}

	expr := "COUNT(*)"
	alias := "count_all"
	if it.Column != "" {
		col, ok := table.Column(it.Column)
		if !ok {
			return Plan{}, unknownColumn(snap, table, it.Column)
		}
		expr = fmt.Sprintf("%s(%s)", fn, quoteIdent(col.Name))
		alias = strings.ToLower(fn) + "_" + col.Name
	} else if fn != "COUNT" {
		return Plan{}, fmt.Errorf("%s needs a column to aggregate: %w", fn, ErrNotBuildable)
	}

	qb := psq.Select()
	if it.GroupBy != "" {
		group, ok := table.Column(it.GroupBy)
		if !ok {
			return Plan{}, unknownColumn(snap, table, it.GroupBy)
		}
		qb = qb.Column(quoteIdent(group.Name)).
			Column(expr + " AS " + quoteIdent(alias)).
			From(quoteIdent(table.Name)).
			GroupBy(quoteIdent(group.Name)).
			OrderBy(quoteIdent(group.Name) + " ASC")
	} else {
		qb = qb.Column(expr + " AS " + quoteIdent(alias)).From(quoteIdent(table.Name))
	}

	qb, err = applyFilters(qb, table, snap, it.Filters)
	if err != nil {
		return Plan{}, err
	}
	if limit := b.clampLimit(it.Limit); limit > 0 && it.GroupBy != "" {
		qb = qb.Limit(uint64(limit))
	}

	sqlText, args, err := qb.ToSql()
	if err != nil {
		return Plan{}, fmt.Errorf("render aggregate statement: %w", err)
	}
	return Plan{SQL: sqlText, Args: args, Tables: []string{table.Name}, Cost: costFor(table)}, nil
}

func (b *Builder) clampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > b.MaxRows {
		return b.MaxRows
	}
	return limit
}

func resolveTable(snap *catalog.Snapshot, name string) (catalog.TableInfo, error) {
	table, ok := snap.Table(name)
	if !ok {
		resolutionErr := &UnknownTableError{Name: name}
		if suggestion, found := snap.ClosestTable(name); found {
			resolutionErr.Suggestion = suggestion
		}
		return catalog.TableInfo{}, resolutionErr
	}
	return table, nil
}

func unknownColumn(snap *catalog.Snapshot, table catalog.TableInfo, name string) error {
	resolutionErr := &UnknownColumnError{Table: table.Name, Name: name}
	if suggestion, found := snap.ClosestColumn(table.Name, name); found {
		resolutionErr.Suggestion = suggestion
	}
	return resolutionErr
}

func applyFilters(qb sq.SelectBuilder, table catalog.TableInfo, snap *catalog.Snapshot, filters []intent.Filter) (sq.SelectBuilder, error) {
	for _, filter := range filters {
		col, ok := table.Column(filter.Column)
		if !ok {
			return qb, unknownColumn(snap, table, filter.Column)
		}
		name := quoteIdent(col.Name)
		value := coerceValue(filter.Value)
		switch filter.Op {
		case intent.OpEq:
			qb = qb.Where(sq.Eq{name: value})
		case intent.OpNotEq:
			qb = qb.Where(sq.NotEq{name: value})
		case intent.OpGt:
			qb = qb.Where(sq.Gt{name: value})
		case intent.OpGtOrEq:
			qb = qb.Where(sq.GtOrEq{name: value})
		case intent.OpLt:
			qb = qb.Where(sq.Lt{name: value})
		case intent.OpLtOrEq:
			qb = qb.Where(sq.LtOrEq{name: value})
		case intent.OpLike:
			qb = qb.Where(sq.Like{name: likePattern(filter.Value)})
		case intent.OpIn:
			if len(filter.Values) == 0 {
				return qb, fmt.Errorf("IN filter on %s has no values: %w", col.Name, ErrNotBuildable)
			}
			values := make([]any, 0, len(filter.Values))
			for _, v := range filter.Values {
				values = append(values, coerceValue(v))
			}
			qb = qb.Where(sq.Eq{name: values})
		default:
			return qb, fmt.Errorf("unsupported filter operator %q: %w", filter.Op, ErrNotBuildable)
		}
	}
	return qb, nil
}

// coerceValue gives bound parameters a native type when the text is clearly
// numeric or boolean, so comparisons against typed columns work on both
// drivers.
func coerceValue(value string) any {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	if value == "true" || value == "false" {
		return value == "true"
	}
	return value
}

func likePattern(value string) string {
	if strings.Contains(value, "%") {
		return value
	}
	return "%" + value + "%"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func costFor(table catalog.TableInfo) string {
	switch {
	case table.RowEstimate >= 1_000_000:
		return costExpensive
	case table.RowEstimate >= 10_000:
		return costModerate
	default:
		return costCheap
	}
}
