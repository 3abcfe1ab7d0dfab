// Package intent turns chat utterances into structured query intents. Parsers
// resolve table and column references against a schema snapshot so downstream
// SQL generation never sees identifiers the database does not have.
package intent

import (
	"context"

	"github.com/dbchat/dbchat/internal/catalog"
)

type Kind string

const (
	KindListTables    Kind = "list_tables"
	KindDescribeTable Kind = "describe_table"
	KindSelectRows    Kind = "select_rows"
	KindAggregate     Kind = "aggregate"
	KindUnknown       Kind = "unknown"
)

type Op string

const (
	OpEq     Op = "="
	OpNotEq  Op = "!="
	OpGt     Op = ">"
	OpGtOrEq Op = ">="
	OpLt     Op = "<"
	OpLtOrEq Op = "<="
	OpLike   Op = "LIKE"
	OpIn     Op = "IN"
)

// Filter is one WHERE predicate. Values are untyped text and always bound as
// query parameters, never spliced into SQL. OpIn reads the Values slice; every
// other operator reads Value.
type Filter struct {
	Column string
	Op     Op
	Value  string
	Values []string
}

// Intent is the structured reading of one utterance. Func, Column and GroupBy
// are only set for aggregates. Note carries a parser remark surfaced to the
// user verbatim, such as the refusal for write requests.
type Intent struct {
	Kind    Kind
	Table   string
	Columns []string
	Filters []Filter
	Limit   int
	Func    string
	Column  string
	GroupBy string
	Raw     string
	Note    string
}

// RequiresTable reports whether the intent cannot be answered without a
// resolved table reference.
func (i Intent) RequiresTable() bool {
	switch i.Kind {
	case KindDescribeTable, KindSelectRows, KindAggregate:
		return true
	default:
		return false
	}
}

// Context is the conversational state a parser may fall back to when an
// utterance leans on an earlier exchange ("now show me 10 more").
type Context struct {
	LastTable   string
	LastFilters []Filter
}

// Parser maps one utterance to an Intent against a pinned schema snapshot.
// Implementations return KindUnknown rather than an error for utterances they
// cannot read; errors are reserved for infrastructure failures.
type Parser interface {
	Parse(ctx context.Context, utterance string, snap *catalog.Snapshot, conv Context) (Intent, error)
}

// Chain tries parsers in order and returns the first confident reading.
// A parser that fails or returns KindUnknown hands the utterance to the next
// one, except when the unknown carries a Note: that reading is final.
type Chain []Parser

func (c Chain) Parse(ctx context.Context, utterance string, snap *catalog.Snapshot, conv Context) (Intent, error) {
	fallback := Intent{Kind: KindUnknown, Raw: utterance}
	for _, parser := range c {
		parsed, err := parser.Parse(ctx, utterance, snap, conv)
		if err != nil {
			continue
		}
		if parsed.Kind != KindUnknown {
			return parsed, nil
		}
		if parsed.Note != "" {
			return parsed, nil
		}
		fallback = parsed
	}
	return fallback, nil
}
