package sqlgen

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dbchat/dbchat/internal/catalog"
	"github.com/dbchat/dbchat/internal/intent"
)

func builderSnapshot() *catalog.Snapshot {
	return catalog.NewSnapshot("public", []catalog.TableInfo{
		{Name: "customers", RowEstimate: 120, Columns: []catalog.ColumnInfo{
			{Name: "id", DataType: "bigint", PrimaryKey: true},
			{Name: "name", DataType: "text"},
			{Name: "city", DataType: "text", Nullable: true},
		}},
		{Name: "orders", RowEstimate: 2_000_000, Columns: []catalog.ColumnInfo{
			{Name: "id", DataType: "bigint", PrimaryKey: true},
			{Name: "status", DataType: "text"},
			{Name: "amount", DataType: "numeric"},
		}},
	})
}

func TestBuildListTables(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{Kind: intent.KindListTables}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != listTablesSQL {
		t.Fatalf("SQL = %q", plan.SQL)
	}
	if len(plan.Args) != 0 {
		t.Fatalf("Args = %v, want none", plan.Args)
	}
}

func TestBuildDescribeTable(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{Kind: intent.KindDescribeTable, Table: "orders"}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != describeTableSQL {
		t.Fatalf("SQL = %q", plan.SQL)
	}
	if len(plan.Args) != 1 || plan.Args[0] != "orders" {
		t.Fatalf("Args = %v", plan.Args)
	}
}

func TestBuildDescribeUnknownTableSuggests(t *testing.T) {
	_, err := New(100).Build(intent.Intent{Kind: intent.KindDescribeTable, Table: "ordes"}, builderSnapshot())
	var unknownTable *UnknownTableError
	if !errors.As(err, &unknownTable) {
		t.Fatalf("error = %v, want UnknownTableError", err)
	}
	if unknownTable.Suggestion != "orders" {
		t.Fatalf("Suggestion = %q, want orders", unknownTable.Suggestion)
	}
	if !IsResolutionError(err) {
		t.Fatal("UnknownTableError should classify as resolution error")
	}
}

func TestBuildSelectAllRows(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{Kind: intent.KindSelectRows, Table: "orders"}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != `SELECT * FROM "orders"` {
		t.Fatalf("SQL = %q", plan.SQL)
	}
	if len(plan.Args) != 0 {
		t.Fatalf("Args = %v", plan.Args)
	}
	if plan.Cost != costExpensive {
		t.Fatalf("Cost = %q, want %q", plan.Cost, costExpensive)
	}
}

func TestBuildSelectWithFiltersClampsLimit(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{
		Kind:    intent.KindSelectRows,
		Table:   "orders",
		Columns: []string{"status"},
		Filters: []intent.Filter{
			{Column: "status", Op: intent.OpEq, Value: "Shipped"},
			{Column: "amount", Op: intent.OpGt, Value: "100"},
		},
		Limit: 500,
	}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := `SELECT "status" FROM "orders" WHERE "status" = $1 AND "amount" > $2 LIMIT 100`
	if plan.SQL != want {
		t.Fatalf("SQL = %q, want %q", plan.SQL, want)
	}
	if len(plan.Args) != 2 || plan.Args[0] != "Shipped" || plan.Args[1] != int64(100) {
		t.Fatalf("Args = %v", plan.Args)
	}
}

func TestBuildSameIntentProducesIdenticalPlan(t *testing.T) {
	it := intent.Intent{
		Kind:  intent.KindSelectRows,
		Table: "orders",
		Filters: []intent.Filter{
			{Column: "status", Op: intent.OpEq, Value: "Shipped"},
			{Column: "amount", Op: intent.OpGtOrEq, Value: "25"},
		},
		Limit: 10,
	}
	snap := builderSnapshot()
	builder := New(100)

	first, err := builder.Build(it, snap)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := builder.Build(it, snap)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if first.SQL != second.SQL {
		t.Fatalf("SQL differs between builds: %q vs %q", first.SQL, second.SQL)
	}
	if !reflect.DeepEqual(first.Args, second.Args) {
		t.Fatalf("Args differ between builds: %v vs %v", first.Args, second.Args)
	}
}

func TestBuildSelectKeepsSmallLimit(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{Kind: intent.KindSelectRows, Table: "orders", Limit: 5}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != `SELECT * FROM "orders" LIMIT 5` {
		t.Fatalf("SQL = %q", plan.SQL)
	}
}

func TestBuildSelectLikeWrapsPattern(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{
		Kind:    intent.KindSelectRows,
		Table:   "customers",
		Filters: []intent.Filter{{Column: "name", Op: intent.OpLike, Value: "smith"}},
	}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != `SELECT * FROM "customers" WHERE "name" LIKE $1` {
		t.Fatalf("SQL = %q", plan.SQL)
	}
	if len(plan.Args) != 1 || plan.Args[0] != "%smith%" {
		t.Fatalf("Args = %v", plan.Args)
	}
}

func TestBuildSelectInFilter(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{
		Kind:    intent.KindSelectRows,
		Table:   "orders",
		Filters: []intent.Filter{{Column: "status", Op: intent.OpIn, Values: []string{"pending", "shipped"}}},
	}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != `SELECT * FROM "orders" WHERE "status" IN ($1,$2)` {
		t.Fatalf("SQL = %q", plan.SQL)
	}
	if len(plan.Args) != 2 || plan.Args[0] != "pending" || plan.Args[1] != "shipped" {
		t.Fatalf("Args = %v", plan.Args)
	}
}

func TestBuildSelectInFilterNeedsValues(t *testing.T) {
	_, err := New(100).Build(intent.Intent{
		Kind:    intent.KindSelectRows,
		Table:   "orders",
		Filters: []intent.Filter{{Column: "status", Op: intent.OpIn}},
	}, builderSnapshot())
	if !errors.Is(err, ErrNotBuildable) {
		t.Fatalf("error = %v, want ErrNotBuildable", err)
	}
}

func TestBuildSelectUnknownColumnSuggests(t *testing.T) {
	_, err := New(100).Build(intent.Intent{
		Kind:    intent.KindSelectRows,
		Table:   "orders",
		Filters: []intent.Filter{{Column: "statuss", Op: intent.OpEq, Value: "x"}},
	}, builderSnapshot())
	var unknownColumn *UnknownColumnError
	if !errors.As(err, &unknownColumn) {
		t.Fatalf("error = %v, want UnknownColumnError", err)
	}
	if unknownColumn.Suggestion != "status" {
		t.Fatalf("Suggestion = %q, want status", unknownColumn.Suggestion)
	}
}

func TestBuildAggregateCountAll(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{Kind: intent.KindAggregate, Table: "orders", Func: "COUNT"}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.SQL != `SELECT COUNT(*) AS "count_all" FROM "orders"` {
		t.Fatalf("SQL = %q", plan.SQL)
	}
}

func TestBuildAggregateGrouped(t *testing.T) {
	plan, err := New(100).Build(intent.Intent{
		Kind:    intent.KindAggregate,
		Table:   "orders",
		Func:    "SUM",
		Column:  "amount",
		GroupBy: "status",
	}, builderSnapshot())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	want := `SELECT "status", SUM("amount") AS "sum_amount" FROM "orders" GROUP BY "status" ORDER BY "status" ASC`
	if plan.SQL != want {
		t.Fatalf("SQL = %q, want %q", plan.SQL, want)
	}
}

func TestBuildAggregateRejectsUnknownFunction(t *testing.T) {
	_, err := New(100).Build(intent.Intent{Kind: intent.KindAggregate, Table: "orders", Func: "MEDIAN"}, builderSnapshot())
	var unsupported *UnsupportedAggregateError
	if !errors.As(err, &unsupported) {
		t.Fatalf("error = %v, want UnsupportedAggregateError", err)
	}
}

func TestBuildAggregateSumNeedsColumn(t *testing.T) {
	_, err := New(100).Build(intent.Intent{Kind: intent.KindAggregate, Table: "orders", Func: "SUM"}, builderSnapshot())
	if !errors.Is(err, ErrNotBuildable) {
		t.Fatalf("error = %v, want ErrNotBuildable", err)
	}
}

func TestBuildUnknownIntentNotBuildable(t *testing.T) {
	_, err := New(100).Build(intent.Intent{Kind: intent.KindUnknown}, builderSnapshot())
	if !errors.Is(err, ErrNotBuildable) {
		t.Fatalf("error = %v, want ErrNotBuildable", err)
	}
	if !IsResolutionError(err) {
		t.Fatal("ErrNotBuildable should classify as resolution error")
	}
}

func TestCoerceValue(t *testing.T) {
	if got := coerceValue("42"); got != int64(42) {
		t.Fatalf("coerceValue(42) = %v (%T)", got, got)
	}
	if got := coerceValue("1.5"); got != 1.5 {
		t.Fatalf("coerceValue(1.5) = %v (%T)", got, got)
	}
	if got := coerceValue("true"); got != true {
		t.Fatalf("coerceValue(true) = %v (%T)", got, got)
	}
	if got := coerceValue("Boston"); got != "Boston" {
		t.Fatalf("coerceValue(Boston) = %v (%T)", got, got)
	}
}
