// Package postgres introspects a PostgreSQL schema into catalog table
// descriptors.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbchat/dbchat/internal/catalog"
)

const queryTables = `
SELECT t.table_name, COALESCE(s.n_live_tup, 0) AS row_estimate
FROM information_schema.tables t
LEFT JOIN pg_stat_user_tables s
    ON s.schemaname = t.table_schema AND s.relname = t.table_name
WHERE t.table_schema = $1
  AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name`

const queryColumns = `
SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES' AS nullable
FROM information_schema.columns c
WHERE c.table_schema = $1
ORDER BY c.table_name, c.ordinal_position`

const queryPrimaryKeys = `
SELECT c.relname AS table_name, a.attname AS column_name
FROM pg_index i
JOIN pg_class c ON c.oid = i.indrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
WHERE n.nspname = $1
  AND i.indisprimary
ORDER BY c.relname, a.attnum`

type Introspector struct {
	db     *sql.DB
	schema string
}

var _ catalog.Introspector = (*Introspector)(nil)

func NewIntrospector(db *sql.DB, schema string) *Introspector {
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	return &Introspector{db: db, schema: schema}
}

func (i *Introspector) SchemaName() string { return i.schema }

// Tables reads every base table in the schema with its columns in ordinal
// order, primary key flags, and the planner's live row estimate.
func (i *Introspector) Tables(ctx context.Context) ([]catalog.TableInfo, error) {
	tables, index, err := i.listTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return tables, nil
	}
	if err := i.loadColumns(ctx, tables, index); err != nil {
		return nil, err
	}
	if err := i.markPrimaryKeys(ctx, tables, index); err != nil {
		return nil, err
	}
	return tables, nil
}

func (i *Introspector) listTables(ctx context.Context) ([]catalog.TableInfo, map[string]int, error) {
	rows, err := i.db.QueryContext(ctx, queryTables, i.schema)
	if err != nil {
		return nil, nil, fmt.Errorf("list schema tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableInfo, 0)
	index := make(map[string]int)
	for rows.Next() {
		var table catalog.TableInfo
		if err := rows.Scan(&table.Name, &table.RowEstimate); err != nil {
			return nil, nil, fmt.Errorf("scan table row: %w", err)
		}
		index[table.Name] = len(tables)
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, index, nil
}

func (i *Introspector) loadColumns(ctx context.Context, tables []catalog.TableInfo, index map[string]int) error {
	rows, err := i.db.QueryContext(ctx, queryColumns, i.schema)
	if err != nil {
		return fmt.Errorf("list schema columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName string
		var col catalog.ColumnInfo
		if err := rows.Scan(&tableName, &col.Name, &col.DataType, &col.Nullable); err != nil {
			return fmt.Errorf("scan column row: %w", err)
		}
		// Columns of views share the schema; keep base tables only.
		pos, ok := index[tableName]
		if !ok {
			continue
		}
		tables[pos].Columns = append(tables[pos].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate column rows: %w", err)
	}
	return nil
}

func (i *Introspector) markPrimaryKeys(ctx context.Context, tables []catalog.TableInfo, index map[string]int) error {
	rows, err := i.db.QueryContext(ctx, queryPrimaryKeys, i.schema)
	if err != nil {
		return fmt.Errorf("list primary keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return fmt.Errorf("scan primary key row: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			continue
		}
		for c := range tables[pos].Columns {
			if tables[pos].Columns[c].Name == columnName {
				tables[pos].Columns[c].PrimaryKey = true
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate primary key rows: %w", err)
	}
	return nil
}
