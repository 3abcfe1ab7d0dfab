// Package duckdb introspects a DuckDB schema into catalog table descriptors.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbchat/dbchat/internal/catalog"
)

const queryTables = `
SELECT table_name, COALESCE(estimated_size, 0) AS row_estimate
FROM duckdb_tables()
WHERE schema_name = ?
ORDER BY table_name`

const queryColumns = `
SELECT name, type, NOT "notnull" AS nullable, pk
FROM pragma_table_info(?)
ORDER BY cid`

type Introspector struct {
	db     *sql.DB
	schema string
}

var _ catalog.Introspector = (*Introspector)(nil)

func NewIntrospector(db *sql.DB, schema string) *Introspector {
	if strings.TrimSpace(schema) == "" {
		schema = "main"
	}
	return &Introspector{db: db, schema: schema}
}

func (i *Introspector) SchemaName() string { return i.schema }

// Tables reads every table in the schema with its columns in declaration
// order, primary key flags, and the stored row estimate.
func (i *Introspector) Tables(ctx context.Context) ([]catalog.TableInfo, error) {
	rows, err := i.db.QueryContext(ctx, queryTables, i.schema)
	if err != nil {
		return nil, fmt.Errorf("list schema tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableInfo, 0)
	for rows.Next() {
		var table catalog.TableInfo
		if err := rows.Scan(&table.Name, &table.RowEstimate); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	for t := range tables {
		columns, err := i.tableColumns(ctx, tables[t].Name)
		if err != nil {
			return nil, err
		}
		tables[t].Columns = columns
	}
	return tables, nil
}

func (i *Introspector) tableColumns(ctx context.Context, table string) ([]catalog.ColumnInfo, error) {
	rows, err := i.db.QueryContext(ctx, queryColumns, i.schema+"."+table)
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]catalog.ColumnInfo, 0)
	for rows.Next() {
		var col catalog.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}
	return columns, nil
}
