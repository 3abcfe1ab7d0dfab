package api

import (
	"fmt"
	"net/http"

	"github.com/dbchat/dbchat/internal/auth"
)

type tableSummary struct {
	Name        string `json:"name"`
	ColumnCount int    `json:"column_count"`
	RowEstimate int64  `json:"row_estimate"`
}

type columnDetail struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "schema browsing is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleChatUser, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snap, err := deps.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "the schema cache is unavailable", true, map[string]any{"details": err.Error()})
		return
	}

	tables := snap.Tables()
	items := make([]tableSummary, 0, len(tables))
	for _, table := range tables {
		items = append(items, tableSummary{
			Name:        table.Name,
			ColumnCount: len(table.Columns),
			RowEstimate: table.RowEstimate,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":       snap.SchemaName,
		"version":      snap.Version,
		"refreshed_at": snap.RefreshedAt,
		"tables":       items,
	})
}

func handleDescribeTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "schema browsing is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleChatUser, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	snap, err := deps.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "the schema cache is unavailable", true, map[string]any{"details": err.Error()})
		return
	}

	name := r.PathValue("table")
	table, ok := snap.Table(name)
	if !ok {
		var extra map[string]any
		if suggestion, found := snap.ClosestTable(name); found {
			extra = map[string]any{"suggestion": suggestion}
		}
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", fmt.Sprintf("table %q does not exist", name), false, extra)
		return
	}

	columns := make([]columnDetail, 0, len(table.Columns))
	for _, col := range table.Columns {
		columns = append(columns, columnDetail{
			Name:       col.Name,
			DataType:   col.DataType,
			Nullable:   col.Nullable,
			PrimaryKey: col.PrimaryKey,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":       snap.SchemaName,
		"table":        table.Name,
		"row_estimate": table.RowEstimate,
		"columns":      columns,
	})
}

// handleCatalogRefresh forces introspection, replacing the cached snapshot.
// Operators call it after DDL changes instead of waiting out the TTL.
func handleCatalogRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CATALOG_NOT_CONFIGURED", "schema browsing is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	if err := deps.Catalog.Refresh(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "schema refresh failed", true, map[string]any{"details": err.Error()})
		return
	}
	snap, err := deps.Catalog.Snapshot(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SCHEMA_UNAVAILABLE", "the schema cache is unavailable", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "refreshed",
		"schema":       snap.SchemaName,
		"tables":       snap.TableCount(),
		"fingerprint":  snap.Fingerprint,
		"refreshed_at": snap.RefreshedAt,
	})
}
