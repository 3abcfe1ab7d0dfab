package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/query"
)

type executeRequest struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

type executeResponse struct {
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	RowCount  int            `json:"row_count"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

// handleExecute runs operator-supplied SQL through the same guarded executor
// as the chat path, so the read-only gate and row cap still apply.
func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Executor == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXECUTOR_NOT_CONFIGURED", "raw query execution is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request executeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid execute request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	result, err := deps.Executor.Execute(r.Context(), query.Request{SQL: request.SQL, Args: request.Args})
	if err != nil {
		switch {
		case errors.Is(err, query.ErrWriteNotPermitted):
			writeError(r.Context(), w, http.StatusForbidden, "WRITE_NOT_PERMITTED", "only read-only statements are allowed", false, nil)
		case errors.Is(err, query.ErrQueryTimeout):
			writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "query exceeded its time budget", true, nil)
		case query.IsTransient(err):
			writeError(r.Context(), w, http.StatusServiceUnavailable, "TRY_AGAIN", "the database is briefly unavailable, retry the query", true, nil)
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		Columns:   result.Columns,
		Rows:      result.Rows,
		RowCount:  result.RowCount,
		Truncated: result.Truncated,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
		},
	})
}
