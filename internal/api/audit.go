package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dbchat/dbchat/internal/audit"
	"github.com/dbchat/dbchat/internal/auth"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

func handleAuditEvents(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "the audit trail is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	filter, err := auditFilterFromQuery(r.URL.Query())
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), false, nil)
		return
	}

	events, err := deps.Audit.Query(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to query audit events", true, map[string]any{"details": err.Error()})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func auditFilterFromQuery(values url.Values) (audit.QueryFilter, error) {
	filter := audit.QueryFilter{
		SessionID: values.Get("session_id"),
		Status:    values.Get("status"),
		Limit:     defaultAuditPageSize,
	}
	if raw := values.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.QueryFilter{}, fmt.Errorf("since must be an RFC 3339 timestamp, got %q", raw)
		}
		filter.Since = &ts
	}
	if raw := values.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.QueryFilter{}, fmt.Errorf("until must be an RFC 3339 timestamp, got %q", raw)
		}
		filter.Until = &ts
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return audit.QueryFilter{}, fmt.Errorf("limit must be a positive integer, got %q", raw)
		}
		if limit > maxAuditPageSize {
			limit = maxAuditPageSize
		}
		filter.Limit = limit
	}
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return audit.QueryFilter{}, fmt.Errorf("offset must be a non-negative integer, got %q", raw)
		}
		filter.Offset = offset
	}
	return filter, nil
}
