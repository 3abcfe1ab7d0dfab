// Package api exposes the chat service over HTTP: the conversational
// endpoint, schema browsing, raw read-only execution for operators, the
// audit trail, and the usual health, readiness, and metrics surfaces.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbchat/dbchat/internal/audit"
	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/catalog"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// ChatService answers natural-language questions about the target database.
type ChatService interface {
	Process(ctx context.Context, sessionID, utterance string) (chat.Response, error)
	Health(ctx context.Context) chat.Health
}

// CatalogService serves cached schema snapshots and forces refreshes.
type CatalogService interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
	Refresh(ctx context.Context) error
}

// Dependencies carries the services the HTTP layer fronts. A nil entry
// disables its endpoints with an explanatory error response.
type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chat              ChatService
	Catalog           CatalogService
	Executor          query.Executor
	Audit             audit.Reader
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"status": "ok", "service": cfg.Service.Name}
		if deps.Chat != nil {
			payload["components"] = deps.Chat.Health(r.Context())
		}
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	protected.HandleFunc("POST /v1/execute", func(w http.ResponseWriter, r *http.Request) {
		handleExecute(deps, w, r)
	})
	protected.HandleFunc("GET /v1/tables", func(w http.ResponseWriter, r *http.Request) {
		handleListTables(deps, w, r)
	})
	protected.HandleFunc("GET /v1/schema/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleDescribeTable(deps, w, r)
	})
	protected.HandleFunc("POST /v1/catalog/refresh", func(w http.ResponseWriter, r *http.Request) {
		handleCatalogRefresh(deps, w, r)
	})
	protected.HandleFunc("GET /v1/audit/events", func(w http.ResponseWriter, r *http.Request) {
		handleAuditEvents(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("POST /v1/chat", protectedHandler)
	mux.Handle("POST /v1/execute", protectedHandler)
	mux.Handle("GET /v1/tables", protectedHandler)
	mux.Handle("GET /v1/schema/{table}", protectedHandler)
	mux.Handle("POST /v1/catalog/refresh", protectedHandler)
	mux.Handle("GET /v1/audit/events", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckDatabase reports readiness by pinging the target database.
func CheckDatabase(db *sql.DB) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		return nil
	}
}

// CheckCatalog reports readiness by fetching a schema snapshot, which
// triggers introspection when the cache is empty.
func CheckCatalog(cat CatalogService) ReadinessCheck {
	return func(ctx context.Context) error {
		if cat == nil {
			return errors.New("catalog is not configured")
		}
		if _, err := cat.Snapshot(ctx); err != nil {
			return fmt.Errorf("catalog snapshot: %w", err)
		}
		return nil
	}
}

func CheckAuditDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Audit.Enabled && cfg.Audit.DSN == "" {
			return errors.New("audit dsn is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// requireAnyRole passes when the request carries no identity, which only
// happens with authentication disabled; the middleware always installs one
// otherwise.
func requireAnyRole(r *http.Request, roles ...string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	for _, role := range roles {
		if identity.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("missing required role, expected one of %q", roles)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
