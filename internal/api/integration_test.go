//go:build integration

package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	auditpg "github.com/dbchat/dbchat/internal/audit/postgres"
	"github.com/dbchat/dbchat/internal/catalog"
	catalogpg "github.com/dbchat/dbchat/internal/catalog/postgres"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/intent"
	"github.com/dbchat/dbchat/internal/migrations"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/sqlgen"
)

func TestChatEndToEndWithPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("DBCHAT_TEST_DATABASE_DSN"))
	if adminDSN == "" {
		t.Skip("DBCHAT_TEST_DATABASE_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	seedDemoTables(t, db)

	cfg, err := config.Load("dbchat-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	cat := catalog.New(catalogpg.NewIntrospector(db, "public"), catalog.Options{})
	executor := query.New(db, query.Options{})
	auditStore := auditpg.New(db, auditpg.Options{})
	defer auditStore.Close()

	processor := &chat.Processor{
		Catalog:  cat,
		Parser:   intent.NewRuleParser(),
		Builder:  sqlgen.New(cfg.Chat.MaxRows),
		Executor: executor,
		Sessions: chat.NewSessionStore(),
		Audit:    auditStore,
		DB:       db,
	}

	h := NewHandler(cfg, Dependencies{
		Chat:      processor,
		Catalog:   cat,
		Executor:  executor,
		Audit:     auditStore,
		Readiness: CombineReadinessChecks(CheckDatabase(db), CheckCatalog(cat)),
	})

	readyRR := httptest.NewRecorder()
	h.ServeHTTP(readyRR, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if readyRR.Code != http.StatusOK {
		t.Fatalf("ready status = %d, body=%s", readyRR.Code, readyRR.Body.String())
	}

	listResp := postChat(t, h, map[string]any{"message": "What tables are available?"}, http.StatusOK)
	answer, _ := listResp["answer"].(string)
	if !strings.Contains(answer, "customers") || !strings.Contains(answer, "orders") {
		t.Fatalf("list answer = %q", answer)
	}
	sessionID, _ := listResp["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("session_id missing: %#v", listResp)
	}

	rowsResp := postChat(t, h, map[string]any{"session_id": sessionID, "message": "show me all orders"}, http.StatusOK)
	if rowsResp["row_count"] != float64(3) {
		t.Fatalf("row_count = %v", rowsResp["row_count"])
	}
	sqlText, _ := rowsResp["sql_query"].(string)
	if !strings.Contains(sqlText, "FROM \"orders\"") {
		t.Fatalf("sql_query = %q", sqlText)
	}

	countResp := postChat(t, h, map[string]any{"session_id": sessionID, "message": "how many orders are there"}, http.StatusOK)
	if countResp["answer"] != "The orders table contains 3 rows." {
		t.Fatalf("count answer = %v", countResp["answer"])
	}

	schemaRR := httptest.NewRecorder()
	h.ServeHTTP(schemaRR, httptest.NewRequest(http.MethodGet, "/v1/schema/orders", nil))
	if schemaRR.Code != http.StatusOK {
		t.Fatalf("schema status = %d, body=%s", schemaRR.Code, schemaRR.Body.String())
	}
	if !strings.Contains(schemaRR.Body.String(), "amount") {
		t.Fatalf("schema body missing amount column: %s", schemaRR.Body.String())
	}

	execBody, _ := json.Marshal(map[string]any{"sql": "SELECT COUNT(*) AS n FROM orders"})
	execRR := httptest.NewRecorder()
	h.ServeHTTP(execRR, httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(execBody)))
	if execRR.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body=%s", execRR.Code, execRR.Body.String())
	}

	writeBody, _ := json.Marshal(map[string]any{"sql": "DELETE FROM orders"})
	writeRR := httptest.NewRecorder()
	h.ServeHTTP(writeRR, httptest.NewRequest(http.MethodPost, "/v1/execute", bytes.NewReader(writeBody)))
	if writeRR.Code != http.StatusForbidden {
		t.Fatalf("write status = %d, body=%s", writeRR.Code, writeRR.Body.String())
	}

	auditRR := httptest.NewRecorder()
	h.ServeHTTP(auditRR, httptest.NewRequest(http.MethodGet, "/v1/audit/events?status=ok", nil))
	if auditRR.Code != http.StatusOK {
		t.Fatalf("audit status = %d, body=%s", auditRR.Code, auditRR.Body.String())
	}
	var auditBody map[string]any
	if err := json.Unmarshal(auditRR.Body.Bytes(), &auditBody); err != nil {
		t.Fatalf("decode audit response error = %v", err)
	}
	if count, _ := auditBody["count"].(float64); count < 3 {
		t.Fatalf("audit count = %v, want at least 3", auditBody["count"])
	}

	refreshRR := httptest.NewRecorder()
	h.ServeHTTP(refreshRR, httptest.NewRequest(http.MethodPost, "/v1/catalog/refresh", nil))
	if refreshRR.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, body=%s", refreshRR.Code, refreshRR.Body.String())
	}
}

func postChat(t *testing.T, handler http.Handler, payload map[string]any, expectedStatus int) map[string]any {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != expectedStatus {
		t.Fatalf("chat status = %d, want %d, body=%s", rr.Code, expectedStatus, rr.Body.String())
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode chat response error = %v", err)
	}
	return response
}

func seedDemoTables(t *testing.T, db *sql.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, status TEXT NOT NULL, amount NUMERIC(10,2) NOT NULL)`,
		`INSERT INTO customers (id, name, city) VALUES (1, 'Ada', 'Boston'), (2, 'Linus', 'Portland')`,
		`INSERT INTO orders (id, status, amount) VALUES (1, 'shipped', 120.50), (2, 'pending', 35.00), (3, 'shipped', 64.25)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("seed statement %q error = %v", statement, err)
		}
	}
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	adminDBName := strings.TrimPrefix(parsed.Path, "/")
	if adminDBName == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("dbchat_it_api_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}
