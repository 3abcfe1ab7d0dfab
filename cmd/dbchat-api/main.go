package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbchat/dbchat/internal/api"
	auditpostgres "github.com/dbchat/dbchat/internal/audit/postgres"
	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/catalog"
	catalogduckdb "github.com/dbchat/dbchat/internal/catalog/duckdb"
	catalogpostgres "github.com/dbchat/dbchat/internal/catalog/postgres"
	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/db"
	"github.com/dbchat/dbchat/internal/intent"
	"github.com/dbchat/dbchat/internal/nlp"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/sqlgen"
)

func main() {
	cfg, err := config.LoadFromEnv("dbchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	targetDB, err := db.Open(context.Background(), db.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = targetDB.Close() }()

	var intro catalog.Introspector
	switch cfg.Database.Driver {
	case config.DriverDuckDB:
		intro = catalogduckdb.NewIntrospector(targetDB, "main")
	default:
		intro = catalogpostgres.NewIntrospector(targetDB, "public")
	}
	cat := catalog.New(intro, catalog.Options{TTL: cfg.Catalog.TTL, Logger: logger})

	parser := intent.Chain{intent.NewRuleParser()}
	if cfg.NLP.Enabled {
		embedder, err := nlp.NewOpenAIEmbedder(nlp.EmbedderConfig{
			BaseURL: cfg.NLP.BaseURL,
			APIKey:  cfg.NLP.APIKey,
			Model:   cfg.NLP.Model,
			Timeout: cfg.NLP.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize embedding parser", slog.Any("error", err))
			os.Exit(1)
		}
		parser = append(parser, intent.NewEmbeddingParser(embedder, intent.EmbeddingOptions{
			MinScore: cfg.NLP.MinConfidence,
			Logger:   logger,
		}))
	}

	executor := query.New(targetDB, query.Options{
		MaxRows:        cfg.Chat.MaxRows,
		QueryTimeout:   cfg.Chat.QueryTimeout,
		AcquireTimeout: cfg.Chat.AcquireTimeout,
		Logger:         logger,
	})

	sessions := chat.NewSessionStore()

	var auditStore *auditpostgres.Store
	if cfg.Audit.Enabled {
		auditDB, err := db.Open(context.Background(), db.Config{
			Driver: config.DriverPostgres,
			DSN:    cfg.Audit.DSN,
		})
		if err != nil {
			logger.Error("failed to open audit database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()

		auditStore = auditpostgres.New(auditDB, auditpostgres.Options{
			RetentionDays: cfg.Audit.RetentionDays,
			Logger:        logger,
		})
		auditStore.StartCleanupRoutine(cfg.Audit.CleanupInterval)
		defer func() { _ = auditStore.Close() }()
	}

	processor := &chat.Processor{
		Catalog:  cat,
		Parser:   parser,
		Builder:  sqlgen.New(cfg.Chat.MaxRows),
		Executor: executor,
		Sessions: sessions,
		DB:       targetDB,
		Config: chat.Config{
			SchemaRetries:      cfg.Chat.SchemaRetries,
			SchemaRetryBackoff: cfg.Chat.SchemaRetryBackoff,
		},
		Logger: logger,
	}
	if auditStore != nil {
		processor.Audit = auditStore
	}

	deps := api.Dependencies{
		Logger:   logger,
		Chat:     processor,
		Catalog:  cat,
		Executor: executor,
		Readiness: api.CombineReadinessChecks(
			api.CheckDatabase(targetDB),
			api.CheckCatalog(cat),
			api.CheckAuditDSN(cfg),
		),
		DependencyTimeout: 2 * time.Second,
	}
	if auditStore != nil {
		deps.Audit = auditStore
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresher := &catalog.Refresher{Catalog: cat, Interval: cfg.Catalog.RefreshInterval, Logger: logger}
	go func() { _ = refresher.Run(ctx) }()

	janitor := &chat.Janitor{
		Sessions: sessions,
		MaxIdle:  cfg.Chat.SessionIdleTimeout,
		Interval: cfg.Chat.SessionSweepInterval,
		Logger:   logger,
	}
	go func() { _ = janitor.Run(ctx) }()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
