package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbchat/dbchat/internal/audit/archiver"
	auditpostgres "github.com/dbchat/dbchat/internal/audit/postgres"
	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/db"
	"github.com/dbchat/dbchat/internal/observability"
	s3store "github.com/dbchat/dbchat/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("dbchat-archiver")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	if !cfg.Audit.Enabled {
		logger.Error("audit trail is disabled, nothing to archive")
		os.Exit(1)
	}

	auditDB, err := db.Open(context.Background(), db.Config{
		Driver: config.DriverPostgres,
		DSN:    cfg.Audit.DSN,
	})
	if err != nil {
		logger.Error("failed to open audit database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = auditDB.Close() }()

	events := auditpostgres.New(auditDB, auditpostgres.Options{
		RetentionDays: cfg.Audit.RetentionDays,
		Logger:        logger,
	})

	objects, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.Archive.Endpoint,
		Region:           cfg.Archive.Region,
		Bucket:           cfg.Archive.Bucket,
		AccessKeyID:      cfg.Archive.AccessKeyID,
		SecretAccessKey:  cfg.Archive.SecretAccessKey,
		UseSSL:           cfg.Archive.UseSSL,
		Prefix:           cfg.Archive.Prefix,
		AutoCreateBucket: cfg.Archive.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize archive store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &archiver.Service{
		Events:       events,
		Objects:      objects,
		BatchSize:    cfg.Archiver.BatchSize,
		PollInterval: cfg.Archiver.PollInterval,
		Logger:       logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("audit archiver started")
	if err := svc.Run(ctx); err != nil {
		logger.Error("audit archiver failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("audit archiver stopped")
}
