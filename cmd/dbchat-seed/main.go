package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbchat/dbchat/internal/db"
	"github.com/dbchat/dbchat/internal/demo/seed"
)

func main() {
	cfg, err := seed.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, db.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		logger.Error("failed to open target database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	seeder, err := seed.NewSeeder(cfg, database, logger)
	if err != nil {
		logger.Error("failed to initialize seeder", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info(
		"seeding demo data",
		slog.String("driver", cfg.Driver),
		slog.Int("products", cfg.Products),
		slog.Int("customers", cfg.Customers),
		slog.Int("orders", cfg.Orders),
		slog.Bool("reset", cfg.Reset),
	)
	if err := seeder.Run(ctx); err != nil {
		logger.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
}
