package catalog

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Refresher keeps the catalog warm by refreshing on a fixed interval, so
// interactive requests rarely pay the introspection cost themselves.
type Refresher struct {
	Catalog  *Catalog
	Interval time.Duration
	Logger   *slog.Logger
}

func (r *Refresher) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.Catalog.Refresh(ctx); err != nil {
			logger.ErrorContext(ctx, "catalog refresh cycle failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
