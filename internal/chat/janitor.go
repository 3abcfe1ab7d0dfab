package chat

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Janitor sweeps idle sessions on an interval so abandoned conversations do
// not accumulate.
type Janitor struct {
	Sessions *SessionStore
	MaxIdle  time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

func (j *Janitor) Run(ctx context.Context) error {
	maxIdle := j.MaxIdle
	if maxIdle <= 0 {
		maxIdle = 30 * time.Minute
	}
	interval := j.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if evicted := j.Sessions.EvictIdle(maxIdle); evicted > 0 {
			logger.InfoContext(ctx, "evicted idle chat sessions", slog.Int("sessions", evicted))
		}
	}
}
