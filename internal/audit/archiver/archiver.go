// Package archiver copies finished audit events into parquet batches in
// object storage so the hot audit table stays small.
package archiver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dbchat/dbchat/internal/audit"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

const (
	defaultScope        = "audit"
	defaultBatchSize    = 500
	defaultPollInterval = time.Minute
)

// EventStore is the slice of the audit store the archiver reads and stamps.
type EventStore interface {
	ListUnarchived(ctx context.Context, limit int) ([]audit.Event, error)
	MarkArchived(ctx context.Context, ids []string, archivedAt time.Time) error
}

// Service drains unarchived audit events into parquet objects on a timer.
type Service struct {
	Events  EventStore
	Objects storage.ObjectStore

	// Scope is the top-level key prefix for archive objects.
	Scope        string
	BatchSize    int
	PollInterval time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
}

func (s *Service) ensureDefaults() {
	if s.Scope == "" {
		s.Scope = defaultScope
	}
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}

// Run drains the backlog immediately, then keeps draining on every tick
// until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Events == nil || s.Objects == nil {
		return fmt.Errorf("archiver requires an event store and an object store")
	}

	s.runCycle(ctx)

	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	archived, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Logger.ErrorContext(ctx, "audit archive cycle failed", slog.Any("error", err))
		return
	}
	if archived > 0 {
		s.Logger.InfoContext(ctx, "archived audit events", slog.Int("events", archived))
	}
}

// RunOnce archives all pending events in batches and returns how many were
// written. On failure the remaining events stay unarchived for the next
// cycle.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.ensureDefaults()

	archived := 0
	for seq := 0; ; seq++ {
		events, err := s.Events.ListUnarchived(ctx, s.BatchSize)
		if err != nil {
			return archived, fmt.Errorf("list unarchived events: %w", err)
		}
		if len(events) == 0 {
			return archived, nil
		}
		if err := s.archiveBatch(ctx, events, seq); err != nil {
			observability.ObserveAuditArchiveBatch("error", 0)
			return archived, err
		}
		observability.ObserveAuditArchiveBatch("ok", len(events))
		archived += len(events)
		if len(events) < s.BatchSize {
			return archived, nil
		}
	}
}

func (s *Service) archiveBatch(ctx context.Context, events []audit.Event, sequence int) error {
	payload, err := encodeArchive(events)
	if err != nil {
		return fmt.Errorf("encode archive batch: %w", err)
	}

	now := s.Clock().UTC()
	key, err := storage.BuildArchivePath(s.Scope, now, sequence)
	if err != nil {
		return fmt.Errorf("build archive key: %w", err)
	}
	if _, err := s.Objects.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return fmt.Errorf("upload archive %q: %w", key, err)
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.EventID)
	}
	// A failure after the upload re-archives the batch under a new key on
	// the next cycle: duplicates in the archive are possible, loss is not.
	if err := s.Events.MarkArchived(ctx, ids, now); err != nil {
		return fmt.Errorf("mark batch archived: %w", err)
	}
	return nil
}
