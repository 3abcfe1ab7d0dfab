// Package catalog caches the target database schema as immutable snapshots.
// Readers always see a complete snapshot; refreshes build a replacement off
// to the side and publish it with a single atomic pointer swap.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dbchat/dbchat/internal/observability"
)

var (
	ErrNotFound    = errors.New("catalog: table not found")
	ErrUnavailable = errors.New("catalog: schema unavailable")
)

type ColumnInfo struct {
	Name       string
	DataType   string
	Nullable   bool
	PrimaryKey bool
}

type TableInfo struct {
	Name        string
	Columns     []ColumnInfo
	RowEstimate int64
}

// Column looks up a column by name, case-insensitively.
func (t TableInfo) Column(name string) (ColumnInfo, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return ColumnInfo{}, false
}

func (t TableInfo) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

// Snapshot is an immutable view of the schema at one refresh. All lookup
// methods are safe for concurrent use.
type Snapshot struct {
	Version     int64
	Fingerprint string
	SchemaName  string
	RefreshedAt time.Time

	tables []TableInfo
	byName map[string]int
}

// NewSnapshot builds a snapshot from introspected tables. Tables are sorted
// by name so listings and fingerprints are deterministic.
func NewSnapshot(schemaName string, tables []TableInfo) *Snapshot {
	ordered := make([]TableInfo, len(tables))
	copy(ordered, tables)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	byName := make(map[string]int, len(ordered))
	for i, table := range ordered {
		byName[strings.ToLower(table.Name)] = i
	}

	return &Snapshot{
		Fingerprint: fingerprint(ordered),
		SchemaName:  schemaName,
		RefreshedAt: time.Now().UTC(),
		tables:      ordered,
		byName:      byName,
	}
}

// Table looks up a table by exact name, case-insensitively.
func (s *Snapshot) Table(name string) (TableInfo, bool) {
	idx, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TableInfo{}, false
	}
	return s.tables[idx], true
}

func (s *Snapshot) Tables() []TableInfo {
	out := make([]TableInfo, len(s.tables))
	copy(out, s.tables)
	return out
}

func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, table := range s.tables {
		names = append(names, table.Name)
	}
	return names
}

func (s *Snapshot) TableCount() int {
	return len(s.tables)
}

func fingerprint(tables []TableInfo) string {
	h := sha256.New()
	for _, table := range tables {
		_, _ = io.WriteString(h, table.Name)
		for _, col := range table.Columns {
			_, _ = io.WriteString(h, "|"+col.Name+":"+col.DataType+":"+strconv.FormatBool(col.Nullable)+":"+strconv.FormatBool(col.PrimaryKey))
		}
		_, _ = io.WriteString(h, ";")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Introspector reads the live schema from a target database.
type Introspector interface {
	SchemaName() string
	Tables(ctx context.Context) ([]TableInfo, error)
}

type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Clock  func() time.Time
}

// Catalog serves schema snapshots with a TTL. A lapsed TTL triggers a
// single-flight refresh; when refresh fails and an older snapshot exists,
// the stale snapshot keeps serving and the failure is only logged.
type Catalog struct {
	intro  Introspector
	ttl    time.Duration
	logger *slog.Logger
	clock  func() time.Time

	current   atomic.Pointer[Snapshot]
	expiresAt atomic.Int64
	version   atomic.Int64
	refreshMu sync.Mutex
}

func New(intro Introspector, opts Options) *Catalog {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Catalog{intro: intro, ttl: ttl, logger: logger, clock: clock}
}

// Snapshot returns the current snapshot, refreshing first when none has been
// loaded yet or the TTL has lapsed.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil && !c.expired() {
		return snap, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if snap := c.current.Load(); snap != nil && !c.expired() {
		return snap, nil
	}

	snap, err := c.introspect(ctx)
	if err != nil {
		observability.ObserveCatalogRefresh("failed", -1, false)
		if prev := c.current.Load(); prev != nil {
			c.logger.WarnContext(ctx, "schema refresh failed, serving stale snapshot",
				slog.Int64("snapshot_version", prev.Version),
				slog.Any("error", err),
			)
			return prev, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.publish(ctx, snap)
	return snap, nil
}

// Refresh forces a refresh. Unlike Snapshot it reports failure even when a
// stale snapshot could have kept serving, so operators get a hard signal.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	snap, err := c.introspect(ctx)
	if err != nil {
		observability.ObserveCatalogRefresh("failed", -1, false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.publish(ctx, snap)
	return nil
}

// Invalidate drops freshness so the next Snapshot call refreshes.
func (c *Catalog) Invalidate() {
	c.expiresAt.Store(0)
}

func (c *Catalog) expired() bool {
	return c.clock().UnixNano() >= c.expiresAt.Load()
}

func (c *Catalog) introspect(ctx context.Context) (*Snapshot, error) {
	tables, err := c.intro.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	snap := NewSnapshot(c.intro.SchemaName(), tables)
	snap.Version = c.version.Add(1)
	snap.RefreshedAt = c.clock().UTC()
	return snap, nil
}

func (c *Catalog) publish(ctx context.Context, snap *Snapshot) {
	prev := c.current.Load()
	changed := prev != nil && prev.Fingerprint != snap.Fingerprint
	c.current.Store(snap)
	c.expiresAt.Store(c.clock().Add(c.ttl).UnixNano())
	observability.ObserveCatalogRefresh("ok", snap.TableCount(), changed)
	if changed {
		c.logger.InfoContext(ctx, "schema change detected",
			slog.Int64("snapshot_version", snap.Version),
			slog.Int("tables", snap.TableCount()),
		)
	}
}
