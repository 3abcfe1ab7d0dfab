package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSnapshotLookupAndOrdering(t *testing.T) {
	snap := NewSnapshot("public", []TableInfo{
		{Name: "orders", Columns: []ColumnInfo{{Name: "id", DataType: "bigint", PrimaryKey: true}}},
		{Name: "customers", Columns: []ColumnInfo{{Name: "id", DataType: "bigint", PrimaryKey: true}, {Name: "email", DataType: "text", Nullable: true}}},
	})

	names := snap.TableNames()
	if len(names) != 2 || names[0] != "customers" || names[1] != "orders" {
		t.Fatalf("TableNames() = %v", names)
	}

	table, ok := snap.Table("Customers")
	if !ok {
		t.Fatal("Table(Customers) not found")
	}
	if _, ok := table.Column("EMAIL"); !ok {
		t.Fatal("Column(EMAIL) not found")
	}
	if _, ok := snap.Table("ghosts"); ok {
		t.Fatal("Table(ghosts) should not resolve")
	}
}

func TestSnapshotFingerprintTracksSchemaShape(t *testing.T) {
	a := NewSnapshot("public", []TableInfo{{Name: "orders", Columns: []ColumnInfo{{Name: "id", DataType: "bigint"}}}})
	b := NewSnapshot("public", []TableInfo{{Name: "orders", Columns: []ColumnInfo{{Name: "id", DataType: "bigint"}}}})
	c := NewSnapshot("public", []TableInfo{{Name: "orders", Columns: []ColumnInfo{{Name: "id", DataType: "text"}}}})

	if a.Fingerprint != b.Fingerprint {
		t.Fatal("identical schemas should share a fingerprint")
	}
	if a.Fingerprint == c.Fingerprint {
		t.Fatal("changed column type should change the fingerprint")
	}
}

func TestCatalogFirstLoadFailureIsUnavailable(t *testing.T) {
	intro := &fakeIntrospector{err: errors.New("connection refused")}
	cat := New(intro, Options{})

	_, err := cat.Snapshot(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Snapshot() error = %v, want ErrUnavailable", err)
	}
}

func TestCatalogServesCachedSnapshotWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{TTL: time.Minute, Clock: func() time.Time { return now }})

	first, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	second, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if first != second {
		t.Fatal("expected the cached snapshot within TTL")
	}
	if intro.calls != 1 {
		t.Fatalf("introspector calls = %d, want 1", intro.calls)
	}
}

func TestCatalogRefreshesAfterTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{TTL: time.Minute, Clock: func() time.Time { return now }})

	first, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	second, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if second == first {
		t.Fatal("expected a new snapshot after TTL expiry")
	}
	if second.Version <= first.Version {
		t.Fatalf("Version = %d, want > %d", second.Version, first.Version)
	}
}

func TestCatalogServesStaleSnapshotWhenRefreshFails(t *testing.T) {
	now := time.Unix(1000, 0)
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{TTL: time.Minute, Clock: func() time.Time { return now }})

	first, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	intro.err = errors.New("connection reset")
	now = now.Add(2 * time.Minute)
	second, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if second != first {
		t.Fatal("expected the stale snapshot while refresh fails")
	}
}

func TestCatalogForcedRefreshReportsFailure(t *testing.T) {
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{})
	if _, err := cat.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	intro.err = errors.New("connection reset")
	if err := cat.Refresh(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Refresh() error = %v, want ErrUnavailable", err)
	}
}

func TestCatalogInvalidateForcesRefresh(t *testing.T) {
	now := time.Unix(1000, 0)
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{TTL: time.Hour, Clock: func() time.Time { return now }})

	if _, err := cat.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	cat.Invalidate()
	if _, err := cat.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if intro.calls != 2 {
		t.Fatalf("introspector calls = %d, want 2", intro.calls)
	}
}

func TestCatalogOldSnapshotStaysUsableAcrossRefresh(t *testing.T) {
	now := time.Unix(1000, 0)
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{TTL: time.Minute, Clock: func() time.Time { return now }})

	pinned, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	intro.tables = []TableInfo{{Name: "customers"}}
	if err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if _, ok := pinned.Table("orders"); !ok {
		t.Fatal("pinned snapshot lost its table after refresh")
	}
	fresh, err := cat.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := fresh.Table("customers"); !ok {
		t.Fatal("fresh snapshot missing the new table")
	}
}

func TestRefresherRunStopsOnContextCancel(t *testing.T) {
	intro := &fakeIntrospector{tables: []TableInfo{{Name: "orders"}}}
	cat := New(intro, Options{})
	refresher := &Refresher{Catalog: cat, Interval: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if intro.calls == 0 {
		t.Fatal("expected at least one refresh cycle")
	}
}

type fakeIntrospector struct {
	tables []TableInfo
	err    error
	calls  int
}

func (f *fakeIntrospector) SchemaName() string { return "public" }

func (f *fakeIntrospector) Tables(context.Context) ([]TableInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, fmt.Errorf("query schema: %w", f.err)
	}
	return f.tables, nil
}
