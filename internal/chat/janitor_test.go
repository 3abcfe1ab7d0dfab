package chat

import (
	"context"
	"testing"
	"time"
)

func TestJanitorStopsOnContextCancel(t *testing.T) {
	j := &Janitor{Sessions: NewSessionStore(), Interval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestJanitorEvictsIdleSessions(t *testing.T) {
	store := NewSessionStore()
	base := time.Now()
	store.clock = func() time.Time { return base.Add(-time.Hour) }
	store.Get("a")
	store.Get("b")
	store.clock = func() time.Time { return base }

	j := &Janitor{Sessions: store, MaxIdle: 30 * time.Minute, Interval: 2 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.Len() > 0 {
		select {
		case <-deadline:
			t.Fatalf("sessions still present after sweep, Len() = %d", store.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
