package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	events := []Event{
		{SessionID: "s1", Type: EventSessionUp},
		{SessionID: "s1", Type: EventStart, Service: "minio", PID: 100},
		{SessionID: "s1", Type: EventReady, Service: "minio", PID: 100},
		{SessionID: "s1", Type: EventFailed, Service: "titiler", Detail: "readiness timed out"},
		{SessionID: "s1", Type: EventSessionDown, Detail: "exit=1"},
	}
	for _, e := range events {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("record %v: %v", e.Type, err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	// Newest first.
	if got[0].Type != EventSessionDown || got[len(got)-1].Type != EventSessionUp {
		t.Fatalf("ordering wrong: first=%v last=%v", got[0].Type, got[len(got)-1].Type)
	}
	for _, e := range got {
		if e.OccurredAt.IsZero() {
			t.Fatalf("missing timestamp on %v", e.Type)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		if err := s.Record(ctx, Event{SessionID: "s", Type: EventStart, Service: "app", OccurredAt: time.Now()}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	got, err := s.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	if _, err := OpenSQLite("  "); err == nil {
		t.Fatalf("empty path must fail")
	}
}
