package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func objectExists(t *testing.T, s *Store, kind, name string) bool {
	t.Helper()
	var n int
	err := s.db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master for %s %q failed: %v", kind, name, err)
	}
	return n == 1
}

func TestOpenBuildsSchema(t *testing.T) {
	dir := t.TempDir()
	store, dbPath, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if dbPath != filepath.Join(dir, DefaultDBFileName) {
		t.Fatalf("unexpected db path %q", dbPath)
	}
	version, err := store.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != len(schema) {
		t.Fatalf("expected schema version %d, got %d", len(schema), version)
	}

	for _, table := range []string{"blacklist", "enforcement_events"} {
		if !objectExists(t, store, "table", table) {
			t.Fatalf("missing table %q", table)
		}
	}
	for _, index := range []string{"idx_enforcement_events_time", "idx_enforcement_events_mac"} {
		if !objectExists(t, store, "index", index) {
			t.Fatalf("missing index %q", index)
		}
	}

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("read journal mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal, got %q", mode)
	}
}

func TestReopenKeepsSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	first, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	second, err := OpenPath(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })

	version, err := second.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != len(schema) {
		t.Fatalf("expected schema version %d after reopen, got %d", len(schema), version)
	}
}

func TestMaintainPrunesExpiredEvents(t *testing.T) {
	store := newTestStore(t)
	store.SetEventRetention(time.Hour)

	old := time.Now().Add(-2 * time.Hour).UnixMilli()
	if _, err := store.db.Exec(`INSERT INTO enforcement_events
		(id, cycle_id, mac, ip, action, outcome, detail, timestamp)
		VALUES ('old', 'c1', 'AA:BB:CC:DD:EE:01', NULL, 'block', 'ok', '', ?)`, old); err != nil {
		t.Fatalf("insert old event failed: %v", err)
	}

	store.maintain()

	if _, err := store.GetEvent("old"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected old event pruned, got %v", err)
	}
	events, err := store.GetEvents(EventFilter{MAC: "AA:BB:CC:DD:EE:01"})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}

func TestSetEventRetentionWhileMaintaining(t *testing.T) {
	store := newTestStore(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			store.maintain()
		}
	}()
	for i := 1; i <= 20; i++ {
		store.SetEventRetention(time.Duration(i) * time.Hour)
	}
	<-done

	if got := store.retention(); got != 20*time.Hour {
		t.Fatalf("expected retention 20h, got %s", got)
	}
	store.SetEventRetention(0)
	if got := store.retention(); got != DefaultEventRetention {
		t.Fatalf("expected default retention after reset, got %s", got)
	}
}
