package storage

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpenCreatesDatabaseAndAppliesMigrations(t *testing.T) {
	dataDir := t.TempDir()
	store, dbPath, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	if dbPath != filepath.Join(dataDir, DefaultDBFileName) {
		t.Fatalf("unexpected db path: got %q", dbPath)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database file not created: %v", err)
	}

	var version int
	if err := store.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		t.Fatalf("read user_version: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("expected schema version %d, got %d", len(migrations), version)
	}

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", journalMode)
	}

	expectedTables := []string{
		"peers",
		"link_events",
		"commands",
	}
	for _, table := range expectedTables {
		var count int
		if err := store.db.QueryRow(
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name = ?",
			table,
		).Scan(&count); err != nil {
			t.Fatalf("check table %q: %v", table, err)
		}
		if count != 1 {
			t.Fatalf("expected table %q to exist", table)
		}
	}
}

func TestReopenKeepsSchemaVersion(t *testing.T) {
	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.UpsertPeer(Peer{PeerID: "P1", Name: "Desk", Address: "tcp://127.0.0.1:7000"}); err != nil {
		t.Fatalf("UpsertPeer failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	peer, err := reopened.GetPeer("P1")
	if err != nil {
		t.Fatalf("GetPeer after reopen failed: %v", err)
	}
	if peer.Name != "Desk" {
		t.Fatalf("expected peer name Desk, got %q", peer.Name)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestMaintainPrunesAndLogsFailures(t *testing.T) {
	var logs bytes.Buffer
	log.SetOutput(&logs)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	store, _, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	store.SetHistoryRetention(time.Hour)

	now := time.Now()
	if err := store.RecordLinkEvent(LinkEvent{FromState: "IDLE", ToState: "CONNECTING", Timestamp: now.Add(-2 * time.Hour).UnixMilli()}); err != nil {
		t.Fatalf("RecordLinkEvent old failed: %v", err)
	}
	if err := store.RecordLinkEvent(LinkEvent{FromState: "CONNECTING", ToState: "CONNECTED", Timestamp: now.UnixMilli()}); err != nil {
		t.Fatalf("RecordLinkEvent new failed: %v", err)
	}

	store.maintain(now)
	events, err := store.GetLinkEvents(LinkEventFilter{})
	if err != nil {
		t.Fatalf("GetLinkEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ToState != "CONNECTED" {
		t.Fatalf("expected only the recent event to remain, got %+v", events)
	}

	if err := store.db.Close(); err != nil {
		t.Fatalf("close underlying db: %v", err)
	}
	store.maintain(now)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	output := logs.String()
	if !strings.Contains(output, "storage: wal checkpoint failed") {
		t.Fatalf("expected checkpoint failure to be logged, got %q", output)
	}
	if !strings.Contains(output, "storage: prune history failed") {
		t.Fatalf("expected prune failure to be logged, got %q", output)
	}
}
