package repositories

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupEventDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE ingested_events (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		raw_body BLOB,
		headers TEXT NOT NULL DEFAULT '{}',
		content_type TEXT NOT NULL DEFAULT '',
		detected_provider TEXT NOT NULL DEFAULT '',
		provider_event_id TEXT NOT NULL DEFAULT '',
		signature_status TEXT NOT NULL DEFAULT 'skipped',
		received_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func insertEvent(t *testing.T, db *sql.DB, id, provider, providerEventID string, receivedAt int64) {
	_, err := db.Exec(`
		INSERT INTO ingested_events (id, workspace_id, detected_provider, provider_event_id, signature_status, received_at)
		VALUES (?, 'ws_1', ?, ?, 'verified', ?)
	`, id, provider, providerEventID, receivedAt)
	if err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}
}

func TestIngestedEventRepository_ListByProviderWindow(t *testing.T) {
	db := setupEventDB(t)
	repo := NewIngestedEventRepository(db)

	since := int64(1000)
	until := int64(2000)

	insertEvent(t, db, "evt_at_since", "stripe", "pi_1", since)
	insertEvent(t, db, "evt_mid", "stripe", "pi_2", 1500)
	insertEvent(t, db, "evt_at_until", "stripe", "pi_3", until)
	insertEvent(t, db, "evt_after", "stripe", "pi_4", until+1)
	insertEvent(t, db, "evt_before", "stripe", "pi_5", since-1)
	insertEvent(t, db, "evt_other_provider", "github", "dl_1", 1500)

	events, err := repo.ListByProviderWindow("ws_1", "stripe", since, until)
	if err != nil {
		t.Fatalf("ListByProviderWindow failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events inside the window, got %d", len(events))
	}

	got := map[string]bool{}
	for _, e := range events {
		got[e.ID] = true
	}
	// Both window edges are inclusive; the provider pull uses gte/lte so an
	// event landing exactly on the boundary must not come back as missing.
	for _, id := range []string{"evt_at_since", "evt_mid", "evt_at_until"} {
		if !got[id] {
			t.Errorf("expected %s in window, got %v", id, got)
		}
	}
	if got["evt_after"] || got["evt_before"] || got["evt_other_provider"] {
		t.Errorf("unexpected event in window: %v", got)
	}
}
