package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	WorkspaceID  string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]interface{}
}

// Sink receives one event per state-changing operation. Recording is
// fire-and-forget; the core's control flow never depends on it.
type Sink interface {
	Record(event Event)
}

type DBSink struct {
	db *sql.DB
}

func NewDBSink(db *sql.DB) *DBSink {
	return &DBSink{db: db}
}

func (s *DBSink) Record(event Event) {
	metaJSON, _ := json.Marshal(event.Metadata)
	id := "audit_" + uuid.New().String()
	createdAt := time.Now().Unix()

	go func() {
		s.db.Exec(`
			INSERT INTO audit_logs (id, workspace_id, actor_id, action, resource_type, resource_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, event.WorkspaceID, event.ActorID, event.Action, event.ResourceType, event.ResourceID, string(metaJSON), createdAt)
	}()
}

// NopSink discards events; used in tests and in contexts where the audit
// collaborator is not wired.
type NopSink struct{}

func (NopSink) Record(Event) {}
