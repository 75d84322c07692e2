package repositories

import (
	"database/sql"
	"encoding/json"

	"lanceiq/internal/platform/models"
)

// IngestedEventRepository is read-only: events are created by the ingestion
// pipeline and raw bodies are nulled by the retention collaborator. The
// delivery core only ever reads them.
type IngestedEventRepository struct {
	db *sql.DB
}

func NewIngestedEventRepository(db *sql.DB) *IngestedEventRepository {
	return &IngestedEventRepository{db: db}
}

const eventColumns = `id, workspace_id, raw_body, headers, content_type, detected_provider, provider_event_id, signature_status, received_at`

func scanEvent(row interface{ Scan(...interface{}) error }) (*models.IngestedEvent, error) {
	e := &models.IngestedEvent{}
	var rawBody []byte
	var headersStr string
	err := row.Scan(&e.ID, &e.WorkspaceID, &rawBody, &headersStr, &e.ContentType,
		&e.DetectedProvider, &e.ProviderEventID, &e.SignatureStatus, &e.ReceivedAt)
	if err != nil {
		return nil, err
	}
	e.RawBody = rawBody
	json.Unmarshal([]byte(headersStr), &e.Headers)
	return e, nil
}

func (r *IngestedEventRepository) GetByID(workspaceID, id string) (*models.IngestedEvent, error) {
	row := r.db.QueryRow(`
		SELECT `+eventColumns+` FROM ingested_events WHERE workspace_id = ? AND id = ?
	`, workspaceID, id)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// GetLatestByProviderEventID returns the most recent receipt for a provider
// event id; replays from reconciliation cases go through this.
func (r *IngestedEventRepository) GetLatestByProviderEventID(workspaceID, provider, providerEventID string) (*models.IngestedEvent, error) {
	row := r.db.QueryRow(`
		SELECT `+eventColumns+` FROM ingested_events
		WHERE workspace_id = ? AND detected_provider = ? AND provider_event_id = ?
		ORDER BY received_at DESC LIMIT 1
	`, workspaceID, provider, providerEventID)

	e, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByProviderWindow returns receipts for one provider inside the
// reconciliation window. Both bounds are inclusive, matching the provider
// pull query. Raw bodies are not loaded here; diffing only needs ids and
// signature status.
func (r *IngestedEventRepository) ListByProviderWindow(workspaceID, provider string, since, until int64) ([]*models.IngestedEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, workspace_id, detected_provider, provider_event_id, signature_status, received_at
		FROM ingested_events
		WHERE workspace_id = ? AND detected_provider = ? AND received_at >= ? AND received_at <= ?
	`, workspaceID, provider, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.IngestedEvent
	for rows.Next() {
		e := &models.IngestedEvent{}
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.DetectedProvider, &e.ProviderEventID, &e.SignatureStatus, &e.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
