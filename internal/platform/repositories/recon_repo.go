package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/platform/models"
)

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(run *models.ReconciliationRun) error {
	if run.ID == "" {
		run.ID = "run_" + uuid.New().String()
	}
	run.Status = models.RunStatusRunning
	run.StartedAt = time.Now().Unix()

	_, err := r.db.Exec(`
		INSERT INTO reconciliation_runs (id, workspace_id, batch_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.WorkspaceID, run.BatchID, run.Status, run.StartedAt)
	return err
}

// Finalize writes the terminal status and the report exactly once; the status
// guard refuses a second finalization.
func (r *RunRepository) Finalize(id, status string, itemsProcessed, discrepancies int, reportJSON []byte) error {
	now := time.Now().Unix()
	res, err := r.db.Exec(`
		UPDATE reconciliation_runs
		SET status = ?, completed_at = ?, items_processed = ?, discrepancies_found = ?, report_json = ?
		WHERE id = ? AND status = 'running'
	`, status, now, itemsProcessed, discrepancies, string(reportJSON), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *RunRepository) GetByID(workspaceID, id string) (*models.ReconciliationRun, error) {
	run := &models.ReconciliationRun{}
	var reportJSON sql.NullString
	err := r.db.QueryRow(`
		SELECT id, workspace_id, batch_id, status, started_at, completed_at, items_processed, discrepancies_found, report_json
		FROM reconciliation_runs WHERE workspace_id = ? AND id = ?
	`, workspaceID, id).Scan(&run.ID, &run.WorkspaceID, &run.BatchID, &run.Status, &run.StartedAt,
		&run.CompletedAt, &run.ItemsProcessed, &run.DiscrepanciesFound, &reportJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if reportJSON.Valid {
		run.ReportJSON = []byte(reportJSON.String)
	}
	return run, nil
}

type ProviderObjectRepository struct {
	db *sql.DB
}

func NewProviderObjectRepository(db *sql.DB) *ProviderObjectRepository {
	return &ProviderObjectRepository{db: db}
}

// Upsert caches a provider-side snapshot. Re-running a reconciliation window
// rewrites the same rows, which keeps re-runs idempotent.
func (r *ProviderObjectRepository) Upsert(obj *models.ProviderObject) error {
	_, err := r.db.Exec(`
		INSERT INTO provider_objects (workspace_id, provider, provider_event_id, raw_snapshot, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id, provider, provider_event_id)
		DO UPDATE SET raw_snapshot = ?, last_seen_at = ?
	`, obj.WorkspaceID, obj.Provider, obj.ProviderEventID, string(obj.RawSnapshot), obj.LastSeenAt,
		string(obj.RawSnapshot), obj.LastSeenAt)
	return err
}
