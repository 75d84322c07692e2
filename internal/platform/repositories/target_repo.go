package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/platform/models"
)

type TargetRepository struct {
	db *sql.DB
}

func NewTargetRepository(db *sql.DB) *TargetRepository {
	return &TargetRepository{db: db}
}

func (r *TargetRepository) Create(target *models.DeliveryTarget) error {
	if target.ID == "" {
		target.ID = "tgt_" + uuid.New().String()
	}
	target.CreatedAt = time.Now().Unix()
	target.UpdatedAt = target.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO delivery_targets (id, workspace_id, url, secret, label, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, target.ID, target.WorkspaceID, target.URL, target.Secret, target.Label, target.IsActive, target.CreatedAt, target.UpdatedAt)
	return err
}

func (r *TargetRepository) GetByID(workspaceID, id string) (*models.DeliveryTarget, error) {
	t := &models.DeliveryTarget{}
	err := r.db.QueryRow(`
		SELECT id, workspace_id, url, secret, label, is_active, created_at, updated_at
		FROM delivery_targets WHERE workspace_id = ? AND id = ?
	`, workspaceID, id).Scan(&t.ID, &t.WorkspaceID, &t.URL, &t.Secret, &t.Label, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TargetRepository) List(workspaceID string) ([]*models.DeliveryTarget, error) {
	return r.list(`SELECT id, workspace_id, url, secret, label, is_active, created_at, updated_at
		FROM delivery_targets WHERE workspace_id = ? ORDER BY created_at DESC`, workspaceID)
}

// ListActive returns only is_active targets; enqueue fans out over these.
func (r *TargetRepository) ListActive(workspaceID string) ([]*models.DeliveryTarget, error) {
	return r.list(`SELECT id, workspace_id, url, secret, label, is_active, created_at, updated_at
		FROM delivery_targets WHERE workspace_id = ? AND is_active = 1 ORDER BY created_at ASC`, workspaceID)
}

func (r *TargetRepository) list(query string, args ...interface{}) ([]*models.DeliveryTarget, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []*models.DeliveryTarget
	for rows.Next() {
		t := &models.DeliveryTarget{}
		if err := rows.Scan(&t.ID, &t.WorkspaceID, &t.URL, &t.Secret, &t.Label, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *TargetRepository) Update(target *models.DeliveryTarget) error {
	target.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE delivery_targets SET url = ?, secret = ?, label = ?, is_active = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?
	`, target.URL, target.Secret, target.Label, target.IsActive, target.UpdatedAt, target.WorkspaceID, target.ID)
	return err
}

func (r *TargetRepository) Deactivate(workspaceID, id string) error {
	_, err := r.db.Exec(`
		UPDATE delivery_targets SET is_active = 0, updated_at = ? WHERE workspace_id = ? AND id = ?
	`, time.Now().Unix(), workspaceID, id)
	return err
}
