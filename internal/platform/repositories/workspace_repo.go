package repositories

import (
	"database/sql"

	"lanceiq/internal/platform/models"
)

type WorkspaceRepository struct {
	db *sql.DB
}

func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) GetByID(id string) (*models.Workspace, error) {
	ws := &models.Workspace{}
	var signingKeyID sql.NullString
	err := r.db.QueryRow(`
		SELECT id, slug, name, plan_tier, forwarding_quota, signing_key_id, created_at, updated_at, deleted_at
		FROM workspaces WHERE id = ?
	`, id).Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.PlanTier, &ws.ForwardingQuota, &signingKeyID, &ws.CreatedAt, &ws.UpdatedAt, &ws.DeletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if signingKeyID.Valid {
		ws.SigningKeyID = signingKeyID.String
	}
	return ws, nil
}

// ListActiveIDs returns workspaces eligible for scheduled batch runs.
func (r *WorkspaceRepository) ListActiveIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM workspaces WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
