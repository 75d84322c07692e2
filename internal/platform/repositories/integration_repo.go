package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/platform/models"
)

type IntegrationRepository struct {
	db *sql.DB
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func (r *IntegrationRepository) Create(integration *models.ProviderIntegration) error {
	if integration.ID == "" {
		integration.ID = "int_" + uuid.New().String()
	}
	now := time.Now().Unix()
	integration.CreatedAt = now
	integration.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO provider_integrations (id, workspace_id, provider, encrypted_key, is_active, health_checked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, integration.ID, integration.WorkspaceID, integration.Provider, integration.EncryptedKey,
		integration.IsActive, integration.HealthChecked, integration.CreatedAt, integration.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *IntegrationRepository) List(workspaceID string) ([]*models.ProviderIntegration, error) {
	rows, err := r.db.Query(`
		SELECT id, workspace_id, provider, encrypted_key, is_active, health_checked, created_at, updated_at
		FROM provider_integrations WHERE workspace_id = ? ORDER BY provider ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*models.ProviderIntegration
	for rows.Next() {
		i := &models.ProviderIntegration{}
		if err := rows.Scan(&i.ID, &i.WorkspaceID, &i.Provider, &i.EncryptedKey, &i.IsActive,
			&i.HealthChecked, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, rows.Err()
}

func (r *IntegrationRepository) GetByID(workspaceID, id string) (*models.ProviderIntegration, error) {
	i := &models.ProviderIntegration{}
	err := r.db.QueryRow(`
		SELECT id, workspace_id, provider, encrypted_key, is_active, health_checked, created_at, updated_at
		FROM provider_integrations
		WHERE id = ? AND workspace_id = ?
	`, id, workspaceID).Scan(&i.ID, &i.WorkspaceID, &i.Provider, &i.EncryptedKey, &i.IsActive,
		&i.HealthChecked, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *IntegrationRepository) SetHealthChecked(workspaceID, id string, ok bool) error {
	_, err := r.db.Exec(`
		UPDATE provider_integrations SET health_checked = ?, updated_at = ?
		WHERE id = ? AND workspace_id = ?
	`, ok, time.Now().Unix(), id, workspaceID)
	return err
}

// ListActiveHealthy returns the integrations the reconciliation engine may
// pull from: active and with a passed credential health check.
func (r *IntegrationRepository) ListActiveHealthy(workspaceID string) ([]*models.ProviderIntegration, error) {
	rows, err := r.db.Query(`
		SELECT id, workspace_id, provider, encrypted_key, is_active, health_checked, created_at, updated_at
		FROM provider_integrations
		WHERE workspace_id = ? AND is_active = 1 AND health_checked = 1
		ORDER BY provider ASC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*models.ProviderIntegration
	for rows.Next() {
		i := &models.ProviderIntegration{}
		if err := rows.Scan(&i.ID, &i.WorkspaceID, &i.Provider, &i.EncryptedKey, &i.IsActive,
			&i.HealthChecked, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, rows.Err()
}
