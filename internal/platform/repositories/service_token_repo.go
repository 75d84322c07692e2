package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"lanceiq/internal/platform/models"
)

type ServiceTokenRepository struct {
	db *sql.DB
}

func NewServiceTokenRepository(db *sql.DB) *ServiceTokenRepository {
	return &ServiceTokenRepository{db: db}
}

// GetByHash looks up a presented token by its SHA-256 hash.
func (r *ServiceTokenRepository) GetByHash(tokenHash string) (*models.ServiceToken, error) {
	t := &models.ServiceToken{}
	var scopesJSON string
	err := r.db.QueryRow(`
		SELECT id, workspace_id, name, token_hash, token_prefix, scopes, last_used_at, expires_at, created_at, revoked_at
		FROM service_tokens WHERE token_hash = ?
	`, tokenHash).Scan(&t.ID, &t.WorkspaceID, &t.Name, &t.TokenHash, &t.TokenPrefix,
		&scopesJSON, &t.LastUsedAt, &t.ExpiresAt, &t.CreatedAt, &t.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal([]byte(scopesJSON), &t.Scopes)
	return t, nil
}

func (r *ServiceTokenRepository) TouchLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE service_tokens SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
