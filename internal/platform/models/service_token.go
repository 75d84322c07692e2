package models

// ServiceToken is a pre-shared token for scheduled and service-to-service
// triggers. Only the SHA-256 hash is stored.
type ServiceToken struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	Name        string   `json:"name"`
	TokenHash   string   `json:"-"`
	TokenPrefix string   `json:"token_prefix"`
	Scopes      []string `json:"scopes"`
	LastUsedAt  *int64   `json:"last_used_at,omitempty"`
	ExpiresAt   *int64   `json:"expires_at,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	RevokedAt   *int64   `json:"revoked_at,omitempty"`
}

func (t *ServiceToken) Usable(now int64) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && *t.ExpiresAt < now {
		return false
	}
	return true
}
