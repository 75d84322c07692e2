package repositories

import (
	"database/sql"
	"time"

	"lanceiq/internal/platform/models"
)

type NonceRepository struct {
	db *sql.DB
}

func NewNonceRepository(db *sql.DB) *NonceRepository {
	return &NonceRepository{db: db}
}

// Register inserts a replay nonce. The primary key on
// (workspace_id, target_id, nonce) makes the insert the replay check itself:
// ErrDuplicate means the nonce was seen before. Any other failure must be
// treated as fail-closed by the caller.
func (r *NonceRepository) Register(n *models.DeliveryReplayNonce) error {
	_, err := r.db.Exec(`
		INSERT INTO delivery_replay_nonces (workspace_id, target_id, nonce, request_ts, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.WorkspaceID, n.TargetID, n.Nonce, n.RequestTS, n.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// PurgeExpired deletes rows past their TTL. Called opportunistically; replay
// windows stay correct even if this lags because verification already bounds
// timestamps to the skew window.
func (r *NonceRepository) PurgeExpired() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM delivery_replay_nonces WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
