package repositories

import (
	"database/sql"
	"time"

	"lanceiq/internal/platform/models"
)

// BreakerRepository persists per-(workspace, target) breaker rows. Concurrent
// updates are arbitrated by the store's upsert, not by in-process locks.
type BreakerRepository struct {
	db *sql.DB
}

func NewBreakerRepository(db *sql.DB) *BreakerRepository {
	return &BreakerRepository{db: db}
}

func (r *BreakerRepository) Get(workspaceID, targetID string) (*models.CircuitBreakerState, error) {
	b := &models.CircuitBreakerState{}
	err := r.db.QueryRow(`
		SELECT workspace_id, target_id, state, consecutive_failures, opened_at, last_checked_at, updated_at
		FROM circuit_breakers WHERE workspace_id = ? AND target_id = ?
	`, workspaceID, targetID).Scan(&b.WorkspaceID, &b.TargetID, &b.State, &b.ConsecutiveFailures,
		&b.OpenedAt, &b.LastCheckedAt, &b.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// IncrementFailures creates the row lazily on first failure and bumps the
// consecutive counter atomically, returning the post-increment count.
func (r *BreakerRepository) IncrementFailures(workspaceID, targetID string) (int, error) {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO circuit_breakers (workspace_id, target_id, state, consecutive_failures, updated_at)
		VALUES (?, ?, 'closed', 1, ?)
		ON CONFLICT (workspace_id, target_id)
		DO UPDATE SET consecutive_failures = consecutive_failures + 1, updated_at = ?
	`, workspaceID, targetID, now, now)
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.QueryRow(`
		SELECT consecutive_failures FROM circuit_breakers WHERE workspace_id = ? AND target_id = ?
	`, workspaceID, targetID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *BreakerRepository) SetState(workspaceID, targetID, state string, openedAt *int64) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO circuit_breakers (workspace_id, target_id, state, consecutive_failures, opened_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (workspace_id, target_id)
		DO UPDATE SET state = ?, opened_at = ?, updated_at = ?
	`, workspaceID, targetID, state, nullableInt64(openedAt), now, state, nullableInt64(openedAt), now)
	return err
}

// Reset returns the breaker to closed with a zero failure count.
func (r *BreakerRepository) Reset(workspaceID, targetID string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO circuit_breakers (workspace_id, target_id, state, consecutive_failures, updated_at)
		VALUES (?, ?, 'closed', 0, ?)
		ON CONFLICT (workspace_id, target_id)
		DO UPDATE SET state = 'closed', consecutive_failures = 0, opened_at = NULL, updated_at = ?
	`, workspaceID, targetID, now, now)
	return err
}

// ListOpen returns breakers currently open or half open for a workspace; the
// health-check sweep walks these.
func (r *BreakerRepository) ListOpen(workspaceID string) ([]*models.CircuitBreakerState, error) {
	rows, err := r.db.Query(`
		SELECT workspace_id, target_id, state, consecutive_failures, opened_at, last_checked_at, updated_at
		FROM circuit_breakers WHERE workspace_id = ? AND state IN ('open', 'half_open')
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakers []*models.CircuitBreakerState
	for rows.Next() {
		b := &models.CircuitBreakerState{}
		if err := rows.Scan(&b.WorkspaceID, &b.TargetID, &b.State, &b.ConsecutiveFailures,
			&b.OpenedAt, &b.LastCheckedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		breakers = append(breakers, b)
	}
	return breakers, rows.Err()
}

func (r *BreakerRepository) TouchLastChecked(workspaceID, targetID string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE circuit_breakers SET last_checked_at = ?, updated_at = ? WHERE workspace_id = ? AND target_id = ?
	`, now, now, workspaceID, targetID)
	return err
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
