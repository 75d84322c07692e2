package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/platform/models"
)

type CaseRepository struct {
	db *sql.DB
}

func NewCaseRepository(db *sql.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `id, workspace_id, provider, provider_payment_id, status, severity, reason_code,
	first_detected_at, last_seen_at, grace_until, resolved_at, resolved_by, resolved_note, created_at, updated_at`

func scanCase(row interface{ Scan(...interface{}) error }) (*models.ReconciliationCase, error) {
	c := &models.ReconciliationCase{}
	var resolvedBy, resolvedNote sql.NullString
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Provider, &c.ProviderPaymentID, &c.Status, &c.Severity,
		&c.ReasonCode, &c.FirstDetectedAt, &c.LastSeenAt, &c.GraceUntil, &c.ResolvedAt,
		&resolvedBy, &resolvedNote, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		c.ResolvedBy = resolvedBy.String
	}
	if resolvedNote.Valid {
		c.ResolvedNote = resolvedNote.String
	}
	return c, nil
}

func (r *CaseRepository) Create(c *models.ReconciliationCase) error {
	if c.ID == "" {
		c.ID = "case_" + uuid.New().String()
	}
	now := time.Now().Unix()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO reconciliation_cases (id, workspace_id, provider, provider_payment_id, status, severity,
			reason_code, first_detected_at, last_seen_at, grace_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.WorkspaceID, c.Provider, c.ProviderPaymentID, c.Status, c.Severity, c.ReasonCode,
		c.FirstDetectedAt, c.LastSeenAt, c.GraceUntil, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *CaseRepository) GetByID(workspaceID, id string) (*models.ReconciliationCase, error) {
	row := r.db.QueryRow(`SELECT `+caseColumns+` FROM reconciliation_cases WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// GetByDetection looks up the case keyed by what the engine detected.
func (r *CaseRepository) GetByDetection(workspaceID, provider, providerPaymentID, reasonCode string) (*models.ReconciliationCase, error) {
	row := r.db.QueryRow(`
		SELECT `+caseColumns+` FROM reconciliation_cases
		WHERE workspace_id = ? AND provider = ? AND provider_payment_id = ? AND reason_code = ?
	`, workspaceID, provider, providerPaymentID, reasonCode)
	c, err := scanCase(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *CaseRepository) List(workspaceID, status string) ([]*models.ReconciliationCase, error) {
	query := `SELECT ` + caseColumns + ` FROM reconciliation_cases WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY last_seen_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.ReconciliationCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListUnresolved returns open and pending cases for one provider; the engine
// walks these after a run to auto-resolve ids that reconciled.
func (r *CaseRepository) ListUnresolved(workspaceID, provider string) ([]*models.ReconciliationCase, error) {
	rows, err := r.db.Query(`
		SELECT `+caseColumns+` FROM reconciliation_cases
		WHERE workspace_id = ? AND provider = ? AND status IN ('open', 'pending')
	`, workspaceID, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*models.ReconciliationCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// Refresh bumps last_seen_at on repeated detection and re-opens a pending
// case.
func (r *CaseRepository) Refresh(id string, lastSeenAt int64) error {
	_, err := r.db.Exec(`
		UPDATE reconciliation_cases
		SET last_seen_at = ?, status = CASE WHEN status = 'pending' THEN 'open' ELSE status END, updated_at = ?
		WHERE id = ?
	`, lastSeenAt, time.Now().Unix(), id)
	return err
}

// Reopen returns a resolved case to open when a later run detects the same id
// again.
func (r *CaseRepository) Reopen(id string, lastSeenAt int64) error {
	_, err := r.db.Exec(`
		UPDATE reconciliation_cases
		SET status = 'open', last_seen_at = ?, resolved_at = NULL, resolved_by = NULL, resolved_note = NULL, updated_at = ?
		WHERE id = ?
	`, lastSeenAt, time.Now().Unix(), id)
	return err
}

func (r *CaseRepository) Resolve(id, resolvedBy, note string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE reconciliation_cases
		SET status = 'resolved', resolved_at = ?, resolved_by = ?, resolved_note = ?, updated_at = ?
		WHERE id = ?
	`, now, resolvedBy, note, now, id)
	return err
}

func (r *CaseRepository) AutoResolve(id string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE reconciliation_cases
		SET status = 'resolved', resolved_at = ?, resolved_by = 'system', updated_at = ?
		WHERE id = ? AND status IN ('open', 'pending')
	`, now, now, id)
	return err
}

func (r *CaseRepository) AppendEvent(event *models.CaseEvent) error {
	if event.ID == "" {
		event.ID = "cev_" + uuid.New().String()
	}
	event.CreatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO case_events (id, case_id, event_type, details, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.CaseID, event.EventType, event.Details, event.ActorID, event.CreatedAt)
	return err
}

func (r *CaseRepository) ListEvents(caseID string) ([]*models.CaseEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, case_id, event_type, details, actor_id, created_at
		FROM case_events WHERE case_id = ? ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.CaseEvent
	for rows.Next() {
		e := &models.CaseEvent{}
		if err := rows.Scan(&e.ID, &e.CaseID, &e.EventType, &e.Details, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
