package repositories

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/platform/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, workspace_id, target_id, event_type, payload, idempotency_key, status, priority,
	ingested_event_id, trigger_source, created_by, attempt_count, max_attempts, next_attempt_at,
	last_error, last_http_status, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.DeliveryJob, error) {
	j := &models.DeliveryJob{}
	var ingestedEventID, lastError sql.NullString
	var nextAttemptAt, lastHTTPStatus sql.NullInt64

	err := row.Scan(&j.ID, &j.WorkspaceID, &j.TargetID, &j.EventType, &j.Payload, &j.IdempotencyKey,
		&j.Status, &j.Priority, &ingestedEventID, &j.TriggerSource, &j.CreatedBy, &j.AttemptCount,
		&j.MaxAttempts, &nextAttemptAt, &lastError, &lastHTTPStatus, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if ingestedEventID.Valid {
		j.IngestedEventID = ingestedEventID.String
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}
	if nextAttemptAt.Valid {
		v := nextAttemptAt.Int64
		j.NextAttemptAt = &v
	}
	if lastHTTPStatus.Valid {
		v := int(lastHTTPStatus.Int64)
		j.LastHTTPStatus = &v
	}
	return j, nil
}

// Insert creates a job row. A uniqueness violation on
// (workspace_id, idempotency_key) comes back as ErrDuplicate; job creation
// never mutates an existing row with the same key.
func (r *JobRepository) Insert(job *models.DeliveryJob) error {
	if job.ID == "" {
		job.ID = "job_" + uuid.New().String()
	}
	now := time.Now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	var ingestedEventID interface{}
	if job.IngestedEventID != "" {
		ingestedEventID = job.IngestedEventID
	}

	_, err := r.db.Exec(`
		INSERT INTO delivery_jobs (id, workspace_id, target_id, event_type, payload, idempotency_key,
			status, priority, ingested_event_id, trigger_source, created_by, attempt_count, max_attempts,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, job.ID, job.WorkspaceID, job.TargetID, job.EventType, job.Payload, job.IdempotencyKey,
		job.Status, job.Priority, ingestedEventID, job.TriggerSource, job.CreatedBy, job.MaxAttempts,
		job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *JobRepository) GetByID(workspaceID, id string) (*models.DeliveryJob, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM delivery_jobs WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) GetByIdempotencyKey(workspaceID, key string) (*models.DeliveryJob, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM delivery_jobs WHERE workspace_id = ? AND idempotency_key = ?`, workspaceID, key)
	j, err := scanJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return j, nil
}

// ListDue selects pending jobs whose backoff has elapsed, highest priority
// first, oldest first within a priority. The limit keeps worker invocations
// short-lived.
func (r *JobRepository) ListDue(workspaceID string, limit int, now int64) ([]*models.DeliveryJob, error) {
	rows, err := r.db.Query(`
		SELECT `+jobColumns+` FROM delivery_jobs
		WHERE workspace_id = ? AND status = 'pending'
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT ?
	`, workspaceID, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.DeliveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Claim transitions pending -> in_progress. The status guard in the WHERE
// clause makes the claim atomic: of two concurrent invocations, exactly one
// sees a row affected.
func (r *JobRepository) Claim(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE delivery_jobs SET status = 'in_progress', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, time.Now().Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStale returns in_progress jobs whose claim is older than cutoff to
// pending. A worker that died mid-batch leaves its claims behind; the next
// run reclaims them before selecting due work.
func (r *JobRepository) ReleaseStale(workspaceID string, cutoff int64) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE delivery_jobs SET status = 'pending', updated_at = ?
		WHERE workspace_id = ? AND status = 'in_progress' AND updated_at < ?
	`, time.Now().Unix(), workspaceID, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *JobRepository) MarkSucceeded(id string, attemptCount int, httpStatus int) error {
	_, err := r.db.Exec(`
		UPDATE delivery_jobs SET status = 'succeeded', attempt_count = ?, last_http_status = ?,
			last_error = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE id = ?
	`, attemptCount, httpStatus, time.Now().Unix(), id)
	return err
}

func (r *JobRepository) MarkFailed(id string, attemptCount int, lastError string, httpStatus *int) error {
	_, err := r.db.Exec(`
		UPDATE delivery_jobs SET status = 'failed', attempt_count = ?, last_error = ?,
			last_http_status = ?, next_attempt_at = NULL, updated_at = ?
		WHERE id = ?
	`, attemptCount, lastError, nullableInt(httpStatus), time.Now().Unix(), id)
	return err
}

// Reschedule returns a transiently failed job to pending with a backoff.
func (r *JobRepository) Reschedule(id string, attemptCount int, nextAttemptAt int64, lastError string, httpStatus *int) error {
	_, err := r.db.Exec(`
		UPDATE delivery_jobs SET status = 'pending', attempt_count = ?, next_attempt_at = ?,
			last_error = ?, last_http_status = ?, updated_at = ?
		WHERE id = ?
	`, attemptCount, nextAttemptAt, lastError, nullableInt(httpStatus), time.Now().Unix(), id)
	return err
}

// SucceededEventIDs reports which of the given ingested event ids have at
// least one succeeded delivery job. This is the "delivered" evidence set for
// reconciliation.
func (r *JobRepository) SucceededEventIDs(workspaceID string, eventIDs []string) (map[string]bool, error) {
	delivered := make(map[string]bool)
	if len(eventIDs) == 0 {
		return delivered, nil
	}

	placeholders := strings.Repeat("?,", len(eventIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(eventIDs)+1)
	args = append(args, workspaceID)
	for _, id := range eventIDs {
		args = append(args, id)
	}

	rows, err := r.db.Query(`
		SELECT DISTINCT ingested_event_id FROM delivery_jobs
		WHERE workspace_id = ? AND status = 'succeeded' AND ingested_event_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		delivered[id] = true
	}
	return delivered, rows.Err()
}

func (r *JobRepository) InsertAttempt(attempt *models.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = "att_" + uuid.New().String()
	}
	_, err := r.db.Exec(`
		INSERT INTO delivery_attempts (id, job_id, attempt_number, http_status, latency_ms, response_summary, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, attempt.ID, attempt.JobID, attempt.AttemptNumber, nullableInt(attempt.HTTPStatus), attempt.LatencyMs,
		attempt.ResponseSummary, attempt.Error, attempt.StartedAt, attempt.FinishedAt)
	return err
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
