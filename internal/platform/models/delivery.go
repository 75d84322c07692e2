package models

// Job statuses
const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

// Trigger sources recorded on jobs
const (
	TriggerForward     = "forward"
	TriggerReplay      = "replay"
	TriggerCaseReplay  = "case_replay"
	TriggerTestWebhook = "test_webhook"
)

// Stable per-job failure codes surfaced in batch results
const (
	CodeDelivered        = "delivered"
	CodeTargetNotActive  = "target_not_active"
	CodeBreakerOpen      = "target_breaker_open"
	CodeSsrfBlocked      = "ssrf_blocked"
	CodePayloadCorrupt   = "payload_corrupt"
	CodeHTTPError        = "http_error"
	CodeNetworkError     = "network_error"
	CodeMaxAttempts      = "max_attempts_reached"
)

type DeliveryTarget struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	URL         string `json:"url"`
	Secret      string `json:"-"`
	Label       string `json:"label,omitempty"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

type DeliveryJob struct {
	ID              string `json:"id"`
	WorkspaceID     string `json:"workspace_id"`
	TargetID        string `json:"target_id"`
	EventType       string `json:"event_type"`
	Payload         []byte `json:"-"`
	IdempotencyKey  string `json:"idempotency_key"`
	Status          string `json:"status"`
	Priority        int    `json:"priority"`
	IngestedEventID string `json:"ingested_event_id,omitempty"`
	TriggerSource   string `json:"trigger_source"`
	CreatedBy       string `json:"created_by"`
	AttemptCount    int    `json:"attempt_count"`
	MaxAttempts     int    `json:"max_attempts"`
	NextAttemptAt   *int64 `json:"next_attempt_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	LastHTTPStatus  *int   `json:"last_http_status,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// DeliveryAttempt is one send attempt against a target, kept for triage.
type DeliveryAttempt struct {
	ID              string `json:"id"`
	JobID           string `json:"job_id"`
	AttemptNumber   int    `json:"attempt_number"`
	HTTPStatus      *int   `json:"http_status,omitempty"`
	LatencyMs       int    `json:"latency_ms"`
	ResponseSummary string `json:"response_summary,omitempty"`
	Error           string `json:"error,omitempty"`
	StartedAt       int64  `json:"started_at"`
	FinishedAt      int64  `json:"finished_at"`
}

// Breaker states
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

type CircuitBreakerState struct {
	WorkspaceID         string `json:"workspace_id"`
	TargetID            string `json:"target_id"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	OpenedAt            *int64 `json:"opened_at,omitempty"`
	LastCheckedAt       *int64 `json:"last_checked_at,omitempty"`
	UpdatedAt           int64  `json:"updated_at"`
}

// DeliveryReplayNonce suppresses replays of signed callbacks from
// destinations. Uniqueness of (workspace_id, target_id, nonce) is enforced by
// the store; a duplicate insert is the replay signal.
type DeliveryReplayNonce struct {
	WorkspaceID string `json:"workspace_id"`
	TargetID    string `json:"target_id"`
	Nonce       string `json:"nonce"`
	RequestTS   int64  `json:"request_ts"`
	ExpiresAt   int64  `json:"expires_at"`
}

// JobResult is the per-job outcome of one worker invocation. Batch endpoints
// return these even when individual jobs failed.
type JobResult struct {
	JobID      string `json:"job_id"`
	TargetID   string `json:"target_id"`
	Status     string `json:"status"`
	Code       string `json:"code"`
	HTTPStatus *int   `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
	LatencyMs  int    `json:"latency_ms,omitempty"`
}
