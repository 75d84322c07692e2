package models

// ProviderIntegration holds the credentials the reconciliation engine uses to
// pull a provider's own event listing. EncryptedKey is opaque here; the
// secrets collaborator decrypts it.
type ProviderIntegration struct {
	ID            string `json:"id"`
	WorkspaceID   string `json:"workspace_id"`
	Provider      string `json:"provider"`
	EncryptedKey  []byte `json:"-"`
	IsActive      bool   `json:"is_active"`
	HealthChecked bool   `json:"health_checked"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

type ReconciliationRun struct {
	ID                 string `json:"id"`
	WorkspaceID        string `json:"workspace_id"`
	BatchID            string `json:"batch_id,omitempty"`
	Status             string `json:"status"`
	StartedAt          int64  `json:"started_at"`
	CompletedAt        *int64 `json:"completed_at,omitempty"`
	ItemsProcessed     int    `json:"items_processed"`
	DiscrepanciesFound int    `json:"discrepancies_found"`
	ReportJSON         []byte `json:"report_json,omitempty"`
}

// ProviderObject is the cached snapshot of a provider-side event, upserted on
// every pull so re-runs stay idempotent.
type ProviderObject struct {
	WorkspaceID     string `json:"workspace_id"`
	Provider        string `json:"provider"`
	ProviderEventID string `json:"provider_event_id"`
	RawSnapshot     []byte `json:"-"`
	LastSeenAt      int64  `json:"last_seen_at"`
}

// Case statuses. Transitions are monotonic except open/pending re-opening on
// repeated detection.
const (
	CaseStatusOpen     = "open"
	CaseStatusPending  = "pending"
	CaseStatusResolved = "resolved"
	CaseStatusIgnored  = "ignored"
)

// Case reason codes
const (
	ReasonMissingReceipt     = "missing_receipt"
	ReasonFailedVerification = "failed_verification"
	ReasonProviderMismatch   = "provider_mismatch"
)

type ReconciliationCase struct {
	ID               string `json:"id"`
	WorkspaceID      string `json:"workspace_id"`
	Provider         string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Status           string `json:"status"`
	Severity         string `json:"severity"`
	ReasonCode       string `json:"reason_code"`
	FirstDetectedAt  int64  `json:"first_detected_at"`
	LastSeenAt       int64  `json:"last_seen_at"`
	GraceUntil       *int64 `json:"grace_until,omitempty"`
	ResolvedAt       *int64 `json:"resolved_at,omitempty"`
	ResolvedBy       string `json:"resolved_by,omitempty"`
	ResolvedNote     string `json:"resolved_note,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
}

// Case event types
const (
	CaseEventOpened         = "case_opened"
	CaseEventReplayTriggered = "replay_triggered"
	CaseEventResolved       = "resolved"
	CaseEventAutoResolved   = "auto_resolved"
)

// CaseEvent is an append-only timeline entry on a case.
type CaseEvent struct {
	ID        string `json:"id"`
	CaseID    string `json:"case_id"`
	EventType string `json:"event_type"`
	Details   string `json:"details,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// DiscrepancyCounters is the aggregate section of a reconciliation report.
// The last two buckets are informational, never counted as discrepancies.
type DiscrepancyCounters struct {
	MissingReceipts        int `json:"missing_receipts"`
	MissingDeliveries      int `json:"missing_deliveries"`
	FailedVerifications    int `json:"failed_verifications"`
	ProviderMismatches     int `json:"provider_mismatches"`
	DownstreamUnconfigured int `json:"downstream_unconfigured"`
	PendingActivation      int `json:"pending_activation"`
}

func (c DiscrepancyCounters) Discrepancies() int {
	return c.MissingReceipts + c.MissingDeliveries + c.FailedVerifications + c.ProviderMismatches
}

type ReconciliationReport struct {
	DiscrepancyCounters DiscrepancyCounters `json:"discrepancy_counters"`
	GeneratedAt         int64               `json:"generated_at"`
	ErrorCode           string              `json:"error_code,omitempty"`
	IntegrationErrors   map[string]string   `json:"integration_errors,omitempty"`
}
