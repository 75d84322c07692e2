package models

type Workspace struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"`
	Name             string `json:"name"`
	PlanTier         string `json:"plan_tier"`
	ForwardingQuota  int    `json:"forwarding_quota"`
	SigningKeyID     string `json:"signing_key_id,omitempty"`
	CreatedAt        int64  `json:"created_at"`
	UpdatedAt        int64  `json:"updated_at"`
	DeletedAt        *int64 `json:"deleted_at,omitempty"`
}

// IngestedEvent is the only artifact the delivery core consumes from the
// ingestion pipeline. RawBody is nulled by the retention collaborator; once
// null, forwarding and replay are permanently impossible for the event.
type IngestedEvent struct {
	ID              string            `json:"id"`
	WorkspaceID     string            `json:"workspace_id"`
	RawBody         []byte            `json:"-"`
	Headers         map[string]string `json:"headers"`
	ContentType     string            `json:"content_type"`
	DetectedProvider string           `json:"detected_provider"`
	ProviderEventID string            `json:"provider_event_id"`
	SignatureStatus string            `json:"signature_status"` // verified, failed, skipped
	ReceivedAt      int64             `json:"received_at"`
}

func (e *IngestedEvent) Forwardable() bool {
	return e.RawBody != nil
}
