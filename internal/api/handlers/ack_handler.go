package handlers

import (
	"io"
	"net/http"

	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/audit"
)

const maxAckBodyBytes = 1 << 20

// AckHandler receives delivery acknowledgements posted back by destinations.
// The endpoint is unauthenticated; the signature headers are the credential.
type AckHandler struct {
	verifier *delivery.AckVerifier
	audit    audit.Sink
}

func NewAckHandler(verifier *delivery.AckVerifier, sink audit.Sink) *AckHandler {
	return &AckHandler{verifier: verifier, audit: sink}
}

func (h *AckHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAckBodyBytes))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}

	workspaceID := param(r, "workspace_id")
	targetID := param(r, "target_id")

	err = h.verifier.Verify(
		workspaceID,
		targetID,
		body,
		r.Header.Get(outbound.HeaderTimestamp),
		r.Header.Get(outbound.HeaderNonce),
		r.Header.Get(outbound.HeaderSignature),
	)
	switch err {
	case nil:
		h.audit.Record(audit.Event{
			WorkspaceID:  workspaceID,
			ActorID:      "target:" + targetID,
			Action:       "delivery.ack",
			ResourceType: "delivery_target",
			ResourceID:   targetID,
		})
		w.WriteHeader(http.StatusNoContent)
	case delivery.ErrTargetNotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
	case delivery.ErrReplayDetected:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeReplayDetected, "Nonce was already acknowledged", nil)
	case delivery.ErrReplayCacheFailed:
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeInternal, "Replay protection unavailable", nil)
	case outbound.ErrStaleTimestamp:
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeInvalidSignature, "Timestamp outside allowed window", nil)
	default:
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeInvalidSignature, "Signature verification failed", nil)
	}
}
