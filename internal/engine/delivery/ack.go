package delivery

import (
	"errors"
	"strconv"
	"time"

	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

var (
	ErrReplayDetected    = errors.New("replay_detected")
	ErrReplayCacheFailed = errors.New("replay_cache_failed")
)

// AckVerifier authenticates signed acknowledgment callbacks from
// destinations. Signature checking and replay suppression are separate steps;
// an unknown storage failure during nonce registration rejects the request
// rather than letting a possible replay through.
type AckVerifier struct {
	targets *repositories.TargetRepository
	nonces  *repositories.NonceRepository
	skew    time.Duration
	ttl     time.Duration
}

func NewAckVerifier(targets *repositories.TargetRepository, nonces *repositories.NonceRepository, skew, ttl time.Duration) *AckVerifier {
	return &AckVerifier{targets: targets, nonces: nonces, skew: skew, ttl: ttl}
}

func (a *AckVerifier) Verify(workspaceID, targetID string, body []byte, timestamp, nonce, signature string) error {
	target, err := a.targets.GetByID(workspaceID, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrTargetNotFound
	}

	if err := outbound.VerifySignedRequest(body, target.Secret, timestamp, nonce, signature, a.skew); err != nil {
		return err
	}

	// Timestamp already validated above.
	ts, _ := strconv.ParseInt(timestamp, 10, 64)

	err = a.nonces.Register(&models.DeliveryReplayNonce{
		WorkspaceID: workspaceID,
		TargetID:    targetID,
		Nonce:       nonce,
		RequestTS:   ts,
		ExpiresAt:   ts + int64(a.ttl.Seconds()),
	})
	if err == repositories.ErrDuplicate {
		return ErrReplayDetected
	}
	if err != nil {
		return ErrReplayCacheFailed
	}

	// Opportunistic cleanup; correctness does not depend on it.
	a.nonces.PurgeExpired()
	return nil
}
