package delivery

import (
	"time"

	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

// BreakerControl owns every breaker transition. API callers never write
// breaker rows directly; they go through the worker or the health checker,
// both of which delegate here. Concurrent updates are arbitrated by the
// store's upserts.
type BreakerControl struct {
	breakers  *repositories.BreakerRepository
	threshold int
	cooldown  time.Duration
}

func NewBreakerControl(breakers *repositories.BreakerRepository, threshold int, cooldown time.Duration) *BreakerControl {
	return &BreakerControl{breakers: breakers, threshold: threshold, cooldown: cooldown}
}

// Blocked reports whether regular sends to the target are short-circuited.
// Reads are fresh per call: a job earlier in a batch may have opened the
// breaker for a job later in the same batch.
func (b *BreakerControl) Blocked(workspaceID, targetID string) (bool, error) {
	state, err := b.breakers.Get(workspaceID, targetID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, nil
	}
	return state.State == models.BreakerOpen || state.State == models.BreakerHalfOpen, nil
}

// RecordFailure bumps the consecutive counter and opens the breaker at the
// threshold. A failure while half open re-opens immediately, restarting the
// cool-down clock.
func (b *BreakerControl) RecordFailure(workspaceID, targetID string) (opened bool, err error) {
	state, err := b.breakers.Get(workspaceID, targetID)
	if err != nil {
		return false, err
	}

	count, err := b.breakers.IncrementFailures(workspaceID, targetID)
	if err != nil {
		return false, err
	}

	halfOpen := state != nil && state.State == models.BreakerHalfOpen
	if count >= b.threshold || halfOpen {
		now := time.Now().Unix()
		if err := b.breakers.SetState(workspaceID, targetID, models.BreakerOpen, &now); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RecordSuccess closes the breaker and zeroes the failure counter.
func (b *BreakerControl) RecordSuccess(workspaceID, targetID string) error {
	return b.breakers.Reset(workspaceID, targetID)
}

// ProbeEligible reports whether an open breaker has cooled down enough for an
// automatic probe. Manual resume bypasses this check, not the state machine.
func (b *BreakerControl) ProbeEligible(state *models.CircuitBreakerState, now int64) bool {
	if state == nil || state.State == models.BreakerClosed {
		return false
	}
	if state.State == models.BreakerHalfOpen {
		return true
	}
	if state.OpenedAt == nil {
		return true
	}
	return now-*state.OpenedAt >= int64(b.cooldown.Seconds())
}

// MarkHalfOpen admits a single probe. The breaker keeps its opened_at so a
// failed probe restarts the cool-down from the failure, not from here.
func (b *BreakerControl) MarkHalfOpen(workspaceID, targetID string, openedAt *int64) error {
	return b.breakers.SetState(workspaceID, targetID, models.BreakerHalfOpen, openedAt)
}

func (b *BreakerControl) State(workspaceID, targetID string) (*models.CircuitBreakerState, error) {
	return b.breakers.Get(workspaceID, targetID)
}

func (b *BreakerControl) ListOpen(workspaceID string) ([]*models.CircuitBreakerState, error) {
	return b.breakers.ListOpen(workspaceID)
}

func (b *BreakerControl) TouchLastChecked(workspaceID, targetID string) error {
	return b.breakers.TouchLastChecked(workspaceID, targetID)
}
