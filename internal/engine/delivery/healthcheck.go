package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

var ErrTargetNotFound = errors.New("target_not_found")

// probeBody is the lightweight signed payload a health check sends.
var probeBody = []byte(`{"type":"lanceiq.ping"}`)

type ProbeResult struct {
	TargetID     string `json:"target_id"`
	BreakerState string `json:"breaker_state"`
	Probed       bool   `json:"probed"`
	Healthy      bool   `json:"healthy"`
	HTTPStatus   *int   `json:"http_status,omitempty"`
}

// HealthChecker probes targets and drives open -> half_open -> closed/open
// transitions. Manual resume forces a probe past the cool-down timer but
// still requires a real success to close the breaker.
type HealthChecker struct {
	targets      *repositories.TargetRepository
	breaker      *BreakerControl
	client       *outbound.Client
	signingKeyID string
}

func NewHealthChecker(targets *repositories.TargetRepository, breaker *BreakerControl, client *outbound.Client, signingKeyID string) *HealthChecker {
	return &HealthChecker{
		targets:      targets,
		breaker:      breaker,
		client:       client,
		signingKeyID: signingKeyID,
	}
}

func (h *HealthChecker) Check(ctx context.Context, workspaceID, targetID string, manualResume bool) (*ProbeResult, error) {
	target, err := h.targets.GetByID(workspaceID, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrTargetNotFound
	}

	state, err := h.breaker.State(workspaceID, targetID)
	if err != nil {
		return nil, err
	}

	result := &ProbeResult{TargetID: targetID, BreakerState: models.BreakerClosed}
	if state != nil {
		result.BreakerState = state.State
	}

	if state != nil && state.State != models.BreakerClosed {
		if !manualResume && !h.breaker.ProbeEligible(state, time.Now().Unix()) {
			// Still cooling down.
			return result, nil
		}
		if err := h.breaker.MarkHalfOpen(workspaceID, targetID, state.OpenedAt); err != nil {
			return nil, err
		}
	}

	result.Probed = true
	signed := outbound.CreateSignedHeaders(probeBody, target.Secret, h.signingKeyID)
	headers := signed.Map()
	headers["content-type"] = "application/json"
	headers["user-agent"] = "lanceiq-healthcheck/1.0"

	resp, sendErr := h.client.Post(ctx, target.URL, probeBody, headers)
	if err := h.breaker.TouchLastChecked(workspaceID, targetID); err != nil {
		return nil, err
	}

	if sendErr != nil || !resp.Success() {
		if resp != nil {
			status := resp.StatusCode
			result.HTTPStatus = &status
		}
		if _, err := h.breaker.RecordFailure(workspaceID, targetID); err != nil {
			return nil, err
		}
	} else {
		status := resp.StatusCode
		result.HTTPStatus = &status
		result.Healthy = true
		if err := h.breaker.RecordSuccess(workspaceID, targetID); err != nil {
			return nil, err
		}
	}

	fresh, err := h.breaker.State(workspaceID, targetID)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		result.BreakerState = fresh.State
	}
	return result, nil
}

// Sweep probes every open breaker whose cool-down has elapsed. The scheduled
// health worker calls this per workspace.
func (h *HealthChecker) Sweep(ctx context.Context, workspaceID string) ([]*ProbeResult, error) {
	open, err := h.breaker.ListOpen(workspaceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var results []*ProbeResult
	for _, state := range open {
		if !h.breaker.ProbeEligible(state, now) {
			continue
		}
		result, err := h.Check(ctx, workspaceID, state.TargetID, false)
		if err == ErrTargetNotFound {
			// Target deleted out from under the breaker row.
			continue
		}
		if err != nil {
			return results, err
		}
		if result.Healthy {
			log.Info().
				Str("workspace_id", workspaceID).
				Str("target_id", state.TargetID).
				Msg("breaker closed after successful probe")
		}
		results = append(results, result)
	}
	return results, nil
}
