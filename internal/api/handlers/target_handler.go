package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/audit"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

type TargetHandler struct {
	targets *repositories.TargetRepository
	breaker *delivery.BreakerControl
	checker *delivery.HealthChecker
	queue   *delivery.Queue
	guard   *outbound.Guard
	authz   auth.Authorizer
	audit   audit.Sink
}

func NewTargetHandler(
	targets *repositories.TargetRepository,
	breaker *delivery.BreakerControl,
	checker *delivery.HealthChecker,
	queue *delivery.Queue,
	guard *outbound.Guard,
	authz auth.Authorizer,
	sink audit.Sink,
) *TargetHandler {
	return &TargetHandler{
		targets: targets,
		breaker: breaker,
		checker: checker,
		queue:   queue,
		guard:   guard,
		authz:   authz,
		audit:   sink,
	}
}

// targetView is the API shape of a destination. The signing secret is only
// returned once, on creation.
type targetView struct {
	*models.DeliveryTarget
	Secret       string `json:"secret,omitempty"`
	BreakerState string `json:"breaker_state,omitempty"`
}

func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionManageTargets) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		URL    string `json:"url"`
		Label  string `json:"label"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.URL == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "url is required", nil)
		return
	}

	if _, err := h.guard.AssertSafeOutboundURL(req.URL); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeSsrfBlocked, "Destination URL is not allowed", map[string]string{"reason": err.Error()})
		return
	}

	secret := req.Secret
	if secret == "" {
		secret = newTargetSecret()
	}

	target := &models.DeliveryTarget{
		WorkspaceID: actor.WorkspaceID,
		URL:         req.URL,
		Secret:      secret,
		Label:       req.Label,
		IsActive:    true,
	}
	if err := h.targets.Create(target); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create target", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "target.create",
		ResourceType: "delivery_target",
		ResourceID:   target.ID,
		Metadata:     map[string]interface{}{"url": target.URL},
	})

	errors.WriteJSON(w, http.StatusCreated, targetView{DeliveryTarget: target, Secret: secret})
}

func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	targets, err := h.targets.List(actor.WorkspaceID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list targets", nil)
		return
	}

	views := make([]targetView, 0, len(targets))
	for _, t := range targets {
		views = append(views, targetView{DeliveryTarget: t})
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"targets": views})
}

func (h *TargetHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	target, err := h.targets.GetByID(actor.WorkspaceID, param(r, "target_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load target", nil)
		return
	}
	if target == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}

	view := targetView{DeliveryTarget: target, BreakerState: models.BreakerClosed}
	if state, err := h.breaker.State(actor.WorkspaceID, target.ID); err == nil && state != nil {
		view.BreakerState = state.State
	}
	errors.WriteJSON(w, http.StatusOK, view)
}

func (h *TargetHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionManageTargets) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	target, err := h.targets.GetByID(actor.WorkspaceID, param(r, "target_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load target", nil)
		return
	}
	if target == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}

	var req struct {
		URL      *string `json:"url"`
		Label    *string `json:"label"`
		IsActive *bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.URL != nil {
		if _, err := h.guard.AssertSafeOutboundURL(*req.URL); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeSsrfBlocked, "Destination URL is not allowed", map[string]string{"reason": err.Error()})
			return
		}
		target.URL = *req.URL
	}
	if req.Label != nil {
		target.Label = *req.Label
	}
	if req.IsActive != nil {
		target.IsActive = *req.IsActive
	}

	if err := h.targets.Update(target); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update target", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "target.update",
		ResourceType: "delivery_target",
		ResourceID:   target.ID,
		Metadata:     map[string]interface{}{"is_active": target.IsActive},
	})

	errors.WriteJSON(w, http.StatusOK, targetView{DeliveryTarget: target})
}

func (h *TargetHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionManageTargets) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	targetID := param(r, "target_id")
	target, err := h.targets.GetByID(actor.WorkspaceID, targetID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load target", nil)
		return
	}
	if target == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}

	if err := h.targets.Deactivate(actor.WorkspaceID, targetID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to deactivate target", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "target.deactivate",
		ResourceType: "delivery_target",
		ResourceID:   targetID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck probes a destination with a signed ping. With manual_resume the
// probe runs even while the circuit breaker cooldown has not elapsed.
func (h *TargetHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunHealthCheck) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		ManualResume bool `json:"manual_resume"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.checker.Check(r.Context(), actor.WorkspaceID, param(r, "target_id"), req.ManualResume)
	if err == delivery.ErrTargetNotFound {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Target not found", nil)
		return
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Health check failed", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "target.health_check",
		ResourceType: "delivery_target",
		ResourceID:   result.TargetID,
		Metadata:     map[string]interface{}{"probed": result.Probed, "healthy": result.Healthy, "manual_resume": req.ManualResume},
	})

	errors.WriteJSON(w, http.StatusOK, result)
}

// TestWebhook queues a synthetic event against one target so operators can
// verify connectivity and signature handling end to end.
func (h *TargetHandler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionManageTargets) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	targetID := param(r, "target_id")
	event := &models.IngestedEvent{
		ID:               "evt_test_" + uuid.New().String(),
		WorkspaceID:      actor.WorkspaceID,
		RawBody:          []byte(`{"type":"lanceiq.test","message":"test delivery"}`),
		ContentType:      "application/json",
		DetectedProvider: "lanceiq",
		SignatureStatus:  "skipped",
		ReceivedAt:       time.Now().Unix(),
	}

	job, err := h.queue.EnqueueForTarget(event, targetID, models.TriggerTestWebhook, actor.ID, 0)
	if err == delivery.ErrTargetNotActive {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Target is not active", nil)
		return
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to queue test webhook", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "target.test_webhook",
		ResourceType: "delivery_target",
		ResourceID:   targetID,
		Metadata:     map[string]interface{}{"job_id": job.ID},
	})

	errors.WriteJSON(w, http.StatusAccepted, job)
}

func newTargetSecret() string {
	buf := make([]byte, 24)
	rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}
