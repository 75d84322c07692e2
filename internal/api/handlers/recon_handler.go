package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"lanceiq/internal/engine/reconcile"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/audit"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
	"lanceiq/internal/platform/secrets"
)

type ReconcileHandler struct {
	engine       *reconcile.Engine
	runs         *repositories.RunRepository
	integrations *repositories.IntegrationRepository
	box          *secrets.Box
	clients      map[string]reconcile.ProviderClient
	authz        auth.Authorizer
	audit        audit.Sink
}

func NewReconcileHandler(
	engine *reconcile.Engine,
	runs *repositories.RunRepository,
	integrations *repositories.IntegrationRepository,
	box *secrets.Box,
	clients map[string]reconcile.ProviderClient,
	authz auth.Authorizer,
	sink audit.Sink,
) *ReconcileHandler {
	return &ReconcileHandler{
		engine:       engine,
		runs:         runs,
		integrations: integrations,
		box:          box,
		clients:      clients,
		authz:        authz,
		audit:        sink,
	}
}

// Run triggers a reconciliation pass synchronously and returns the finalized
// run with its report.
func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunReconciliation) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		BatchID string `json:"batch_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	run, report, err := h.engine.Run(r.Context(), actor.WorkspaceID, req.BatchID)
	if run == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to start reconciliation run", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "reconciliation.run",
		ResourceType: "reconciliation_run",
		ResourceID:   run.ID,
		Metadata:     map[string]interface{}{"batch_id": req.BatchID, "status": run.Status},
	})

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	errors.WriteJSON(w, status, map[string]interface{}{"run": run, "report": report})
}

func (h *ReconcileHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	run, err := h.runs.GetByID(actor.WorkspaceID, param(r, "run_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load run", nil)
		return
	}
	if run == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Run not found", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, run)
}

// CreateIntegration stores sealed provider credentials. The key is never
// echoed back; a health check must pass before the integration participates
// in reconciliation.
func (h *ReconcileHandler) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunReconciliation) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Provider == "" || req.APIKey == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "provider and api_key are required", nil)
		return
	}
	if _, ok := h.clients[req.Provider]; !ok {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unsupported provider", map[string]string{"provider": req.Provider})
		return
	}

	sealed, err := h.box.Seal([]byte(req.APIKey))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to seal credentials", nil)
		return
	}

	integration := &models.ProviderIntegration{
		WorkspaceID:  actor.WorkspaceID,
		Provider:     req.Provider,
		EncryptedKey: sealed,
		IsActive:     true,
	}
	if err := h.integrations.Create(integration); err != nil {
		if err == repositories.ErrDuplicate {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Integration already exists for this provider", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create integration", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "integration.create",
		ResourceType: "provider_integration",
		ResourceID:   integration.ID,
		Metadata:     map[string]interface{}{"provider": req.Provider},
	})

	errors.WriteJSON(w, http.StatusCreated, integration)
}

// IntegrationHealthCheck unseals the stored key and makes a small read call
// against the provider. Success marks the integration usable.
func (h *ReconcileHandler) IntegrationHealthCheck(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunReconciliation) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	integration, err := h.integrations.GetByID(actor.WorkspaceID, param(r, "integration_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load integration", nil)
		return
	}
	if integration == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Integration not found", nil)
		return
	}

	client, ok := h.clients[integration.Provider]
	if !ok {
		errors.WriteError(w, http.StatusPreconditionFailed, errors.ErrCodePreconditionFailed, "Unsupported provider", nil)
		return
	}

	apiKey, err := h.box.Open(integration.EncryptedKey)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to unseal credentials", nil)
		return
	}

	now := time.Now().Unix()
	_, probeErr := client.ListEvents(r.Context(), string(apiKey), now-3600, now)
	healthy := probeErr == nil

	if err := h.integrations.SetHealthChecked(actor.WorkspaceID, integration.ID, healthy); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to record health check", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "integration.health_check",
		ResourceType: "provider_integration",
		ResourceID:   integration.ID,
		Metadata:     map[string]interface{}{"healthy": healthy},
	})

	body := map[string]interface{}{"integration_id": integration.ID, "healthy": healthy}
	if probeErr != nil {
		body["error"] = probeErr.Error()
	}
	errors.WriteJSON(w, http.StatusOK, body)
}
