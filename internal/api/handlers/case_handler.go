package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/audit"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

type CaseHandler struct {
	cases  *repositories.CaseRepository
	events *repositories.IngestedEventRepository
	queue  *delivery.Queue
	authz  auth.Authorizer
	audit  audit.Sink
}

func NewCaseHandler(
	cases *repositories.CaseRepository,
	events *repositories.IngestedEventRepository,
	queue *delivery.Queue,
	authz auth.Authorizer,
	sink audit.Sink,
) *CaseHandler {
	return &CaseHandler{
		cases:  cases,
		events: events,
		queue:  queue,
		authz:  authz,
		audit:  sink,
	}
}

func (h *CaseHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionViewCases) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	status := r.URL.Query().Get("status")
	cases, err := h.cases.List(actor.WorkspaceID, status)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list cases", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionViewCases) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	c, err := h.cases.GetByID(actor.WorkspaceID, param(r, "case_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load case", nil)
		return
	}
	if c == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Case not found", nil)
		return
	}

	events, err := h.cases.ListEvents(c.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load case events", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"case": c, "events": events})
}

// Resolve closes a case manually. A non-empty note is required so the audit
// trail explains the operator's judgement.
func (h *CaseHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionResolveCase) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.Note) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "note is required", nil)
		return
	}

	c, err := h.cases.GetByID(actor.WorkspaceID, param(r, "case_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load case", nil)
		return
	}
	if c == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Case not found", nil)
		return
	}
	if c.Status == models.CaseStatusResolved {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Case is already resolved", nil)
		return
	}

	if err := h.cases.Resolve(c.ID, actor.ID, req.Note); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to resolve case", nil)
		return
	}
	h.cases.AppendEvent(&models.CaseEvent{
		CaseID:    c.ID,
		EventType: models.CaseEventResolved,
		Details:   req.Note,
		ActorID:   actor.ID,
	})

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "case.resolve",
		ResourceType: "reconciliation_case",
		ResourceID:   c.ID,
	})

	resolved, err := h.cases.GetByID(actor.WorkspaceID, c.ID)
	if err != nil || resolved == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to reload case", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, resolved)
}

// Replay re-queues the ingested event behind a case. Only works when the
// event was actually received; missing receipts have nothing to replay.
func (h *CaseHandler) Replay(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionReplayEvent) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	c, err := h.cases.GetByID(actor.WorkspaceID, param(r, "case_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load case", nil)
		return
	}
	if c == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Case not found", nil)
		return
	}

	event, err := h.events.GetLatestByProviderEventID(actor.WorkspaceID, c.Provider, c.ProviderPaymentID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load event", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusPreconditionFailed, errors.ErrCodePreconditionFailed, "No ingested event exists for this case", nil)
		return
	}

	jobs, err := h.queue.EnqueueForEvent(event, models.TriggerCaseReplay, actor.ID, replayPriority)
	switch err {
	case nil:
	case delivery.ErrRawBodyUnavailable:
		errors.WriteError(w, http.StatusPreconditionFailed, errors.ErrCodePreconditionFailed, "Raw event body is no longer available", nil)
		return
	case delivery.ErrNoActiveTargets:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Workspace has no active delivery targets", nil)
		return
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to queue replay", nil)
		return
	}

	h.cases.AppendEvent(&models.CaseEvent{
		CaseID:    c.ID,
		EventType: models.CaseEventReplayTriggered,
		Details:   event.ID,
		ActorID:   actor.ID,
	})

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "case.replay",
		ResourceType: "reconciliation_case",
		ResourceID:   c.ID,
		Metadata:     map[string]interface{}{"event_id": event.ID, "jobs": len(jobs)},
	})

	errors.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"jobs": jobs})
}
