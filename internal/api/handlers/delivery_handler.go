package handlers

import (
	"encoding/json"
	"net/http"

	"lanceiq/internal/engine/delivery"
	"lanceiq/internal/pkg/errors"
	"lanceiq/internal/platform/audit"
	"lanceiq/internal/platform/auth"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

// Replays jump the queue ahead of first-pass deliveries.
const replayPriority = 10

type DeliveryHandler struct {
	queue  *delivery.Queue
	worker *delivery.Worker
	jobs   *repositories.JobRepository
	events *repositories.IngestedEventRepository
	authz  auth.Authorizer
	audit  audit.Sink
}

func NewDeliveryHandler(
	queue *delivery.Queue,
	worker *delivery.Worker,
	jobs *repositories.JobRepository,
	events *repositories.IngestedEventRepository,
	authz auth.Authorizer,
	sink audit.Sink,
) *DeliveryHandler {
	return &DeliveryHandler{
		queue:  queue,
		worker: worker,
		jobs:   jobs,
		events: events,
		authz:  authz,
		audit:  sink,
	}
}

// Replay queues a stored event for re-delivery, to one target or to all
// active targets.
func (h *DeliveryHandler) Replay(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionReplayEvent) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		TargetID string `json:"target_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	eventID := param(r, "event_id")
	event, err := h.events.GetByID(actor.WorkspaceID, eventID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load event", nil)
		return
	}
	if event == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Event not found", nil)
		return
	}

	var jobs []*models.DeliveryJob
	if req.TargetID != "" {
		var job *models.DeliveryJob
		job, err = h.queue.EnqueueForTarget(event, req.TargetID, models.TriggerReplay, actor.ID, replayPriority)
		if job != nil {
			jobs = append(jobs, job)
		}
	} else {
		jobs, err = h.queue.EnqueueForEvent(event, models.TriggerReplay, actor.ID, replayPriority)
	}
	switch err {
	case nil:
	case delivery.ErrRawBodyUnavailable:
		errors.WriteError(w, http.StatusPreconditionFailed, errors.ErrCodePreconditionFailed, "Raw event body is no longer available", nil)
		return
	case delivery.ErrNoActiveTargets:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Workspace has no active delivery targets", nil)
		return
	case delivery.ErrTargetNotActive:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Target is not active", nil)
		return
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to queue replay", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "event.replay",
		ResourceType: "ingested_event",
		ResourceID:   eventID,
		Metadata:     map[string]interface{}{"target_id": req.TargetID, "jobs": len(jobs)},
	})

	errors.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"jobs": jobs})
}

// RunWorker drains due jobs for the caller's workspace and reports the
// outcome of each one.
func (h *DeliveryHandler) RunWorker(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunWorker) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	var req struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	results, err := h.worker.Run(r.Context(), actor.WorkspaceID, req.Limit, "api:"+actor.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Worker run failed", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "delivery.run_worker",
		ResourceType: "delivery_job",
		Metadata:     map[string]interface{}{"processed": len(results)},
	})

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// RunJob processes one pending job synchronously.
func (h *DeliveryHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if !h.authz.Can(*actor, actor.WorkspaceID, auth.ActionRunWorker) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return
	}

	jobID := param(r, "job_id")
	result, err := h.worker.RunJob(r.Context(), actor.WorkspaceID, jobID)
	switch err {
	case nil:
	case delivery.ErrJobNotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Job not found", nil)
		return
	case delivery.ErrJobNotRunnable:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Job is not pending", nil)
		return
	default:
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Job run failed", nil)
		return
	}

	h.audit.Record(audit.Event{
		WorkspaceID:  actor.WorkspaceID,
		ActorID:      actor.ID,
		Action:       "delivery.run_job",
		ResourceType: "delivery_job",
		ResourceID:   jobID,
		Metadata:     map[string]interface{}{"status": result.Status, "code": result.Code},
	})

	errors.WriteJSON(w, http.StatusOK, result)
}

func (h *DeliveryHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)

	job, err := h.jobs.GetByID(actor.WorkspaceID, param(r, "job_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load job", nil)
		return
	}
	if job == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Job not found", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, job)
}
