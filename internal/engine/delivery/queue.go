// Package delivery implements the outbound pipeline: idempotent enqueue, the
// breaker-gated worker, target health checks, and destination acknowledgment
// verification.
package delivery

import (
	"errors"
	"fmt"
	"time"

	"lanceiq/internal/engine/envelope"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

var (
	ErrRawBodyUnavailable = errors.New("raw_body_unavailable")
	ErrNoActiveTargets    = errors.New("no_active_targets")
	ErrTargetNotActive    = errors.New("target_not_active")
)

type Queue struct {
	jobs        *repositories.JobRepository
	targets     *repositories.TargetRepository
	maxAttempts int
}

func NewQueue(jobs *repositories.JobRepository, targets *repositories.TargetRepository, maxAttempts int) *Queue {
	return &Queue{jobs: jobs, targets: targets, maxAttempts: maxAttempts}
}

// EnqueueForEvent builds the forwarding envelope once and enqueues one job
// per active target. Forward-triggered keys are deterministic per
// (event, target) so retries and duplicate triggers collapse onto one row;
// replay-triggered keys carry a timestamp because operator replays are
// deliberately allowed to re-enqueue.
func (q *Queue) EnqueueForEvent(event *models.IngestedEvent, trigger, createdBy string, priority int) ([]*models.DeliveryJob, error) {
	if !event.Forwardable() {
		return nil, ErrRawBodyUnavailable
	}

	targets, err := q.targets.ListActive(event.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoActiveTargets
	}

	payload, err := q.encodeEnvelope(event)
	if err != nil {
		return nil, err
	}

	jobs := make([]*models.DeliveryJob, 0, len(targets))
	for _, target := range targets {
		job, err := q.insert(event, target.ID, payload, trigger, createdBy, priority)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// EnqueueForTarget queues a single job against one target, active or not
// required to be checked by the caller for test sends. Used by replay-to-one
// and test webhook flows.
func (q *Queue) EnqueueForTarget(event *models.IngestedEvent, targetID, trigger, createdBy string, priority int) (*models.DeliveryJob, error) {
	if !event.Forwardable() {
		return nil, ErrRawBodyUnavailable
	}

	target, err := q.targets.GetByID(event.WorkspaceID, targetID)
	if err != nil {
		return nil, err
	}
	if target == nil || !target.IsActive {
		return nil, ErrTargetNotActive
	}

	payload, err := q.encodeEnvelope(event)
	if err != nil {
		return nil, err
	}
	return q.insert(event, target.ID, payload, trigger, createdBy, priority)
}

func (q *Queue) encodeEnvelope(event *models.IngestedEvent) ([]byte, error) {
	env := envelope.Build(event.RawBody, event.Headers, event.ContentType, envelope.Metadata{
		IngestedEventID:  event.ID,
		DetectedProvider: event.DetectedProvider,
		ProviderEventID:  event.ProviderEventID,
	})
	return env.Encode()
}

func (q *Queue) insert(event *models.IngestedEvent, targetID string, payload []byte, trigger, createdBy string, priority int) (*models.DeliveryJob, error) {
	key := idempotencyKey(trigger, event.ID, targetID)

	job := &models.DeliveryJob{
		WorkspaceID:     event.WorkspaceID,
		TargetID:        targetID,
		EventType:       event.DetectedProvider + ".webhook",
		Payload:         payload,
		IdempotencyKey:  key,
		Priority:        priority,
		IngestedEventID: event.ID,
		TriggerSource:   trigger,
		CreatedBy:       createdBy,
		MaxAttempts:     q.maxAttempts,
	}

	err := q.jobs.Insert(job)
	if err == repositories.ErrDuplicate {
		// Already queued; hand back the existing row.
		return q.jobs.GetByIdempotencyKey(event.WorkspaceID, key)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// idempotencyKey is deterministic for forward triggers and time-scoped for
// operator-initiated ones.
func idempotencyKey(trigger, eventID, targetID string) string {
	switch trigger {
	case models.TriggerForward:
		return fmt.Sprintf("%s:%s:%s", trigger, eventID, targetID)
	default:
		return fmt.Sprintf("%s:%s:%s:%d", trigger, eventID, targetID, time.Now().UnixNano())
	}
}
