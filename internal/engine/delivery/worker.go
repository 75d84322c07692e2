package delivery

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"lanceiq/internal/engine/envelope"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

var ErrJobNotFound = errors.New("job_not_found")
var ErrJobNotRunnable = errors.New("job_not_runnable")

// backoffSchedule spaces out retries of transiently failing jobs. Attempts
// past the table reuse the last step.
var backoffSchedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	3 * time.Hour,
	8 * time.Hour,
	24 * time.Hour,
}

const defaultBatchLimit = 50

// Claims older than this are assumed abandoned by a dead worker and go back
// to pending on the next run.
const staleClaimAge = 10 * time.Minute

// Worker claims due jobs and sends each through guard, signer, and client. A
// job is attempted at most once per invocation; retries happen by the job
// being re-selected on a later run.
type Worker struct {
	jobs         *repositories.JobRepository
	targets      *repositories.TargetRepository
	breaker      *BreakerControl
	client       *outbound.Client
	signingKeyID string
	batchLimit   int
}

func NewWorker(jobs *repositories.JobRepository, targets *repositories.TargetRepository, breaker *BreakerControl, client *outbound.Client, signingKeyID string, batchLimit int) *Worker {
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	return &Worker{
		jobs:         jobs,
		targets:      targets,
		breaker:      breaker,
		client:       client,
		signingKeyID: signingKeyID,
		batchLimit:   batchLimit,
	}
}

// Run processes up to limit due jobs for one workspace. The limit is clamped
// to the worker's batch limit: zero, negative, or oversized values all fall
// back to the bound, so one invocation stays short-lived. Individual job
// failures are expected and land in the results; only storage errors abort
// the batch.
func (w *Worker) Run(ctx context.Context, workspaceID string, limit int, runnerID string) ([]models.JobResult, error) {
	if limit <= 0 || limit > w.batchLimit {
		limit = w.batchLimit
	}

	now := time.Now().Unix()
	reclaimed, err := w.jobs.ReleaseStale(workspaceID, now-int64(staleClaimAge.Seconds()))
	if err != nil {
		return nil, err
	}
	if reclaimed > 0 {
		log.Warn().
			Str("workspace_id", workspaceID).
			Int64("reclaimed", reclaimed).
			Msg("released stale job claims")
	}

	due, err := w.jobs.ListDue(workspaceID, limit, now)
	if err != nil {
		return nil, err
	}

	results := make([]models.JobResult, 0, len(due))
	for _, job := range due {
		result, processed, err := w.process(ctx, job)
		if err != nil {
			return results, err
		}
		if processed {
			results = append(results, result)
		}
	}

	log.Info().
		Str("workspace_id", workspaceID).
		Str("runner_id", runnerID).
		Int("due", len(due)).
		Int("processed", len(results)).
		Msg("delivery worker run finished")
	return results, nil
}

// RunJob is the same send-and-classify path for a single known job; replay
// and test-webhook flows use it for a synchronous result.
func (w *Worker) RunJob(ctx context.Context, workspaceID, jobID string) (*models.JobResult, error) {
	job, err := w.jobs.GetByID(workspaceID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != models.JobStatusPending {
		return nil, ErrJobNotRunnable
	}

	result, processed, err := w.process(ctx, job)
	if err != nil {
		return nil, err
	}
	if !processed {
		// Lost the claim to a concurrent invocation.
		return nil, ErrJobNotRunnable
	}
	return &result, nil
}

func (w *Worker) process(ctx context.Context, job *models.DeliveryJob) (models.JobResult, bool, error) {
	claimed, err := w.jobs.Claim(job.ID)
	if err != nil {
		return models.JobResult{}, false, err
	}
	if !claimed {
		return models.JobResult{}, false, nil
	}

	result := models.JobResult{JobID: job.ID, TargetID: job.TargetID, Status: models.JobStatusFailed}

	target, err := w.targets.GetByID(job.WorkspaceID, job.TargetID)
	if err != nil {
		return result, false, err
	}
	if target == nil || !target.IsActive {
		// No send, no breaker impact.
		result.Code = models.CodeTargetNotActive
		return result, true, w.jobs.MarkFailed(job.ID, job.AttemptCount, models.CodeTargetNotActive, nil)
	}

	blocked, err := w.breaker.Blocked(job.WorkspaceID, job.TargetID)
	if err != nil {
		return result, false, err
	}
	if blocked {
		result.Code = models.CodeBreakerOpen
		return result, true, w.jobs.MarkFailed(job.ID, job.AttemptCount, models.CodeBreakerOpen, nil)
	}

	if _, _, ok := envelope.Decode(job.Payload); !ok {
		result.Code = models.CodePayloadCorrupt
		return result, true, w.jobs.MarkFailed(job.ID, job.AttemptCount, models.CodePayloadCorrupt, nil)
	}

	attempt := job.AttemptCount + 1
	signed := outbound.CreateSignedHeaders(job.Payload, target.Secret, w.signingKeyID)
	headers := signed.Map()
	headers["content-type"] = "application/json"
	headers["user-agent"] = "lanceiq-delivery/1.0"

	started := time.Now()
	resp, sendErr := w.client.Post(ctx, target.URL, job.Payload, headers)
	latencyMs := int(time.Since(started).Milliseconds())
	result.LatencyMs = latencyMs

	if sendErr != nil {
		if errors.Is(sendErr, outbound.ErrSsrfBlocked) {
			// Blocked before any bytes left; permanent, not a target health
			// signal.
			result.Code = models.CodeSsrfBlocked
			result.Error = sendErr.Error()
			if err := w.recordAttempt(job.ID, attempt, nil, latencyMs, "", sendErr.Error(), started); err != nil {
				return result, false, err
			}
			return result, true, w.jobs.MarkFailed(job.ID, attempt, models.CodeSsrfBlocked+": "+sendErr.Error(), nil)
		}

		result.Code = models.CodeNetworkError
		result.Error = sendErr.Error()
		if err := w.recordAttempt(job.ID, attempt, nil, latencyMs, "", sendErr.Error(), started); err != nil {
			return result, false, err
		}
		return result, true, w.failTransient(job, attempt, models.CodeNetworkError+": "+sendErr.Error(), nil, 0)
	}

	status := resp.StatusCode
	result.HTTPStatus = &status

	if resp.Success() {
		if err := w.recordAttempt(job.ID, attempt, &status, latencyMs, string(resp.Body), "", started); err != nil {
			return result, false, err
		}
		if err := w.jobs.MarkSucceeded(job.ID, attempt, status); err != nil {
			return result, false, err
		}
		if err := w.breaker.RecordSuccess(job.WorkspaceID, job.TargetID); err != nil {
			return result, false, err
		}
		result.Status = models.JobStatusSucceeded
		result.Code = models.CodeDelivered
		return result, true, nil
	}

	result.Code = models.CodeHTTPError
	result.Error = "destination returned " + strconv.Itoa(status)
	if err := w.recordAttempt(job.ID, attempt, &status, latencyMs, string(resp.Body), "", started); err != nil {
		return result, false, err
	}
	return result, true, w.failTransient(job, attempt, result.Error, &status, retryAfter(resp))
}

// failTransient counts the failure against the breaker, then either
// reschedules with backoff or marks the job failed at the attempt cap.
func (w *Worker) failTransient(job *models.DeliveryJob, attempt int, lastError string, httpStatus *int, retryIn time.Duration) error {
	opened, err := w.breaker.RecordFailure(job.WorkspaceID, job.TargetID)
	if err != nil {
		return err
	}
	if opened {
		log.Warn().
			Str("workspace_id", job.WorkspaceID).
			Str("target_id", job.TargetID).
			Msg("circuit breaker opened")
	}

	if attempt >= job.MaxAttempts {
		return w.jobs.MarkFailed(job.ID, attempt, models.CodeMaxAttempts+": "+lastError, httpStatus)
	}

	if retryIn <= 0 {
		step := attempt - 1
		if step >= len(backoffSchedule) {
			step = len(backoffSchedule) - 1
		}
		retryIn = backoffSchedule[step]
	}
	next := time.Now().Add(retryIn).Unix()
	return w.jobs.Reschedule(job.ID, attempt, next, lastError, httpStatus)
}

func (w *Worker) recordAttempt(jobID string, number int, httpStatus *int, latencyMs int, responseSummary, errText string, started time.Time) error {
	return w.jobs.InsertAttempt(&models.DeliveryAttempt{
		JobID:           jobID,
		AttemptNumber:   number,
		HTTPStatus:      httpStatus,
		LatencyMs:       latencyMs,
		ResponseSummary: responseSummary,
		Error:           errText,
		StartedAt:       started.Unix(),
		FinishedAt:      time.Now().Unix(),
	})
}

// retryAfter honors a destination's Retry-After on 429/503, capped so a
// misbehaving destination cannot park a job for days.
func retryAfter(resp *outbound.Response) time.Duration {
	if resp.StatusCode != 429 && resp.StatusCode != 503 {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	d := time.Duration(seconds) * time.Second
	if d > 24*time.Hour {
		d = 24 * time.Hour
	}
	return d
}
