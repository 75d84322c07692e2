// Package reconcile diffs three sources of truth per workspace and provider:
// the provider's own event listing, the platform's ingestion receipts, and
// the platform's delivery job evidence. Gaps become counters on a run report
// and cases for operators.
package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
	"lanceiq/internal/platform/secrets"
)

const (
	errCodeSecretsUnavailable = "secrets_unavailable"
	errCodeStateReadFailed    = "state_read_failed"
)

type Engine struct {
	integrations *repositories.IntegrationRepository
	events       *repositories.IngestedEventRepository
	jobs         *repositories.JobRepository
	targets      *repositories.TargetRepository
	runs         *repositories.RunRepository
	objects      *repositories.ProviderObjectRepository
	cases        *repositories.CaseRepository
	box          *secrets.Box
	clients      map[string]ProviderClient

	window          time.Duration
	providerTimeout time.Duration
}

func NewEngine(
	integrations *repositories.IntegrationRepository,
	events *repositories.IngestedEventRepository,
	jobs *repositories.JobRepository,
	targets *repositories.TargetRepository,
	runs *repositories.RunRepository,
	objects *repositories.ProviderObjectRepository,
	cases *repositories.CaseRepository,
	box *secrets.Box,
	clients map[string]ProviderClient,
	window, providerTimeout time.Duration,
) *Engine {
	return &Engine{
		integrations:    integrations,
		events:          events,
		jobs:            jobs,
		targets:         targets,
		runs:            runs,
		objects:         objects,
		cases:           cases,
		box:             box,
		clients:         clients,
		window:          window,
		providerTimeout: providerTimeout,
	}
}

// Run executes one reconciliation pass. Per-integration pull failures are
// recorded on the report and skipped; only a failure to read the workspace's
// own stored state finalizes the run as failed.
func (e *Engine) Run(ctx context.Context, workspaceID, batchID string) (*models.ReconciliationRun, *models.ReconciliationReport, error) {
	run := &models.ReconciliationRun{WorkspaceID: workspaceID, BatchID: batchID}
	if err := e.runs.Create(run); err != nil {
		return nil, nil, err
	}

	report := &models.ReconciliationReport{IntegrationErrors: map[string]string{}}
	itemsProcessed := 0

	all, err := e.integrations.List(workspaceID)
	if err != nil {
		return run, report, e.fail(run, report, errCodeStateReadFailed)
	}

	activeTargets, err := e.targets.ListActive(workspaceID)
	if err != nil {
		return run, report, e.fail(run, report, errCodeStateReadFailed)
	}
	downstreamConfigured := len(activeTargets) > 0

	now := time.Now().Unix()
	since := now - int64(e.window.Seconds())

	for _, integration := range all {
		if !integration.IsActive || !integration.HealthChecked {
			// Configured but not yet usable: informational, never a
			// discrepancy.
			report.DiscrepancyCounters.PendingActivation++
			continue
		}

		processed, err := e.reconcileIntegration(ctx, workspaceID, integration, since, now, downstreamConfigured, report)
		if err != nil {
			return run, report, e.fail(run, report, errCodeStateReadFailed)
		}
		itemsProcessed += processed
	}

	report.GeneratedAt = time.Now().Unix()
	discrepancies := report.DiscrepancyCounters.Discrepancies()

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return run, report, err
	}
	if err := e.runs.Finalize(run.ID, models.RunStatusCompleted, itemsProcessed, discrepancies, reportJSON); err != nil {
		return run, report, err
	}
	run.Status = models.RunStatusCompleted
	run.ItemsProcessed = itemsProcessed
	run.DiscrepanciesFound = discrepancies
	run.ReportJSON = reportJSON

	log.Info().
		Str("workspace_id", workspaceID).
		Str("run_id", run.ID).
		Int("items_processed", itemsProcessed).
		Int("discrepancies", discrepancies).
		Msg("reconciliation run completed")
	return run, report, nil
}

// reconcileIntegration diffs one provider. Returns how many distinct ids it
// examined.
func (e *Engine) reconcileIntegration(ctx context.Context, workspaceID string, integration *models.ProviderIntegration, since, until int64, downstreamConfigured bool, report *models.ReconciliationReport) (int, error) {
	provider := integration.Provider

	apiKey, err := e.box.Open(integration.EncryptedKey)
	if err != nil {
		report.IntegrationErrors[provider] = errCodeSecretsUnavailable
		return 0, nil
	}

	client, found := e.clients[provider]
	if !found {
		report.IntegrationErrors[provider] = "unsupported_provider"
		return 0, nil
	}

	pullCtx, cancel := context.WithTimeout(ctx, e.providerTimeout)
	providerEvents, pullErr := client.ListEvents(pullCtx, string(apiKey), since, until)
	cancel()
	if pullErr != nil {
		// One broken integration must not stall the run.
		report.IntegrationErrors[provider] = pullErr.Error()
		log.Warn().
			Str("workspace_id", workspaceID).
			Str("provider", provider).
			Err(pullErr).
			Msg("provider pull failed")
		return 0, nil
	}

	providerSet := make(map[string]ProviderEvent, len(providerEvents))
	for _, pe := range providerEvents {
		providerSet[pe.ID] = pe
		if err := e.objects.Upsert(&models.ProviderObject{
			WorkspaceID:     workspaceID,
			Provider:        provider,
			ProviderEventID: pe.ID,
			RawSnapshot:     pe.Raw,
			LastSeenAt:      time.Now().Unix(),
		}); err != nil {
			return 0, err
		}
	}

	ingested, err := e.events.ListByProviderWindow(workspaceID, provider, since, until)
	if err != nil {
		return 0, err
	}
	ingestedSet := make(map[string]*models.IngestedEvent, len(ingested))
	internalIDs := make([]string, 0, len(ingested))
	for _, ev := range ingested {
		ingestedSet[ev.ProviderEventID] = ev
		internalIDs = append(internalIDs, ev.ID)
	}

	deliveredInternal, err := e.jobs.SucceededEventIDs(workspaceID, internalIDs)
	if err != nil {
		return 0, err
	}
	deliveredSet := make(map[string]bool, len(deliveredInternal))
	for _, ev := range ingested {
		if deliveredInternal[ev.ID] {
			deliveredSet[ev.ProviderEventID] = true
		}
	}

	counters := &report.DiscrepancyCounters
	now := time.Now().Unix()

	for id := range providerSet {
		if _, received := ingestedSet[id]; !received {
			counters.MissingReceipts++
			if err := e.openOrRefreshCase(workspaceID, provider, id, models.ReasonMissingReceipt, "high", now); err != nil {
				return 0, err
			}
			continue
		}
		if deliveredSet[id] {
			continue
		}
		if downstreamConfigured {
			counters.MissingDeliveries++
		} else {
			counters.DownstreamUnconfigured++
		}
	}

	for id, ev := range ingestedSet {
		if ev.SignatureStatus != "verified" {
			counters.FailedVerifications++
			if err := e.openOrRefreshCase(workspaceID, provider, id, models.ReasonFailedVerification, "medium", now); err != nil {
				return 0, err
			}
		}
	}

	if err := e.autoResolve(workspaceID, provider, ingestedSet); err != nil {
		return 0, err
	}

	// Delivered ids are a subset of ingested ids, so the union is P + the
	// ingested ids the provider did not report.
	items := len(providerSet)
	for id := range ingestedSet {
		if _, inProvider := providerSet[id]; !inProvider {
			items++
		}
	}
	return items, nil
}

func (e *Engine) openOrRefreshCase(workspaceID, provider, providerEventID, reason, severity string, now int64) error {
	existing, err := e.cases.GetByDetection(workspaceID, provider, providerEventID, reason)
	if err != nil {
		return err
	}

	if existing == nil {
		c := &models.ReconciliationCase{
			WorkspaceID:       workspaceID,
			Provider:          provider,
			ProviderPaymentID: providerEventID,
			Status:            models.CaseStatusOpen,
			Severity:          severity,
			ReasonCode:        reason,
			FirstDetectedAt:   now,
			LastSeenAt:        now,
		}
		if err := e.cases.Create(c); err != nil {
			if err == repositories.ErrDuplicate {
				// Concurrent run won the insert; nothing to record.
				return nil
			}
			return err
		}
		return e.cases.AppendEvent(&models.CaseEvent{
			CaseID:    c.ID,
			EventType: models.CaseEventOpened,
			Details:   reason,
		})
	}

	if existing.Status == models.CaseStatusResolved {
		return e.cases.Reopen(existing.ID, now)
	}
	return e.cases.Refresh(existing.ID, now)
}

// autoResolve closes unresolved cases whose underlying id now reconciles: a
// missing receipt that has since been ingested, or a failed verification
// whose receipt is now verified.
func (e *Engine) autoResolve(workspaceID, provider string, ingestedSet map[string]*models.IngestedEvent) error {
	unresolved, err := e.cases.ListUnresolved(workspaceID, provider)
	if err != nil {
		return err
	}

	for _, c := range unresolved {
		ev, received := ingestedSet[c.ProviderPaymentID]
		reconciled := false
		switch c.ReasonCode {
		case models.ReasonMissingReceipt:
			reconciled = received
		case models.ReasonFailedVerification:
			reconciled = received && ev.SignatureStatus == "verified"
		}
		if !reconciled {
			continue
		}

		if err := e.cases.AutoResolve(c.ID); err != nil {
			return err
		}
		if err := e.cases.AppendEvent(&models.CaseEvent{
			CaseID:    c.ID,
			EventType: models.CaseEventAutoResolved,
			Details:   "id reconciled on a later run",
		}); err != nil {
			return err
		}
	}
	return nil
}

// fail finalizes the run as failed with an error code on the report instead
// of dropping it.
func (e *Engine) fail(run *models.ReconciliationRun, report *models.ReconciliationReport, code string) error {
	report.ErrorCode = code
	report.GeneratedAt = time.Now().Unix()
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return err
	}
	run.Status = models.RunStatusFailed
	return e.runs.Finalize(run.ID, models.RunStatusFailed, 0, 0, reportJSON)
}
