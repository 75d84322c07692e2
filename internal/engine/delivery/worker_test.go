package delivery

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"lanceiq/internal/engine/envelope"
	"lanceiq/internal/engine/outbound"
	"lanceiq/internal/platform/models"
	"lanceiq/internal/platform/repositories"
)

func setupDeliveryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE delivery_targets (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE delivery_jobs (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 0,
		ingested_event_id TEXT,
		trigger_source TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 8,
		next_attempt_at INTEGER,
		last_error TEXT,
		last_http_status INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (workspace_id, idempotency_key)
	);
	CREATE TABLE delivery_attempts (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		http_status INTEGER,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		response_summary TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE TABLE circuit_breakers (
		workspace_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'closed',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		opened_at INTEGER,
		last_checked_at INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, target_id)
	);
	CREATE TABLE delivery_replay_nonces (
		workspace_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		nonce TEXT NOT NULL,
		request_ts INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, target_id, nonce)
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}
	return db
}

// scriptedTransport serves canned responses keyed by URL.
type scriptedTransport struct {
	responses map[string]func() (*http.Response, error)
	calls     int
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	fn, found := s.responses[req.URL.String()]
	if !found {
		return nil, errors.New("unexpected request: " + req.URL.String())
	}
	return fn()
}

func canned(status int, body string) func() (*http.Response, error) {
	return func() (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

type fixture struct {
	db        *sql.DB
	jobs      *repositories.JobRepository
	targets   *repositories.TargetRepository
	breakers  *repositories.BreakerRepository
	nonces    *repositories.NonceRepository
	control   *BreakerControl
	transport *scriptedTransport
	worker    *Worker
	queue     *Queue
}

func newFixture(t *testing.T) *fixture {
	db := setupDeliveryDB(t)
	t.Cleanup(func() { db.Close() })

	guard := outbound.NewGuard(false)
	guard.LookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	transport := &scriptedTransport{responses: map[string]func() (*http.Response, error){}}
	client := outbound.NewClient(guard, 5*time.Second, 0, 4096).WithTransport(transport)

	jobs := repositories.NewJobRepository(db)
	targets := repositories.NewTargetRepository(db)
	breakers := repositories.NewBreakerRepository(db)
	control := NewBreakerControl(breakers, 3, 5*time.Minute)

	return &fixture{
		db:        db,
		jobs:      jobs,
		targets:   targets,
		breakers:  breakers,
		nonces:    repositories.NewNonceRepository(db),
		control:   control,
		transport: transport,
		worker:    NewWorker(jobs, targets, control, client, "key_1", 50),
		queue:     NewQueue(jobs, targets, 8),
	}
}

func (f *fixture) addTarget(t *testing.T, id string, active bool) *models.DeliveryTarget {
	target := &models.DeliveryTarget{
		ID:          id,
		WorkspaceID: "ws_1",
		URL:         "https://" + id + ".example.com/hooks",
		Secret:      "whsec_" + id,
		IsActive:    active,
	}
	if err := f.targets.Create(target); err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}
	return target
}

func (f *fixture) event() *models.IngestedEvent {
	return &models.IngestedEvent{
		ID:               "evt_1",
		WorkspaceID:      "ws_1",
		RawBody:          []byte(`{"id":"evt_provider_1"}`),
		Headers:          map[string]string{"content-type": "application/json"},
		ContentType:      "application/json",
		DetectedProvider: "stripe",
		ProviderEventID:  "evt_provider_1",
		SignatureStatus:  "verified",
		ReceivedAt:       time.Now().Unix(),
	}
}

func TestQueue_EnqueueForwardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "tgt_a", true)
	f.addTarget(t, "tgt_b", true)

	first, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("Expected one job per active target, got %d", len(first))
	}

	second, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Second enqueue failed: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("Expected 2 jobs back, got %d", len(second))
	}

	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM delivery_jobs`).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 rows after double enqueue, got %d", count)
	}
	if second[0].ID != first[0].ID {
		t.Error("Expected second enqueue to return the existing job")
	}
}

func TestQueue_EnqueueSkipsInactiveTargets(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "tgt_a", true)
	f.addTarget(t, "tgt_off", false)

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].TargetID != "tgt_a" {
		t.Errorf("Expected a single job for the active target, got %+v", jobs)
	}
}

func TestQueue_EnqueueWithoutRawBody(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "tgt_a", true)

	event := f.event()
	event.RawBody = nil

	_, err := f.queue.EnqueueForEvent(event, models.TriggerForward, "usr_1", 0)
	if err != ErrRawBodyUnavailable {
		t.Errorf("Expected raw_body_unavailable, got %v", err)
	}
}

func TestQueue_ReplayEnqueuesFreshJob(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "tgt_a", true)

	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerReplay, "usr_1", 0); err != nil {
		t.Fatalf("Replay enqueue failed: %v", err)
	}
	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerReplay, "usr_1", 0); err != nil {
		t.Fatalf("Second replay enqueue failed: %v", err)
	}

	var count int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM delivery_jobs`).Scan(&count); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected replays to create distinct jobs, got %d rows", count)
	}
}

func TestWorker_DeliversAndResetsBreaker(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)
	f.transport.responses[target.URL] = canned(200, "ok")

	// Pre-existing failures from an earlier run.
	if _, err := f.breakers.IncrementFailures("ws_1", target.ID); err != nil {
		t.Fatalf("IncrementFailures failed: %v", err)
	}

	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Status != models.JobStatusSucceeded || results[0].Code != models.CodeDelivered {
		t.Errorf("Expected delivered, got %+v", results[0])
	}

	state, _ := f.breakers.Get("ws_1", target.ID)
	if state.ConsecutiveFailures != 0 || state.State != models.BreakerClosed {
		t.Errorf("Expected breaker reset on success, got %+v", state)
	}

	var attempts int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM delivery_attempts`).Scan(&attempts); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt row, got %d", attempts)
	}
}

func TestWorker_InactiveTargetLeavesBreakerUntouched(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := f.targets.Deactivate("ws_1", target.ID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Code != models.CodeTargetNotActive {
		t.Fatalf("Expected target_not_active, got %+v", results)
	}

	job, _ := f.jobs.GetByID("ws_1", jobs[0].ID)
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected job failed, got %s", job.Status)
	}
	if job.AttemptCount != 0 {
		t.Errorf("Expected no attempt consumed, got %d", job.AttemptCount)
	}

	state, _ := f.breakers.Get("ws_1", target.ID)
	if state != nil {
		t.Errorf("Expected breaker untouched, got %+v", state)
	}
	if f.transport.calls != 0 {
		t.Errorf("Expected no send, got %d calls", f.transport.calls)
	}
}

func TestWorker_OpenBreakerShortCircuits(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)

	opened := time.Now().Unix()
	if err := f.breakers.SetState("ws_1", target.ID, models.BreakerOpen, &opened); err != nil {
		t.Fatalf("SetState failed: %v", err)
	}

	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Code != models.CodeBreakerOpen {
		t.Fatalf("Expected target_breaker_open, got %+v", results)
	}
	if f.transport.calls != 0 {
		t.Errorf("Expected no send through an open breaker, got %d calls", f.transport.calls)
	}
}

func TestWorker_HTTPErrorOpensBreakerAtThreshold(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)
	f.transport.responses[target.URL] = canned(500, "boom")

	event := f.event()
	for i := 0; i < 3; i++ {
		if _, err := f.queue.EnqueueForEvent(event, models.TriggerReplay, "usr_1", 0); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Code != models.CodeHTTPError {
			t.Errorf("Expected http_error, got %+v", r)
		}
	}

	state, _ := f.breakers.Get("ws_1", target.ID)
	if state.State != models.BreakerOpen {
		t.Errorf("Expected breaker open after threshold, got %s", state.State)
	}
	if state.ConsecutiveFailures != 3 {
		t.Errorf("Expected 3 consecutive failures, got %d", state.ConsecutiveFailures)
	}
}

func TestWorker_TransientFailureReschedules(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)
	f.transport.responses[target.URL] = canned(503, "unavailable")

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job, _ := f.jobs.GetByID("ws_1", jobs[0].ID)
	if job.Status != models.JobStatusPending {
		t.Errorf("Expected job back to pending, got %s", job.Status)
	}
	if job.AttemptCount != 1 {
		t.Errorf("Expected 1 attempt consumed, got %d", job.AttemptCount)
	}
	if job.NextAttemptAt == nil || *job.NextAttemptAt <= time.Now().Unix() {
		t.Error("Expected a future next_attempt_at")
	}

	// Not due yet, so a second run finds nothing.
	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no due jobs, got %d", len(results))
	}
}

func TestWorker_MaxAttemptsMarksFailed(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)
	f.transport.responses[target.URL] = canned(500, "boom")

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Already on the final attempt.
	if _, err := f.db.Exec(`UPDATE delivery_jobs SET attempt_count = 7 WHERE id = ?`, jobs[0].ID); err != nil {
		t.Fatalf("Failed to bump attempt count: %v", err)
	}

	if _, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	job, _ := f.jobs.GetByID("ws_1", jobs[0].ID)
	if job.Status != models.JobStatusFailed {
		t.Errorf("Expected terminal failure, got %s", job.Status)
	}
	if !strings.HasPrefix(job.LastError, models.CodeMaxAttempts) {
		t.Errorf("Expected max_attempts_reached error, got %q", job.LastError)
	}
}

func TestWorker_CorruptPayloadFailsPermanently(t *testing.T) {
	f := newFixture(t)
	f.addTarget(t, "tgt_a", true)

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := f.db.Exec(`UPDATE delivery_jobs SET payload = ? WHERE id = ?`, []byte("not json"), jobs[0].ID); err != nil {
		t.Fatalf("Failed to corrupt payload: %v", err)
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Code != models.CodePayloadCorrupt {
		t.Errorf("Expected payload_corrupt, got %+v", results)
	}
	if f.transport.calls != 0 {
		t.Errorf("Expected no send for corrupt payload, got %d calls", f.transport.calls)
	}
}

func TestWorker_RunJobSynchronous(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)
	f.transport.responses[target.URL] = canned(200, "ok")

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerTestWebhook, "usr_1", 0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	result, err := f.worker.RunJob(context.Background(), "ws_1", jobs[0].ID)
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if result.Code != models.CodeDelivered {
		t.Errorf("Expected delivered, got %+v", result)
	}

	// Already terminal.
	if _, err := f.worker.RunJob(context.Background(), "ws_1", jobs[0].ID); err != ErrJobNotRunnable {
		t.Errorf("Expected job_not_runnable on rerun, got %v", err)
	}

	if _, err := f.worker.RunJob(context.Background(), "ws_1", "job_missing"); err != ErrJobNotFound {
		t.Errorf("Expected job_not_found, got %v", err)
	}
}

func TestWorker_EnvelopeSurvivesToWire(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_a", true)

	var sentBody []byte
	var sentHeaders http.Header
	f.transport.responses[target.URL] = canned(200, "ok")

	guard := outbound.NewGuard(false)
	guard.LookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	capture := &captureTransport{inner: f.transport, body: &sentBody, headers: &sentHeaders}
	client := outbound.NewClient(guard, 5*time.Second, 0, 4096).WithTransport(capture)
	worker := NewWorker(f.jobs, f.targets, f.control, client, "key_1", 50)

	event := f.event()
	if _, err := f.queue.EnqueueForEvent(event, models.TriggerForward, "usr_1", 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := worker.Run(context.Background(), "ws_1", 10, "runner_1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	_, raw, ok := envelope.Decode(sentBody)
	if !ok {
		t.Fatal("Expected wire payload to be a decodable envelope")
	}
	if string(raw) != string(event.RawBody) {
		t.Errorf("Expected original bytes on the wire, got %q", raw)
	}

	ts := sentHeaders.Get(outbound.HeaderTimestamp)
	nonce := sentHeaders.Get(outbound.HeaderNonce)
	sig := sentHeaders.Get(outbound.HeaderSignature)
	if err := outbound.VerifySignedRequest(sentBody, target.Secret, ts, nonce, sig, 5*time.Minute); err != nil {
		t.Errorf("Expected wire signature to verify, got %v", err)
	}
}

type captureTransport struct {
	inner   http.RoundTripper
	body    *[]byte
	headers *http.Header
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	*c.body = b
	*c.headers = req.Header.Clone()
	req.Body = io.NopCloser(strings.NewReader(string(b)))
	return c.inner.RoundTrip(req)
}

func TestWorker_RunClampsBatchLimit(t *testing.T) {
	f := newFixture(t)

	guard := outbound.NewGuard(false)
	guard.LookupIP = func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}
	client := outbound.NewClient(guard, 5*time.Second, 0, 4096).WithTransport(f.transport)
	worker := NewWorker(f.jobs, f.targets, f.control, client, "key_1", 2)

	for _, id := range []string{"tgt_1", "tgt_2", "tgt_3"} {
		target := f.addTarget(t, id, true)
		f.transport.responses[target.URL] = canned(200, "ok")
	}
	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// A negative limit must not mean "unlimited".
	results, err := worker.Run(context.Background(), "ws_1", -1, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected batch of 2 with limit -1, got %d", len(results))
	}

	var pending int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM delivery_jobs WHERE status = 'pending'`).Scan(&pending); err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 job left for the next run, got %d", pending)
	}

	// Zero falls back to the batch limit instead of selecting nothing.
	results, err = worker.Run(context.Background(), "ws_1", 0, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the remaining job with limit 0, got %d results", len(results))
	}

	// An oversized limit is clamped down to the batch limit.
	if _, err := f.queue.EnqueueForEvent(f.event(), models.TriggerReplay, "usr_1", 0); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	results, err = worker.Run(context.Background(), "ws_1", 100000, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected batch of 2 with oversized limit, got %d", len(results))
	}
}

func TestWorker_ReclaimsStaleClaims(t *testing.T) {
	f := newFixture(t)
	target := f.addTarget(t, "tgt_1", true)
	f.transport.responses[target.URL] = canned(200, "ok")

	jobs, err := f.queue.EnqueueForEvent(f.event(), models.TriggerForward, "usr_1", 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Enqueue failed: jobs=%d err=%v", len(jobs), err)
	}

	// Simulate a worker that died after claiming: the claim is an hour old.
	stale := time.Now().Add(-time.Hour).Unix()
	if _, err := f.db.Exec(`UPDATE delivery_jobs SET status = 'in_progress', updated_at = ? WHERE id = ?`, stale, jobs[0].ID); err != nil {
		t.Fatalf("stale claim setup: %v", err)
	}

	results, err := f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 1 || results[0].Code != models.CodeDelivered {
		t.Fatalf("expected reclaimed job to deliver, got %+v", results)
	}

	// A claim held right now by another runner stays claimed.
	jobs, err = f.queue.EnqueueForEvent(f.event(), models.TriggerReplay, "usr_1", 0)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Enqueue failed: jobs=%d err=%v", len(jobs), err)
	}
	if _, err := f.db.Exec(`UPDATE delivery_jobs SET status = 'in_progress', updated_at = ? WHERE id = ?`, time.Now().Unix(), jobs[0].ID); err != nil {
		t.Fatalf("fresh claim setup: %v", err)
	}

	results, err = f.worker.Run(context.Background(), "ws_1", 10, "runner_1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected fresh claim to be left alone, got %d results", len(results))
	}

	var status string
	if err := f.db.QueryRow(`SELECT status FROM delivery_jobs WHERE id = ?`, jobs[0].ID).Scan(&status); err != nil {
		t.Fatalf("status read: %v", err)
	}
	if status != models.JobStatusInProgress {
		t.Fatalf("expected fresh claim to stay in_progress, got %s", status)
	}
}
