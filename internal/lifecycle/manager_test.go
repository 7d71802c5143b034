package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"proxyward/internal/apperr"
	"proxyward/internal/db"
	"proxyward/internal/dispatch"
	"proxyward/internal/model"
	"proxyward/internal/vault"

	"gorm.io/gorm"
)

type fakeWorker struct {
	triggerCalls [][]dispatch.TriggerRun
	stopCalls    []string
	triggerErr   error
	stopErr      error
}

func (f *fakeWorker) Trigger(_ context.Context, runs []dispatch.TriggerRun) error {
	f.triggerCalls = append(f.triggerCalls, runs)
	return f.triggerErr
}

func (f *fakeWorker) Stop(_ context.Context, runID string) error {
	f.stopCalls = append(f.stopCalls, runID)
	return f.stopErr
}

type fixture struct {
	db      *gorm.DB
	mgr     *Manager
	worker  *fakeWorker
	vault   *vault.Vault
	proxyID string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	database, err := db.Connect(":memory:")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close(database) })

	v, err := vault.New("")
	if err != nil {
		t.Fatal(err)
	}

	provider := model.Provider{Name: "acme"}
	database.Create(&provider)

	enc, err := v.Encrypt("s3cret", "us-1")
	if err != nil {
		t.Fatal(err)
	}
	proxy := model.ProxyEndpoint{
		ProviderID:  provider.ID,
		Label:       "us-1",
		Host:        "10.0.0.1",
		Port:        8080,
		Protocol:    model.ProtocolHTTP,
		AuthUser:    "user",
		AuthPassEnc: enc,
	}
	database.Create(&proxy)

	worker := &fakeWorker{}
	target := dispatch.Target{HTTPURL: "http://target:3001", HTTPSURL: "https://target:3443"}
	return &fixture{
		db:      database,
		mgr:     NewManager(database, v, worker, target),
		worker:  worker,
		vault:   v,
		proxyID: proxy.ID,
	}
}

func (fx *fixture) createRun(t *testing.T) *model.TestRun {
	t.Helper()
	run, err := fx.mgr.Create(context.Background(), fx.proxyID, model.ModeContinuous, model.RunConfig{
		HTTPRPM:            500,
		HTTPSRPM:           500,
		RequestTimeoutMs:   10000,
		WarmupRequests:     5,
		SummaryIntervalSec: 30,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func (fx *fixture) reload(t *testing.T, id string) model.TestRun {
	t.Helper()
	var run model.TestRun
	if err := fx.db.First(&run, "id = ?", id).Error; err != nil {
		t.Fatalf("reload run %s: %v", id, err)
	}
	return run
}

func TestCreate(t *testing.T) {
	fx := setup(t)

	run := fx.createRun(t)
	if run.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", run.Status)
	}
	if run.Config.HTTPRPM != 500 {
		t.Errorf("config snapshot not persisted: %+v", run.Config)
	}
	if len(fx.worker.triggerCalls) != 0 {
		t.Error("create must not dispatch")
	}
}

func TestCreateProxyNotFound(t *testing.T) {
	fx := setup(t)

	_, err := fx.mgr.Create(context.Background(), "no-such-proxy", model.ModeContinuous, model.RunConfig{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("got %v, want NotFound", err)
	}
}

func TestCreateBadMode(t *testing.T) {
	fx := setup(t)

	_, err := fx.mgr.Create(context.Background(), fx.proxyID, "turbo", model.RunConfig{})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("got %v, want ValidationError", err)
	}
}

func TestTriggerHappyPath(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)

	res, err := fx.mgr.Trigger(context.Background(), []string{run.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 1 || res.Failed != 0 || len(res.Errors) != 0 {
		t.Errorf("result = %+v, want 1 triggered", res)
	}

	got := fx.reload(t, run.ID)
	if got.Status != model.StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("started_at not stamped")
	}

	if len(fx.worker.triggerCalls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(fx.worker.triggerCalls))
	}
	payload := fx.worker.triggerCalls[0][0]
	if payload.Proxy.AuthPass != "s3cret" {
		t.Errorf("auth_pass = %q, want decrypted secret", payload.Proxy.AuthPass)
	}
	if payload.Target.HTTPURL != "http://target:3001" {
		t.Errorf("target = %+v", payload.Target)
	}
}

// One dispatch call per batch, never per run.
func TestTriggerBatchesSingleDispatch(t *testing.T) {
	fx := setup(t)
	r1 := fx.createRun(t)
	r2 := fx.createRun(t)
	r3 := fx.createRun(t)

	res, err := fx.mgr.Trigger(context.Background(), []string{r1.ID, r2.ID, r3.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 3 {
		t.Errorf("triggered = %d, want 3", res.Triggered)
	}
	if len(fx.worker.triggerCalls) != 1 {
		t.Errorf("dispatch calls = %d, want exactly 1", len(fx.worker.triggerCalls))
	}
	if len(fx.worker.triggerCalls[0]) != 3 {
		t.Errorf("batch size = %d, want 3", len(fx.worker.triggerCalls[0]))
	}
}

// Dispatch failure reverts every prepared run to failed with an error
// message, regardless of which succeeded locally first.
func TestTriggerAllOrNothingRevert(t *testing.T) {
	fx := setup(t)
	r1 := fx.createRun(t)
	r2 := fx.createRun(t)
	fx.worker.triggerErr = apperr.Dispatch("worker responded 503: overloaded")

	res, err := fx.mgr.Trigger(context.Background(), []string{r1.ID, r2.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 0 || res.Failed != 2 {
		t.Errorf("result = %+v, want 0 triggered / 2 failed", res)
	}
	if len(res.Errors) == 0 {
		t.Error("expected dispatch error in result")
	}

	for _, id := range []string{r1.ID, r2.ID} {
		got := fx.reload(t, id)
		if got.Status != model.StatusFailed {
			t.Errorf("run %s status = %s, want failed", id, got.Status)
		}
		if got.ErrorMessage == "" {
			t.Errorf("run %s has no error_message", id)
		}
		if got.FinishedAt == nil {
			t.Errorf("run %s has no finished_at", id)
		}
	}
}

// A non-pending run is skipped with a per-id error, without any dispatch.
func TestTriggerNonPendingSkipped(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	fx.db.Model(&model.TestRun{}).Where("id = ?", run.ID).Update("status", model.StatusCompleted)

	res, err := fx.mgr.Trigger(context.Background(), []string{run.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 0 || res.Failed != 1 {
		t.Errorf("result = %+v, want 0 triggered / 1 failed", res)
	}
	if len(fx.worker.triggerCalls) != 0 {
		t.Error("no dispatch call expected for an empty batch")
	}

	got := fx.reload(t, run.ID)
	if got.Status != model.StatusCompleted {
		t.Errorf("status changed to %s, want completed untouched", got.Status)
	}
}

func TestTriggerUnknownRun(t *testing.T) {
	fx := setup(t)

	res, err := fx.mgr.Trigger(context.Background(), []string{"no-such-run"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 1 failed with error", res)
	}
	if !strings.Contains(res.Errors[0], "not found") {
		t.Errorf("error = %q, want not-found message", res.Errors[0])
	}
}

// Mixed batch: the valid run rides along even when siblings are skipped.
func TestTriggerMixedBatch(t *testing.T) {
	fx := setup(t)
	good := fx.createRun(t)

	res, err := fx.mgr.Trigger(context.Background(), []string{good.ID, "no-such-run"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 triggered / 1 failed", res)
	}
	if fx.reload(t, good.ID).Status != model.StatusRunning {
		t.Error("valid run should be running")
	}
}

// A corrupted stored credential skips the run before any state change.
func TestTriggerDecryptFailureSkips(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	fx.db.Model(&model.ProxyEndpoint{}).Where("id = ?", fx.proxyID).
		Update("auth_pass_enc", "AAAA:AAAA:AAAA")

	res, err := fx.mgr.Trigger(context.Background(), []string{run.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Triggered != 0 || res.Failed != 1 {
		t.Errorf("result = %+v, want decrypt skip", res)
	}
	if fx.reload(t, run.ID).Status != model.StatusPending {
		t.Error("run must stay pending after decrypt failure")
	}
	if len(fx.worker.triggerCalls) != 0 {
		t.Error("no dispatch expected")
	}
}

func TestStop(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	if _, err := fx.mgr.Trigger(context.Background(), []string{run.ID}); err != nil {
		t.Fatal(err)
	}

	got, err := fx.mgr.Stop(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusStopping {
		t.Errorf("status = %s, want stopping", got.Status)
	}
	if got.StoppedAt == nil {
		t.Error("stopped_at not stamped")
	}
	if len(fx.worker.stopCalls) != 1 || fx.worker.stopCalls[0] != run.ID {
		t.Errorf("stop calls = %v", fx.worker.stopCalls)
	}
}

// A worker that cannot be reached does not fail the stop; the run stays
// stopping until a callback finishes it.
func TestStopWorkerUnreachable(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	if _, err := fx.mgr.Trigger(context.Background(), []string{run.ID}); err != nil {
		t.Fatal(err)
	}
	fx.worker.stopErr = errors.New("connection refused")

	got, err := fx.mgr.Stop(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("stop must not surface worker failure: %v", err)
	}
	if got.Status != model.StatusStopping {
		t.Errorf("status = %s, want stopping", got.Status)
	}
}

func TestStopInvalidState(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)

	if _, err := fx.mgr.Stop(context.Background(), run.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("stop pending run: got %v, want InvalidState", err)
	}
	if _, err := fx.mgr.Stop(context.Background(), "no-such-run"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("stop missing run: got %v, want NotFound", err)
	}
}

func TestUpdateStatusTerminal(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	if _, err := fx.mgr.Trigger(context.Background(), []string{run.ID}); err != nil {
		t.Fatal(err)
	}

	total := 120
	got, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{
		Status:           model.StatusCompleted,
		TotalHTTPSamples: &total,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not stamped on terminal transition")
	}
	if got.TotalHTTPSamples != 120 {
		t.Errorf("total_http_samples = %d, want 120", got.TotalHTTPSamples)
	}
}

// Terminal states are absorbing: a late callback cannot resurrect a run.
func TestUpdateStatusAbsorbing(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	if _, err := fx.mgr.Trigger(context.Background(), []string{run.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{Status: model.StatusCompleted}); err != nil {
		t.Fatal(err)
	}

	_, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{Status: model.StatusRunning})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("resurrect attempt: got %v, want InvalidState", err)
	}
	_, err = fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{Status: model.StatusFailed})
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("terminal rewrite: got %v, want InvalidState", err)
	}

	if fx.reload(t, run.ID).Status != model.StatusCompleted {
		t.Error("terminal state must stick")
	}
}

func TestUpdateStatusValidation(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)

	if _, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("missing status: got %v, want ValidationError", err)
	}
	if _, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{Status: "exploded"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown status: got %v, want ValidationError", err)
	}
	if _, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{Status: model.StatusRunning}); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("pending→running via callback: got %v, want InvalidState", err)
	}
	if _, err := fx.mgr.UpdateStatus(context.Background(), "no-such-run", StatusUpdate{Status: model.StatusCompleted}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing run: got %v, want NotFound", err)
	}
}

// Counter refresh without a state change while the run is live.
func TestUpdateStatusCountersOnly(t *testing.T) {
	fx := setup(t)
	run := fx.createRun(t)
	if _, err := fx.mgr.Trigger(context.Background(), []string{run.ID}); err != nil {
		t.Fatal(err)
	}

	httpN, wsN := 42, 7
	got, err := fx.mgr.UpdateStatus(context.Background(), run.ID, StatusUpdate{
		Status:           model.StatusRunning,
		TotalHTTPSamples: &httpN,
		TotalWSSamples:   &wsN,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusRunning || got.TotalHTTPSamples != 42 || got.TotalWSSamples != 7 {
		t.Errorf("got %+v", got)
	}
	if got.FinishedAt != nil {
		t.Error("finished_at must stay nil for non-terminal update")
	}
}
