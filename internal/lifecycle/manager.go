// Package lifecycle owns the run state machine and the dispatch protocol to
// the external worker.
//
// States: pending → running → {completed, failed, cancelled}, plus
// running → stopping → terminal. Every transition is a conditional write
// guarded on the expected prior status, so racing callers cannot double-fire
// a transition or resurrect a terminal run.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"proxyward/internal/apperr"
	"proxyward/internal/dispatch"
	"proxyward/internal/logger"
	"proxyward/internal/model"
	"proxyward/internal/vault"

	"gorm.io/gorm"
)

// Dispatcher is the worker contract the manager depends on.
type Dispatcher interface {
	Trigger(ctx context.Context, runs []dispatch.TriggerRun) error
	Stop(ctx context.Context, runID string) error
}

type Manager struct {
	db     *gorm.DB
	vault  *vault.Vault
	worker Dispatcher
	target dispatch.Target
}

func NewManager(db *gorm.DB, v *vault.Vault, worker Dispatcher, target dispatch.Target) *Manager {
	return &Manager{db: db, vault: v, worker: worker, target: target}
}

// Create persists a pending run with its immutable config snapshot. Pure
// local write; nothing is dispatched.
func (m *Manager) Create(ctx context.Context, proxyID, runMode string, cfg model.RunConfig) (*model.TestRun, error) {
	if runMode == "" {
		runMode = model.ModeContinuous
	}
	if runMode != model.ModeContinuous && runMode != model.ModeFixed {
		return nil, apperr.Validation("run_mode must be %q or %q", model.ModeContinuous, model.ModeFixed)
	}

	var proxy model.ProxyEndpoint
	if err := m.db.WithContext(ctx).Select("id").First(&proxy, "id = ?", proxyID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("proxy %s not found", proxyID)
		}
		return nil, err
	}

	run := model.TestRun{
		ProxyID: proxyID,
		RunMode: runMode,
		Config:  cfg,
		Status:  model.StatusPending,
	}
	if err := m.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}

	logger.Log.Infow("Run created",
		"run_id", run.ID,
		"proxy_id", proxyID,
		"run_mode", runMode,
	)
	return &run, nil
}

// TriggerResult reports per-call counts plus one human-readable error per
// skipped or reverted run. Partial input problems never raise.
type TriggerResult struct {
	Triggered int      `json:"triggered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

// Trigger prepares each pending run independently — load, decrypt, CAS to
// running — then hands the whole batch to the worker in one call. The batch
// is all-or-nothing: if the worker rejects it or is unreachable, every
// prepared run is reverted to failed.
func (m *Manager) Trigger(ctx context.Context, runIDs []string) (TriggerResult, error) {
	var prepared []dispatch.TriggerRun
	errs := []string{}

	for _, runID := range runIDs {
		payload, err := m.prepareRun(ctx, runID)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		prepared = append(prepared, *payload)
	}

	if len(prepared) == 0 {
		return TriggerResult{Triggered: 0, Failed: len(errs), Errors: errs}, nil
	}

	runIDsPrepared := make([]string, len(prepared))
	for i, p := range prepared {
		runIDsPrepared[i] = p.RunID
	}
	logger.Log.Infow("Run batch dispatched to worker",
		"run_count", len(prepared),
		"run_ids", runIDsPrepared,
	)

	if err := m.worker.Trigger(ctx, prepared); err != nil {
		logger.Log.Errorw("Worker trigger failed, reverting batch",
			"run_ids", runIDsPrepared,
			"error_detail", err.Error(),
		)
		m.revertPrepared(ctx, runIDsPrepared, err.Error())
		errs = append(errs, err.Error())
		return TriggerResult{Triggered: 0, Failed: len(prepared) + len(errs) - 1, Errors: errs}, nil
	}

	return TriggerResult{Triggered: len(prepared), Failed: len(errs), Errors: errs}, nil
}

// prepareRun validates one run and locally transitions it to running. The
// returned payload holds the decrypted credential; it lives only until the
// dispatch call returns.
func (m *Manager) prepareRun(ctx context.Context, runID string) (*dispatch.TriggerRun, error) {
	var run model.TestRun
	if err := m.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	if run.Status != model.StatusPending {
		return nil, fmt.Errorf("run %s is not in pending status (current: %s)", runID, run.Status)
	}

	var proxy model.ProxyEndpoint
	if err := m.db.WithContext(ctx).First(&proxy, "id = ?", run.ProxyID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("proxy for run %s not found", runID)
		}
		return nil, err
	}

	authPass := ""
	if proxy.AuthPassEnc != "" {
		plain, err := m.vault.Decrypt(proxy.AuthPassEnc, proxy.Label)
		if err != nil {
			logger.Log.Errorw("Password decrypt failed",
				"run_id", runID,
				"proxy_label", proxy.Label,
				"error_detail", err.Error(),
			)
			return nil, fmt.Errorf("failed to decrypt password for run %s", runID)
		}
		authPass = plain
	}

	// Atomic pending→running: the status check and the transition are one
	// conditional UPDATE, so two racing triggers produce exactly one winner.
	now := time.Now().UTC()
	res := m.db.WithContext(ctx).Model(&model.TestRun{}).
		Where("id = ? AND status = ?", runID, model.StatusPending).
		Updates(map[string]interface{}{
			"status":     model.StatusRunning,
			"started_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("run %s is not in pending status (current: %s)", runID, model.StatusRunning)
	}

	logger.Log.Infow("Run status changed",
		"run_id", runID,
		"old_status", model.StatusPending,
		"new_status", model.StatusRunning,
	)

	return &dispatch.TriggerRun{
		RunID: runID,
		Proxy: dispatch.ProxyInfo{
			Host:            proxy.Host,
			Port:            proxy.Port,
			Protocol:        proxy.Protocol,
			AuthUser:        proxy.AuthUser,
			AuthPass:        authPass,
			ExpectedCountry: proxy.ExpectedCountry,
			Label:           proxy.Label,
		},
		Config: run.Config,
		Target: m.target,
	}, nil
}

// revertPrepared rolls every prepared run back to failed. Guarded on running
// so a status callback that raced ahead is not clobbered.
func (m *Manager) revertPrepared(ctx context.Context, runIDs []string, reason string) {
	now := time.Now().UTC()
	for _, runID := range runIDs {
		res := m.db.WithContext(ctx).Model(&model.TestRun{}).
			Where("id = ? AND status = ?", runID, model.StatusRunning).
			Updates(map[string]interface{}{
				"status":        model.StatusFailed,
				"error_message": reason,
				"finished_at":   now,
			})
		if res.Error != nil {
			logger.Log.Errorw("Run revert failed",
				"run_id", runID,
				"error_detail", res.Error.Error(),
			)
			continue
		}
		logger.Log.Infow("Run status changed",
			"run_id", runID,
			"old_status", model.StatusRunning,
			"new_status", model.StatusFailed,
		)
	}
}

// Stop transitions a running run to stopping and forwards the stop to the
// worker best-effort. A worker that cannot be reached does not fail the
// caller; the run stays stopping until a status callback finishes it.
func (m *Manager) Stop(ctx context.Context, runID string) (*model.TestRun, error) {
	var run model.TestRun
	if err := m.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("run %s not found", runID)
		}
		return nil, err
	}
	if run.Status != model.StatusRunning {
		return nil, apperr.InvalidState("cannot stop run with status %s", run.Status)
	}

	now := time.Now().UTC()
	res := m.db.WithContext(ctx).Model(&model.TestRun{}).
		Where("id = ? AND status = ?", runID, model.StatusRunning).
		Updates(map[string]interface{}{
			"status":     model.StatusStopping,
			"stopped_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InvalidState("cannot stop run %s: status changed concurrently", runID)
	}

	logger.Log.Infow("Run status changed",
		"run_id", runID,
		"old_status", model.StatusRunning,
		"new_status", model.StatusStopping,
	)
	logger.Log.Infow("Stop requested", "run_id", runID, "requested_by", "user")

	if err := m.worker.Stop(ctx, runID); err != nil {
		logger.Log.Errorw("Stop forward failed",
			"run_id", runID,
			"error_detail", err.Error(),
		)
	}

	if err := m.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// StatusUpdate is the worker callback payload: a status transition with
// optional counter refreshes.
type StatusUpdate struct {
	Status            string  `json:"status"`
	TotalHTTPSamples  *int    `json:"total_http_samples"`
	TotalHTTPSSamples *int    `json:"total_https_samples"`
	TotalWSSamples    *int    `json:"total_ws_samples"`
	ErrorMessage      *string `json:"error_message"`
}

// UpdateStatus applies a worker-reported transition. This is the only path
// that can move a run out of running/stopping into a terminal state.
// Terminal states are absorbing: a late callback for a finished run is
// rejected, never replayed over the final state.
func (m *Manager) UpdateStatus(ctx context.Context, runID string, upd StatusUpdate) (*model.TestRun, error) {
	if upd.Status == "" {
		return nil, apperr.Validation("status is required")
	}
	if !model.IsValidStatus(upd.Status) {
		return nil, apperr.Validation("unknown status %q", upd.Status)
	}

	var run model.TestRun
	if err := m.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("run %s not found", runID)
		}
		return nil, err
	}

	if !transitionAllowed(run.Status, upd.Status) {
		return nil, apperr.InvalidState("cannot move run from %s to %s", run.Status, upd.Status)
	}

	updates := map[string]interface{}{"status": upd.Status}
	if upd.TotalHTTPSamples != nil {
		updates["total_http_samples"] = *upd.TotalHTTPSamples
	}
	if upd.TotalHTTPSSamples != nil {
		updates["total_https_samples"] = *upd.TotalHTTPSSamples
	}
	if upd.TotalWSSamples != nil {
		updates["total_ws_samples"] = *upd.TotalWSSamples
	}
	if upd.ErrorMessage != nil {
		updates["error_message"] = *upd.ErrorMessage
	}
	if model.IsTerminalStatus(upd.Status) {
		updates["finished_at"] = time.Now().UTC()
	}

	// Guard on the status we just observed so a racing transition cannot be
	// overwritten with stale state.
	res := m.db.WithContext(ctx).Model(&model.TestRun{}).
		Where("id = ? AND status = ?", runID, run.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperr.InvalidState("run %s changed state concurrently", runID)
	}

	logger.Log.Infow("Run status changed",
		"run_id", runID,
		"old_status", run.Status,
		"new_status", upd.Status,
	)

	if err := m.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// transitionAllowed encodes the callback edges of the state machine.
// Same-status writes are allowed for counter refreshes while a run is live.
func transitionAllowed(from, to string) bool {
	if model.IsTerminalStatus(from) {
		return false
	}
	switch from {
	case model.StatusRunning:
		return to == model.StatusRunning || to == model.StatusStopping || model.IsTerminalStatus(to)
	case model.StatusStopping:
		return to == model.StatusStopping || model.IsTerminalStatus(to)
	case model.StatusPending:
		// The worker never legitimately reports on a run that was not
		// dispatched; only the trigger path moves pending forward.
		return false
	}
	return false
}
