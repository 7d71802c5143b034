package server

import (
	"net/http"

	"proxyward/internal/apperr"
	"proxyward/internal/lifecycle"
	"proxyward/internal/logger"
	"proxyward/internal/model"
	"proxyward/internal/pagination"
	"proxyward/internal/summary"

	"gorm.io/gorm"
)

type createRunRequest struct {
	ProxyID             string `json:"proxy_id"`
	RunMode             string `json:"run_mode"`
	HTTPRPM             *int   `json:"http_rpm"`
	HTTPSRPM            *int   `json:"https_rpm"`
	WSMessagesPerMinute *int   `json:"ws_messages_per_minute"`
	RequestTimeoutMs    *int   `json:"request_timeout_ms"`
	WarmupRequests      *int   `json:"warmup_requests"`
	SummaryIntervalSec  *int   `json:"summary_interval_sec"`
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.ProxyID == "" {
		respondError(w, r, apperr.Validation("proxy_id is required"))
		return
	}

	cfg := model.RunConfig{
		HTTPRPM:             intOr(req.HTTPRPM, 500),
		HTTPSRPM:            intOr(req.HTTPSRPM, 500),
		WSMessagesPerMinute: intOr(req.WSMessagesPerMinute, 60),
		RequestTimeoutMs:    intOr(req.RequestTimeoutMs, 10000),
		WarmupRequests:      intOr(req.WarmupRequests, 5),
		SummaryIntervalSec:  intOr(req.SummaryIntervalSec, 30),
	}

	run, err := s.runs.Create(r.Context(), req.ProxyID, req.RunMode, cfg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusCreated, run)
}

func (s *Server) handleStartRuns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunIDs []string `json:"run_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if len(req.RunIDs) == 0 {
		respondError(w, r, apperr.Validation("run_ids array is required"))
		return
	}

	result, err := s.runs.Trigger(r.Context(), req.RunIDs)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": run.Status})
}

// runListItem joins in the labels the dashboard shows next to each run.
type runListItem struct {
	model.TestRun
	ProxyLabel   string `json:"proxy_label"`
	ProviderName string `json:"provider_name"`
}

func (s *Server) runListQuery(r *http.Request) *gorm.DB {
	return s.db.WithContext(r.Context()).Model(&model.TestRun{}).
		Select("test_runs.*, proxy_endpoints.label AS proxy_label, providers.name AS provider_name").
		Joins("LEFT JOIN proxy_endpoints ON test_runs.proxy_id = proxy_endpoints.id").
		Joins("LEFT JOIN providers ON proxy_endpoints.provider_id = providers.id")
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())

	query := s.runListQuery(r)
	if proxyID := r.URL.Query().Get("proxy_id"); proxyID != "" {
		query = query.Where("test_runs.proxy_id = ?", proxyID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("test_runs.status = ?", status)
	}

	rows, page, err := pagination.Page[runListItem](query, params, "test_runs.created_at", "test_runs.id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPage(w, rows, page)
}

type runDetail struct {
	runListItem
	Summary *model.RunSummary `json:"summary"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var item runListItem
	err := s.runListQuery(r).Where("test_runs.id = ?", runID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		respondError(w, r, apperr.NotFound("run not found"))
		return
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	detail := runDetail{runListItem: item}
	if sum, err := s.summaries.Get(r.Context(), runID); err == nil {
		detail.Summary = sum
	}
	respondData(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateRunStatus(w http.ResponseWriter, r *http.Request) {
	var upd lifecycle.StatusUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondError(w, r, err)
		return
	}

	run, err := s.runs.UpdateStatus(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var run model.TestRun
		if err := tx.First(&run, "id = ?", runID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("run not found")
			}
			return err
		}
		if err := tx.Where("run_id = ?", runID).Delete(&model.HttpSample{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", runID).Delete(&model.RunSummary{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.TestRun{}, "id = ?", runID).Error
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger.Log.Infow("Run deleted", "run_id", runID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIngestSamples(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Samples []model.HttpSample `json:"samples"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	inserted, err := s.ingestor.IngestHTTPSamples(r.Context(), r.PathValue("id"), req.Samples)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int{"inserted": inserted})
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	params := pagination.Parse(r.URL.Query())
	q := r.URL.Query()

	query := s.db.WithContext(r.Context()).Model(&model.HttpSample{}).
		Where("run_id = ?", r.PathValue("id"))
	if v := q.Get("is_warmup"); v != "" {
		query = query.Where("is_warmup = ?", v == "true")
	}
	if v := q.Get("is_https"); v != "" {
		query = query.Where("is_https = ?", v == "true")
	}
	if v := q.Get("method"); v != "" {
		query = query.Where("method = ?", v)
	}

	// Samples are keyed on measurement time, not insertion time
	rows, page, err := pagination.Page[model.HttpSample](query, params, "measured_at", "id")
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondPage(w, rows, page)
}

func (s *Server) handleUpsertSummary(w http.ResponseWriter, r *http.Request) {
	var metrics model.RunSummary
	if err := decodeJSON(r, &metrics); err != nil {
		respondError(w, r, err)
		return
	}

	saved, err := s.summaries.Upsert(r.Context(), r.PathValue("id"), metrics)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, saved)
}

// summaryJSON attaches the derived grade; it is never stored.
type summaryJSON struct {
	model.RunSummary
	Grade *string `json:"grade"`
}

func summaryView(s model.RunSummary) summaryJSON {
	view := summaryJSON{RunSummary: s}
	if s.ScoreTotal != nil {
		grade := summary.Grade(*s.ScoreTotal)
		view.Grade = &grade
	}
	return view
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.summaries.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondData(w, http.StatusOK, summaryView(*sum))
}
