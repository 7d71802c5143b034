// Package server exposes the orchestrator API: the dashboard-facing CRUD and
// run control surface, and the callback endpoints the worker reports into.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"proxyward/internal/apperr"
	"proxyward/internal/ingest"
	"proxyward/internal/lifecycle"
	"proxyward/internal/logger"
	"proxyward/internal/summary"
	"proxyward/internal/vault"

	"gorm.io/gorm"
)

type Server struct {
	db         *gorm.DB
	vault      *vault.Vault
	runs       *lifecycle.Manager
	ingestor   *ingest.Ingestor
	summaries  *summary.Store
	corsOrigin string
}

func New(db *gorm.DB, v *vault.Vault, runs *lifecycle.Manager, corsOrigin string) *Server {
	return &Server{
		db:         db,
		vault:      v,
		runs:       runs,
		ingestor:   ingest.New(db),
		summaries:  summary.NewStore(db),
		corsOrigin: corsOrigin,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/v1/providers", s.handleCreateProvider)
	mux.HandleFunc("GET /api/v1/providers", s.handleListProviders)
	mux.HandleFunc("GET /api/v1/providers/{id}", s.handleGetProvider)
	mux.HandleFunc("PUT /api/v1/providers/{id}", s.handleUpdateProvider)
	mux.HandleFunc("DELETE /api/v1/providers/{id}", s.handleDeleteProvider)

	mux.HandleFunc("POST /api/v1/proxies", s.handleCreateProxy)
	mux.HandleFunc("GET /api/v1/proxies", s.handleListProxies)
	mux.HandleFunc("GET /api/v1/proxies/{id}", s.handleGetProxy)
	mux.HandleFunc("PUT /api/v1/proxies/{id}", s.handleUpdateProxy)
	mux.HandleFunc("DELETE /api/v1/proxies/{id}", s.handleDeleteProxy)

	mux.HandleFunc("POST /api/v1/runs", s.handleCreateRun)
	mux.HandleFunc("POST /api/v1/runs/start", s.handleStartRuns)
	mux.HandleFunc("POST /api/v1/runs/{id}/stop", s.handleStopRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("PATCH /api/v1/runs/{id}/status", s.handleUpdateRunStatus)
	mux.HandleFunc("DELETE /api/v1/runs/{id}", s.handleDeleteRun)

	mux.HandleFunc("POST /api/v1/runs/{id}/http-samples/batch", s.handleIngestSamples)
	mux.HandleFunc("GET /api/v1/runs/{id}/http-samples", s.handleListSamples)
	mux.HandleFunc("POST /api/v1/runs/{id}/summary", s.handleUpsertSummary)
	mux.HandleFunc("GET /api/v1/runs/{id}/summary", s.handleGetSummary)

	mux.HandleFunc("GET /api/v1/results/summaries", s.handleListSummaries)

	return s.withMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.corsOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Log.Debugw("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondData(w http.ResponseWriter, status int, v interface{}) {
	respondJSON(w, status, map[string]interface{}{"data": v})
}

func respondPage(w http.ResponseWriter, data, page interface{}) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":       data,
		"pagination": page,
	})
}

// respondError maps the taxonomy onto HTTP statuses. Anything outside it is
// an infrastructure fault: full detail goes to the log, the caller gets a
// generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	default:
		logger.Log.Errorw("Unhandled error",
			"path", r.URL.Path,
			"error_detail", err.Error(),
		)
		message = "Internal server error"
	}

	respondJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"message": message,
			"code":    apperr.Code(err),
		},
	})
}

// decodeJSON rejects malformed bodies as validation errors.
func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

// isUniqueViolation detects unique-constraint failures across drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
