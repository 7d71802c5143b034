// Package summary persists the per-run aggregate metrics reported by the
// worker. One row per run, replaced wholesale on every report.
package summary

import (
	"context"
	"time"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
	"proxyward/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert writes the metrics snapshot for a run, keyed on run identity. An
// existing row is fully overwritten — the worker always sends a complete
// snapshot, never a delta — and computed_at is refreshed. The proxy reference
// is resolved from the run; a missing run is NotFound so summaries cannot be
// orphaned.
func (s *Store) Upsert(ctx context.Context, runID string, metrics model.RunSummary) (*model.RunSummary, error) {
	var run model.TestRun
	if err := s.db.WithContext(ctx).Select("id", "proxy_id").First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("run %s not found", runID)
		}
		return nil, err
	}

	metrics.ID = ""
	metrics.RunID = runID
	metrics.ProxyID = run.ProxyID
	metrics.ComputedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&metrics).Error
	if err != nil {
		return nil, err
	}

	var saved model.RunSummary
	if err := s.db.WithContext(ctx).First(&saved, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}

	totalSamples := saved.HTTPSampleCount + saved.HTTPSSampleCount
	logger.Log.Infow("Summary received",
		"run_id", runID,
		"score_total", deref(saved.ScoreTotal),
		"total_samples", totalSamples,
	)
	return &saved, nil
}

// Get returns the summary for a run, NotFound when the worker has not
// reported one yet.
func (s *Store) Get(ctx context.Context, runID string) (*model.RunSummary, error) {
	var saved model.RunSummary
	if err := s.db.WithContext(ctx).First(&saved, "run_id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("summary for run %s not found", runID)
		}
		return nil, err
	}
	return &saved, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Grade maps a total score onto the letter scale used by read paths. Never
// stored; always derived.
func Grade(scoreTotal float64) string {
	switch {
	case scoreTotal >= 0.90:
		return "A"
	case scoreTotal >= 0.75:
		return "B"
	case scoreTotal >= 0.60:
		return "C"
	case scoreTotal >= 0.40:
		return "D"
	default:
		return "F"
	}
}
