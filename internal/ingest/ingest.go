// Package ingest is the batched sample-ingestion path for run telemetry.
package ingest

import (
	"context"

	"proxyward/internal/apperr"
	"proxyward/internal/logger"
	"proxyward/internal/model"

	"gorm.io/gorm"
)

// MaxBatchSize caps one ingestion call. The worker splits larger reports.
const MaxBatchSize = 100

type Ingestor struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ingestor {
	return &Ingestor{db: db}
}

// IngestHTTPSamples appends a batch of samples to a run as a single atomic
// write: either every row lands or none do. Seq values are stored verbatim —
// no renumbering, no dedup; ordering for display is measured_at, not seq.
func (i *Ingestor) IngestHTTPSamples(ctx context.Context, runID string, samples []model.HttpSample) (int, error) {
	if len(samples) == 0 {
		return 0, apperr.Validation("samples array is required")
	}
	if len(samples) > MaxBatchSize {
		return 0, apperr.Validation("maximum %d samples per batch", MaxBatchSize)
	}

	var run model.TestRun
	if err := i.db.WithContext(ctx).Select("id").First(&run, "id = ?", runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, apperr.NotFound("run %s not found", runID)
		}
		return 0, err
	}

	for idx := range samples {
		s := &samples[idx]
		if s.TargetURL == "" {
			return 0, apperr.Validation("sample %d: target_url is required", idx)
		}
		if s.Seq < 0 {
			return 0, apperr.Validation("sample %d: seq must be non-negative", idx)
		}
		s.RunID = runID
		if s.Method == "" {
			s.Method = "GET"
		}
	}

	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&samples).Error
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Infow("Batch ingestion",
		"run_id", runID,
		"table", "http_samples",
		"count", len(samples),
	)
	return len(samples), nil
}
