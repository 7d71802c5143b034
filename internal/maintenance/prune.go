// Package maintenance keeps the append-heavy tables from growing without
// bound. Sample rows are never deleted individually; retention works at the
// run level.
package maintenance

import (
	"time"

	"proxyward/internal/logger"
	"proxyward/internal/model"

	"gorm.io/gorm"
)

// PruneRuns deletes terminal runs whose finished_at is older than maxAge,
// together with their samples and summaries. Live runs (pending/running/
// stopping) are never touched. Returns the number of runs removed.
func PruneRuns(db *gorm.DB, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	var ids []string
	err := db.Model(&model.TestRun{}).
		Where("status IN ?", []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled}).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	logger.Log.Infof("✂️  Pruning %d finished runs older than %s", len(ids), maxAge)

	tx := db.Begin()
	if err := tx.Where("run_id IN ?", ids).Delete(&model.HttpSample{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Where("run_id IN ?", ids).Delete(&model.RunSummary{}).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Delete(&model.TestRun{}, ids).Error; err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}

	return int64(len(ids)), nil
}
