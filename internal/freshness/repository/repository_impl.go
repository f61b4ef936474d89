package repository

import (
	"context"

	"github.com/datakilde/varsel/internal/freshness/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, code string) (*domain.DatasetFreshness, error) {
	var fresh domain.DatasetFreshness
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM dataset_freshness WHERE dataset_code = ?`, code,
	).Scan(&fresh).Error
	if err != nil {
		return nil, err
	}
	if fresh.DatasetCode == "" {
		return nil, nil
	}
	return &fresh, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, fresh *domain.DatasetFreshness) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO dataset_freshness (dataset_code, last_checked_at, last_update_detected_at, last_update_completed_at,
		                                needs_full_update, full_update_in_progress, cycle_started_at,
		                                series_updated_count, series_total_count, update_frequency_days)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dataset_code)
		 DO UPDATE SET last_checked_at = EXCLUDED.last_checked_at,
		               last_update_detected_at = EXCLUDED.last_update_detected_at,
		               last_update_completed_at = EXCLUDED.last_update_completed_at,
		               needs_full_update = EXCLUDED.needs_full_update,
		               full_update_in_progress = EXCLUDED.full_update_in_progress,
		               cycle_started_at = EXCLUDED.cycle_started_at,
		               series_updated_count = EXCLUDED.series_updated_count,
		               series_total_count = EXCLUDED.series_total_count,
		               update_frequency_days = EXCLUDED.update_frequency_days`,
		fresh.DatasetCode,
		fresh.LastCheckedAt,
		fresh.LastUpdateDetectedAt,
		fresh.LastUpdateCompletedAt,
		fresh.NeedsFullUpdate,
		fresh.FullUpdateInProgress,
		fresh.CycleStartedAt,
		fresh.SeriesUpdatedCount,
		fresh.SeriesTotalCount,
		fresh.UpdateFrequencyDays,
	).Error
}

func (r *repo) ListEligible(ctx context.Context, db *gorm.DB, providerScope string) ([]*domain.DatasetFreshness, error) {
	var rows []*domain.DatasetFreshness
	err := db.WithContext(ctx).Raw(
		`SELECT f.* FROM dataset_freshness f
		 JOIN datasets d ON d.code = f.dataset_code
		 WHERE d.provider_scope = ? AND d.active = ?
		   AND (f.needs_full_update = ? OR f.full_update_in_progress = ?)
		 ORDER BY COALESCE(f.cycle_started_at, f.last_update_detected_at) ASC, f.dataset_code ASC`,
		providerScope,
		true,
		true,
		true,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
