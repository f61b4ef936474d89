package repository

import (
	"context"
	"time"

	"github.com/datakilde/varsel/internal/dataset/domain"
	"gorm.io/gorm"
)

const statusChunkSize = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertDataset(ctx context.Context, db *gorm.DB, dataset *domain.Dataset) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO datasets (id, code, provider_scope, title, active_item_count, sentinel_count, cadence_hint_days, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code)
		 DO UPDATE SET title = EXCLUDED.title,
		               active_item_count = EXCLUDED.active_item_count,
		               cadence_hint_days = EXCLUDED.cadence_hint_days,
		               active = EXCLUDED.active,
		               updated_at = EXCLUDED.updated_at`,
		dataset.ID,
		dataset.Code,
		dataset.ProviderScope,
		dataset.Title,
		dataset.ActiveItemCount,
		dataset.SentinelCount,
		dataset.CadenceHintDays,
		dataset.Active,
		dataset.CreatedAt,
		dataset.UpdatedAt,
	).Error
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Dataset, error) {
	var dataset domain.Dataset
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM datasets WHERE code = ?`, code,
	).Scan(&dataset).Error
	if err != nil {
		return nil, err
	}
	if dataset.ID == 0 {
		return nil, nil
	}
	return &dataset, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, providerScope string) ([]*domain.Dataset, error) {
	var datasets []*domain.Dataset
	stmt := db.WithContext(ctx).
		Model(&domain.Dataset{}).
		Where("active = ?", true)
	if providerScope != "" {
		stmt = stmt.Where("provider_scope = ?", providerScope)
	}
	if err := stmt.Order("code asc").Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

func (r *repo) DeactivateMissing(ctx context.Context, db *gorm.DB, providerScope string, keepCodes []string, now time.Time) (int64, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.Dataset{}).
		Where("provider_scope = ? AND active = ?", providerScope, true)
	if len(keepCodes) > 0 {
		stmt = stmt.Where("code NOT IN ?", keepCodes)
	}
	result := stmt.Updates(map[string]any{"active": false, "updated_at": now})
	return result.RowsAffected, result.Error
}

func (r *repo) EnsureItemStatuses(ctx context.Context, db *gorm.DB, code string, itemIDs []string) error {
	for start := 0; start < len(itemIDs); start += statusChunkSize {
		end := start + statusChunkSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		for _, id := range itemIDs[start:end] {
			if err := db.WithContext(ctx).Exec(
				`INSERT INTO item_update_statuses (dataset_code, item_id, last_data_period, is_current)
				 VALUES (?, ?, '', ?)
				 ON CONFLICT (dataset_code, item_id) DO NOTHING`,
				code,
				id,
				false,
			).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *repo) DeleteVanishedStatuses(ctx context.Context, db *gorm.DB, code string, activeIDs []string) (int64, error) {
	var existing []string
	if err := db.WithContext(ctx).
		Model(&domain.ItemUpdateStatus{}).
		Where("dataset_code = ?", code).
		Pluck("item_id", &existing).Error; err != nil {
		return 0, err
	}

	active := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		active[id] = struct{}{}
	}
	var vanished []string
	for _, id := range existing {
		if _, ok := active[id]; !ok {
			vanished = append(vanished, id)
		}
	}

	var pruned int64
	for start := 0; start < len(vanished); start += statusChunkSize {
		end := start + statusChunkSize
		if end > len(vanished) {
			end = len(vanished)
		}
		result := db.WithContext(ctx).
			Where("dataset_code = ? AND item_id IN ?", code, vanished[start:end]).
			Delete(&domain.ItemUpdateStatus{})
		if result.Error != nil {
			return pruned, result.Error
		}
		pruned += result.RowsAffected
	}
	return pruned, nil
}

func (r *repo) CountItems(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ItemUpdateStatus{}).
		Where("dataset_code = ?", code).
		Count(&count).Error
	return count, err
}

func (r *repo) CountOutstanding(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ItemUpdateStatus{}).
		Where("dataset_code = ? AND is_current = ?", code, false).
		Count(&count).Error
	return count, err
}

func (r *repo) ListOutstanding(ctx context.Context, db *gorm.DB, code string, limit int, skip []string) ([]string, error) {
	var ids []string
	stmt := db.WithContext(ctx).
		Model(&domain.ItemUpdateStatus{}).
		Where("dataset_code = ? AND is_current = ?", code, false)
	if len(skip) > 0 {
		stmt = stmt.Where("item_id NOT IN ?", skip)
	}
	err := stmt.Order("item_id asc").Limit(limit).Pluck("item_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) MarkCurrent(ctx context.Context, db *gorm.DB, code string, itemIDs []string, periods map[string]string, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range itemIDs {
			if period, ok := periods[id]; ok {
				if err := tx.Exec(
					`UPDATE item_update_statuses
					 SET is_current = ?, last_data_period = ?, last_checked_at = ?, last_updated_at = ?
					 WHERE dataset_code = ? AND item_id = ?`,
					true, period, now, now, code, id,
				).Error; err != nil {
					return err
				}
				continue
			}
			// Requested but absent from the response: checked, nothing new.
			if err := tx.Exec(
				`UPDATE item_update_statuses
				 SET is_current = ?, last_checked_at = ?
				 WHERE dataset_code = ? AND item_id = ?`,
				true, now, code, id,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repo) ResetAll(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE item_update_statuses SET is_current = ? WHERE dataset_code = ?`,
		false, code,
	)
	return result.RowsAffected, result.Error
}
