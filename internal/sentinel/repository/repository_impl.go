package repository

import (
	"context"

	"github.com/datakilde/varsel/internal/sentinel/domain"
	pkgdb "github.com/datakilde/varsel/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListByDataset(ctx context.Context, db *gorm.DB, code string) ([]*domain.SentinelItem, error) {
	var sentinels []*domain.SentinelItem
	err := db.WithContext(ctx).
		Model(&domain.SentinelItem{}).
		Where("dataset_code = ?", code).
		Order("item_id asc").
		Find(&sentinels).Error
	if err != nil {
		return nil, err
	}
	return sentinels, nil
}

func (r *repo) CountByDataset(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.SentinelItem{}).
		Where("dataset_code = ?", code).
		Count(&count).Error
	return count, err
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, sentinels []*domain.SentinelItem) error {
	if len(sentinels) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Create(&sentinels).Error; err != nil {
		// A concurrent selector hit ux_sentinel_dataset_item first.
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.ErrAlreadySelected
		}
		return err
	}
	return nil
}

func (r *repo) DeleteByDataset(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	result := db.WithContext(ctx).
		Where("dataset_code = ?", code).
		Delete(&domain.SentinelItem{})
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateAfterCheck(ctx context.Context, db *gorm.DB, sentinel *domain.SentinelItem) error {
	return db.WithContext(ctx).Exec(
		`UPDATE sentinel_items
		 SET baseline_period = ?, baseline_value = ?, baseline_footnotes = ?,
		     check_count = ?, change_count = ?, last_checked_at = ?, last_changed_at = ?
		 WHERE id = ?`,
		sentinel.BaselinePeriod,
		sentinel.BaselineValue,
		sentinel.BaselineFootnotes,
		sentinel.CheckCount,
		sentinel.ChangeCount,
		sentinel.LastCheckedAt,
		sentinel.LastChangedAt,
		sentinel.ID,
	).Error
}
