package repository

import (
	"context"

	"github.com/datakilde/varsel/internal/collectionrun/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, run *domain.CollectionRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, run *domain.CollectionRun) error {
	return db.WithContext(ctx).Exec(
		`UPDATE collection_runs
		 SET status = ?, completed_at = ?, requests_used = ?, items_updated = ?, items_failed = ?, error = ?, counts = ?
		 WHERE id = ?`,
		string(run.Status),
		run.CompletedAt,
		run.RequestsUsed,
		run.ItemsUpdated,
		run.ItemsFailed,
		run.Error,
		run.Counts,
		run.ID,
	).Error
}

func (r *repo) ListByDataset(ctx context.Context, db *gorm.DB, code string, limit int) ([]*domain.CollectionRun, error) {
	var runs []*domain.CollectionRun
	stmt := db.WithContext(ctx).Model(&domain.CollectionRun{})
	if code != "" {
		stmt = stmt.Where("dataset_code = ?", code)
	}
	if limit <= 0 {
		limit = 50
	}
	err := stmt.Order("started_at desc").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
