package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ListByDataset(ctx context.Context, db *gorm.DB, code string) ([]*SentinelItem, error)
	CountByDataset(ctx context.Context, db *gorm.DB, code string) (int64, error)
	InsertBatch(ctx context.Context, db *gorm.DB, sentinels []*SentinelItem) error
	DeleteByDataset(ctx context.Context, db *gorm.DB, code string) (int64, error)
	// UpdateAfterCheck overwrites baseline fields and counters in place
	// after a freshness poll.
	UpdateAfterCheck(ctx context.Context, db *gorm.DB, sentinel *SentinelItem) error
}
