package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, code string) (*DatasetFreshness, error)
	Upsert(ctx context.Context, db *gorm.DB, fresh *DatasetFreshness) error
	// ListEligible returns codes of active datasets in the scope with
	// needs_full_update or full_update_in_progress set, oldest work first.
	ListEligible(ctx context.Context, db *gorm.DB, providerScope string) ([]*DatasetFreshness, error)
}
