package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, run *CollectionRun) error
	// Finish stamps completion fields on the row identified by run.ID.
	Finish(ctx context.Context, db *gorm.DB, run *CollectionRun) error
	ListByDataset(ctx context.Context, db *gorm.DB, code string, limit int) ([]*CollectionRun, error)
}
