package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	UpsertDataset(ctx context.Context, db *gorm.DB, dataset *Dataset) error
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Dataset, error)
	ListActive(ctx context.Context, db *gorm.DB, providerScope string) ([]*Dataset, error)
	DeactivateMissing(ctx context.Context, db *gorm.DB, providerScope string, keepCodes []string, now time.Time) (int64, error)

	// EnsureItemStatuses inserts missing status rows for the given items;
	// new items start outstanding. Existing rows are untouched.
	EnsureItemStatuses(ctx context.Context, db *gorm.DB, code string, itemIDs []string) error
	DeleteVanishedStatuses(ctx context.Context, db *gorm.DB, code string, activeIDs []string) (int64, error)

	CountItems(ctx context.Context, db *gorm.DB, code string) (int64, error)
	CountOutstanding(ctx context.Context, db *gorm.DB, code string) (int64, error)
	// ListOutstanding returns up to limit outstanding item ids ordered by
	// item id, excluding the per-invocation skip set, so restart order is
	// reproducible.
	ListOutstanding(ctx context.Context, db *gorm.DB, code string, limit int, skip []string) ([]string, error)
	// MarkCurrent flips the chunk's rows to current. periods carries the
	// latest data period per item where the provider returned one; items
	// absent from the response are still marked current.
	MarkCurrent(ctx context.Context, db *gorm.DB, code string, itemIDs []string, periods map[string]string, now time.Time) error
	ResetAll(ctx context.Context, db *gorm.DB, code string) (int64, error)
}
