package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T) (domain.Repository, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.SentinelItem{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return Provide(), db, node
}

func sentinel(node *snowflake.Node, code, itemID string) *domain.SentinelItem {
	return &domain.SentinelItem{
		ID:              node.Generate(),
		DatasetCode:     code,
		ItemID:          itemID,
		SelectionReason: domain.ReasonRandom,
		CreatedAt:       time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestInsertBatch_DuplicateItemReportsAlreadySelected(t *testing.T) {
	repo, db, node := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertBatch(ctx, db, []*domain.SentinelItem{
		sentinel(node, "07459", "a"),
	}))

	// A second batch for the same (dataset, item) pair hits the unique
	// index and is classified, not surfaced as a raw driver error.
	err := repo.InsertBatch(ctx, db, []*domain.SentinelItem{
		sentinel(node, "07459", "a"),
	})
	assert.ErrorIs(t, err, domain.ErrAlreadySelected)

	// Other datasets are unaffected.
	require.NoError(t, repo.InsertBatch(ctx, db, []*domain.SentinelItem{
		sentinel(node, "03013", "a"),
	}))

	count, err := repo.CountByDataset(ctx, db, "07459")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
