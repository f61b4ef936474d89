package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/quota/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.QuotaUsageRecord{}, &domain.QuotaCounter{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{DB: db, Log: zap.NewNop(), Clock: fake, GenID: node})
}

func TestTryConsume_EnforcesDailyLimit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	req := domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		DatasetCode:   "07459",
		Operation:     domain.OpFullUpdate,
		Requests:      2,
		Limit:         5,
	}

	granted, err := ledger.TryConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = ledger.TryConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, granted)

	// 4 used, 2 more would exceed 5.
	granted, err = ledger.TryConsume(ctx, req)
	require.NoError(t, err)
	assert.False(t, granted)

	// A smaller request still fits the remaining budget.
	req.Requests = 1
	granted, err = ledger.TryConsume(ctx, req)
	require.NoError(t, err)
	assert.True(t, granted)

	remaining, err := ledger.Remaining(ctx, "ssb", "2026-03-01", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestTryConsume_ScopesAndDatesAreIndependent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	granted, err := ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		Operation:     domain.OpFreshnessCheck,
		Requests:      5,
		Limit:         5,
	})
	require.NoError(t, err)
	require.True(t, granted)

	// Same scope, next day: full budget again.
	granted, err = ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-02",
		Operation:     domain.OpFreshnessCheck,
		Requests:      5,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.True(t, granted)

	// Different scope, same day: unaffected.
	granted, err = ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "scb",
		UsageDate:     "2026-03-01",
		Operation:     domain.OpFreshnessCheck,
		Requests:      5,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestTryConsume_RejectsInvalidRequests(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	cases := []domain.ConsumeRequest{
		{UsageDate: "2026-03-01", Requests: 1, Limit: 5},
		{ProviderScope: "ssb", Requests: 1, Limit: 5},
		{ProviderScope: "ssb", UsageDate: "2026-03-01", Requests: 0, Limit: 5},
		{ProviderScope: "ssb", UsageDate: "2026-03-01", Requests: 1, Limit: 0},
	}
	for _, req := range cases {
		_, err := ledger.TryConsume(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidConsume)
	}
}

func TestTryConsume_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	const limit = 10
	const callers = 25

	var wg sync.WaitGroup
	results := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := ledger.TryConsume(ctx, domain.ConsumeRequest{
				ProviderScope: "ssb",
				UsageDate:     "2026-03-01",
				Operation:     domain.OpFullUpdate,
				Requests:      1,
				Limit:         limit,
			})
			assert.NoError(t, err)
			results <- granted
		}()
	}
	wg.Wait()
	close(results)

	grantedCount := 0
	for granted := range results {
		if granted {
			grantedCount++
		}
	}
	assert.Equal(t, limit, grantedCount)

	remaining, err := ledger.Remaining(ctx, "ssb", "2026-03-01", limit)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestTryConsume_CounterRowIsTheGate(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	// Budget held elsewhere (redis gate, crashed record append) shows up
	// in the counter without matching usage records. The decision must
	// come from the counter row, not from summing the records.
	require.NoError(t, ledger.db.Create(&domain.QuotaCounter{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		RequestsUsed:  4,
		UpdatedAt:     time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}).Error)

	granted, err := ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		Operation:     domain.OpFullUpdate,
		Requests:      2,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		Operation:     domain.OpFullUpdate,
		Requests:      1,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.True(t, granted)

	remaining, err := ledger.Remaining(ctx, "ssb", "2026-03-01", 5)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestRecord_AppendsWithoutConsumingBudget(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		DatasetCode:   "07459",
		Operation:     domain.OpFreshnessCheck,
		Requests:      3,
		ItemsCovered:  120,
	}))

	// The record is reporting only; the full budget is still available.
	granted, err := ledger.TryConsume(ctx, domain.ConsumeRequest{
		ProviderScope: "ssb",
		UsageDate:     "2026-03-01",
		Operation:     domain.OpFullUpdate,
		Requests:      5,
		Limit:         5,
	})
	require.NoError(t, err)
	assert.True(t, granted)

	rows, err := ledger.Breakdown(ctx, "ssb", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, domain.UsageBreakdown{
		DatasetCode: "07459", Operation: domain.OpFreshnessCheck, RequestsUsed: 3, ItemsCovered: 120,
	}, rows[1])
}

func TestBreakdown_AggregatesByDatasetAndOperation(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	consume := func(code, op string, requests, items int) {
		granted, err := ledger.TryConsume(ctx, domain.ConsumeRequest{
			ProviderScope: "ssb",
			UsageDate:     "2026-03-01",
			DatasetCode:   code,
			Operation:     op,
			Requests:      requests,
			ItemsCovered:  items,
			Limit:         100,
		})
		require.NoError(t, err)
		require.True(t, granted)
	}

	consume("07459", domain.OpFreshnessCheck, 1, 50)
	consume("07459", domain.OpFreshnessCheck, 1, 50)
	consume("07459", domain.OpFullUpdate, 3, 150)
	consume("03013", domain.OpFullUpdate, 2, 80)

	rows, err := ledger.Breakdown(ctx, "ssb", "2026-03-01")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, domain.UsageBreakdown{
		DatasetCode: "03013", Operation: domain.OpFullUpdate, RequestsUsed: 2, ItemsCovered: 80,
	}, rows[0])
	assert.Equal(t, domain.UsageBreakdown{
		DatasetCode: "07459", Operation: domain.OpFreshnessCheck, RequestsUsed: 2, ItemsCovered: 100,
	}, rows[1])
	assert.Equal(t, domain.UsageBreakdown{
		DatasetCode: "07459", Operation: domain.OpFullUpdate, RequestsUsed: 3, ItemsCovered: 150,
	}, rows[2])
}
