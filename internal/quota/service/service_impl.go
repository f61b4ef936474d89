package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
}

// Ledger is the SQL-backed quota ledger. The gate is a per-(scope, date)
// counter row: a predicate UPDATE re-evaluates `used + n <= limit` under
// the row lock, so overlapping callers on READ COMMITTED backends can
// never jointly exceed the limit. Usage records are appended after the
// grant for reporting only.
type Ledger struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	genID *snowflake.Node
}

func New(p Params) *Ledger {
	return &Ledger{
		db:    p.DB,
		log:   p.Log.Named("quota.ledger"),
		clock: p.Clock,
		genID: p.GenID,
	}
}

func (l *Ledger) Remaining(ctx context.Context, providerScope, usageDate string, limit int) (int, error) {
	used, err := l.used(ctx, providerScope, usageDate)
	if err != nil {
		return 0, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *Ledger) TryConsume(ctx context.Context, req domain.ConsumeRequest) (bool, error) {
	if req.ProviderScope == "" || req.UsageDate == "" || req.Requests <= 0 || req.Limit <= 0 {
		return false, domain.ErrInvalidConsume
	}

	now := l.clock.Now()
	seed := l.db.WithContext(ctx).Exec(
		`INSERT INTO quota_counters (provider_scope, usage_date, requests_used, updated_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT (provider_scope, usage_date) DO NOTHING`,
		req.ProviderScope,
		req.UsageDate,
		now,
	)
	if seed.Error != nil {
		return false, seed.Error
	}

	result := l.db.WithContext(ctx).Exec(
		`UPDATE quota_counters
		 SET requests_used = requests_used + ?, updated_at = ?
		 WHERE provider_scope = ? AND usage_date = ? AND requests_used + ? <= ?`,
		req.Requests,
		now,
		req.ProviderScope,
		req.UsageDate,
		req.Requests,
		req.Limit,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}

	// The budget is held by the counter; the record append is best-effort
	// and a failure here must not look like a denial.
	if err := l.Record(ctx, req); err != nil {
		l.log.Warn("usage record append failed", zap.Error(err))
	}
	return true, nil
}

// Record appends a usage record without touching the counter gate. Callers
// that hold budget elsewhere (the Redis gate) use this for reporting.
func (l *Ledger) Record(ctx context.Context, req domain.ConsumeRequest) error {
	return l.db.WithContext(ctx).Create(&domain.QuotaUsageRecord{
		ID:            l.genID.Generate(),
		UsageDate:     req.UsageDate,
		ProviderScope: req.ProviderScope,
		DatasetCode:   req.DatasetCode,
		Operation:     req.Operation,
		RequestsUsed:  req.Requests,
		ItemsCovered:  req.ItemsCovered,
		CreatedAt:     l.clock.Now(),
	}).Error
}

func (l *Ledger) Breakdown(ctx context.Context, providerScope, usageDate string) ([]domain.UsageBreakdown, error) {
	var rows []domain.UsageBreakdown
	err := l.db.WithContext(ctx).Raw(
		`SELECT dataset_code, operation,
		        SUM(requests_used) AS requests_used,
		        SUM(items_covered) AS items_covered
		 FROM quota_usage_records
		 WHERE provider_scope = ? AND usage_date = ?
		 GROUP BY dataset_code, operation
		 ORDER BY dataset_code, operation`,
		providerScope,
		usageDate,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (l *Ledger) used(ctx context.Context, providerScope, usageDate string) (int, error) {
	var used int
	err := l.db.WithContext(ctx).Raw(
		`SELECT COALESCE(requests_used, 0)
		 FROM quota_counters
		 WHERE provider_scope = ? AND usage_date = ?`,
		providerScope,
		usageDate,
	).Scan(&used).Error
	return used, err
}
