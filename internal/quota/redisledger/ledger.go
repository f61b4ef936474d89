package redisledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datakilde/varsel/internal/quota/domain"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// The gate is a single Lua script so the check and the increment are one
// atomic step even with several varsel instances sharing a provider quota.
const consumeScript = `
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + n > limit then
  return 0
end
redis.call("INCRBY", KEYS[1], n)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return 1
`

const keyUsage = "quota:used:%s:%s" // scope, date

// Recorder is the relational side of the ledger: record appends and the
// reporting queries. The SQL ledger satisfies it.
type Recorder interface {
	Record(ctx context.Context, req domain.ConsumeRequest) error
	Breakdown(ctx context.Context, providerScope, usageDate string) ([]domain.UsageBreakdown, error)
}

// Ledger gates consumption through Redis and appends breakdown records to
// the SQL ledger's table via the wrapped recorder. Only the gate moves to
// Redis; reporting stays relational.
type Ledger struct {
	client   *redis.Client
	script   *redis.Script
	recorder Recorder
	log      *zap.Logger
	ttl      time.Duration
}

func New(client *redis.Client, recorder Recorder, log *zap.Logger) (*Ledger, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if recorder == nil {
		return nil, errors.New("record ledger is required")
	}
	return &Ledger{
		client:   client,
		script:   redis.NewScript(consumeScript),
		recorder: recorder,
		log:      log.Named("quota.redisledger"),
		ttl:      48 * time.Hour,
	}, nil
}

func (l *Ledger) Remaining(ctx context.Context, providerScope, usageDate string, limit int) (int, error) {
	used, err := l.client.Get(ctx, l.key(providerScope, usageDate)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
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

	granted, err := l.script.Run(ctx, l.client,
		[]string{l.key(req.ProviderScope, req.UsageDate)},
		req.Requests,
		req.Limit,
		int(l.ttl/time.Second),
	).Int()
	if err != nil {
		return false, err
	}
	if granted != 1 {
		return false, nil
	}

	// The budget is already held; the record append is best-effort and a
	// failure here must not look like a denial.
	if err := l.recorder.Record(ctx, req); err != nil {
		l.log.Warn("usage record append failed", zap.Error(err))
	}
	return true, nil
}

func (l *Ledger) Breakdown(ctx context.Context, providerScope, usageDate string) ([]domain.UsageBreakdown, error) {
	return l.recorder.Breakdown(ctx, providerScope, usageDate)
}

func (l *Ledger) key(scope, date string) string {
	return fmt.Sprintf(keyUsage, scope, date)
}
