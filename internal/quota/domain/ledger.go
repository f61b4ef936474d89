package domain

import (
	"context"
	"errors"
)

// ConsumeRequest asks the ledger for budget. Limit is the daily ceiling in
// force for this call; a zero Limit is invalid. Denial is a normal outcome,
// never an error.
type ConsumeRequest struct {
	ProviderScope string
	UsageDate     string
	DatasetCode   string
	Operation     string
	Requests      int
	ItemsCovered  int
	Limit         int
}

// UsageBreakdown is one aggregated reporting row for a scope/date.
type UsageBreakdown struct {
	DatasetCode  string `json:"dataset_code"`
	Operation    string `json:"operation"`
	RequestsUsed int    `json:"requests_used"`
	ItemsCovered int    `json:"items_covered"`
}

// Ledger enforces the per-(scope, date) request budget. TryConsume must be
// a single atomic check-and-record: concurrent callers can never push the
// recorded sum past the limit.
type Ledger interface {
	Remaining(ctx context.Context, providerScope, usageDate string, limit int) (int, error)
	TryConsume(ctx context.Context, req ConsumeRequest) (bool, error)
	Breakdown(ctx context.Context, providerScope, usageDate string) ([]UsageBreakdown, error)
}

var (
	ErrInvalidConsume = errors.New("invalid_consume_request")
	ErrQuotaExhausted = errors.New("quota_exhausted")
)
