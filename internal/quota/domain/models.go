package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// QuotaUsageRecord is one append-only ledger entry. The invariant the
// ledger enforces: for any (provider_scope, usage_date), the sum of
// requests_used never exceeds the configured daily limit at the moment a
// new chunk is issued.
type QuotaUsageRecord struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	UsageDate     string       `gorm:"index:idx_quota_scope_date;size:10;not null" json:"usage_date"`
	ProviderScope string       `gorm:"index:idx_quota_scope_date;size:32;not null" json:"provider_scope"`
	DatasetCode   string       `gorm:"size:64" json:"dataset_code"`
	Operation     string       `gorm:"size:32;not null" json:"operation"`
	RequestsUsed  int          `gorm:"not null" json:"requests_used"`
	ItemsCovered  int          `gorm:"not null;default:0" json:"items_covered"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
}

func (QuotaUsageRecord) TableName() string { return "quota_usage_records" }

// QuotaCounter is the per-(scope, date) gate row. TryConsume increments it
// with a predicate UPDATE, so the check re-evaluates under the row lock and
// holds on READ COMMITTED backends, not only a serialized writer.
type QuotaCounter struct {
	ProviderScope string    `gorm:"primaryKey;size:32" json:"provider_scope"`
	UsageDate     string    `gorm:"primaryKey;size:10" json:"usage_date"`
	RequestsUsed  int       `gorm:"not null;default:0" json:"requests_used"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (QuotaCounter) TableName() string { return "quota_counters" }

// Operation labels recorded in the ledger.
const (
	OpFreshnessCheck = "freshness_check"
	OpBaselinePoll   = "baseline_poll"
	OpFullUpdate     = "full_update"
	OpCatalogSync    = "catalog_sync"
)

// UsageDate formats a timestamp as the ledger's accounting day.
func UsageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
