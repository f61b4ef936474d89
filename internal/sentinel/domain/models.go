package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Selection reasons, one per stratum.
const (
	ReasonAggregate = "aggregate"
	ReasonDiversity = "diversity"
	ReasonRandom    = "random"
)

// SentinelItem is one member of a dataset's fixed representative sample.
// Baseline fields always hold the values seen on the most recent poll.
type SentinelItem struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	DatasetCode       string       `gorm:"uniqueIndex:ux_sentinel_dataset_item;size:64;not null" json:"dataset_code"`
	ItemID            string       `gorm:"uniqueIndex:ux_sentinel_dataset_item;size:128;not null" json:"item_id"`
	BaselinePeriod    string       `gorm:"size:16" json:"baseline_period"`
	BaselineValue     float64      `json:"baseline_value"`
	BaselineFootnotes string       `json:"baseline_footnotes"`
	SelectionReason   string       `gorm:"size:16;not null" json:"selection_reason"`
	CheckCount        int          `gorm:"not null;default:0" json:"check_count"`
	ChangeCount       int          `gorm:"not null;default:0" json:"change_count"`
	LastCheckedAt     *time.Time   `json:"last_checked_at,omitempty"`
	LastChangedAt     *time.Time   `json:"last_changed_at,omitempty"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
}

func (SentinelItem) TableName() string { return "sentinel_items" }
