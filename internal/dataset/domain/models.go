package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Dataset is one upstream collection (a survey or table family). Datasets
// are created on catalog sync and deactivated when they disappear from the
// catalog; they are never deleted.
type Dataset struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Code            string       `gorm:"uniqueIndex;size:64;not null" json:"code"`
	ProviderScope   string       `gorm:"index;size:32;not null" json:"provider_scope"`
	Title           string       `json:"title"`
	ActiveItemCount int          `gorm:"not null;default:0" json:"active_item_count"`
	SentinelCount   int          `gorm:"not null;default:0" json:"sentinel_count"`
	CadenceHintDays int          `gorm:"not null;default:0" json:"cadence_hint_days"`
	Active          bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

func (Dataset) TableName() string { return "datasets" }

// ItemUpdateStatus tracks one item's currency inside the active update
// cycle. An item with is_current=false is outstanding by definition, and
// the orchestrator's progress is always derived from these rows, never
// from elapsed time.
type ItemUpdateStatus struct {
	DatasetCode    string     `gorm:"primaryKey;size:64" json:"dataset_code"`
	ItemID         string     `gorm:"primaryKey;size:128" json:"item_id"`
	LastDataPeriod string     `gorm:"size:16" json:"last_data_period"`
	IsCurrent      bool       `gorm:"not null;default:false;index:idx_item_status_outstanding" json:"is_current"`
	LastCheckedAt  *time.Time `json:"last_checked_at,omitempty"`
	LastUpdatedAt  *time.Time `json:"last_updated_at,omitempty"`
}

func (ItemUpdateStatus) TableName() string { return "item_update_statuses" }
