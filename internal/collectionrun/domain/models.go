package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunType string

const (
	RunTypeFreshnessCheck RunType = "freshness_check"
	RunTypeBaselinePoll   RunType = "baseline_poll"
	RunTypeFullUpdate     RunType = "full_update"
	RunTypeCatalogSync    RunType = "catalog_sync"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// CollectionRun is one append-only execution record of a check or update
// pass over a dataset, kept for audit and resumed-run correlation.
type CollectionRun struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	RunID         string            `gorm:"index;size:36;not null" json:"run_id"`
	DatasetCode   string            `gorm:"index;size:64;not null" json:"dataset_code"`
	ProviderScope string            `gorm:"index;size:32;not null" json:"provider_scope"`
	RunType       RunType           `gorm:"size:24;not null" json:"run_type"`
	Status        RunStatus         `gorm:"size:16;not null" json:"status"`
	StartedAt     time.Time         `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	RequestsUsed  int               `gorm:"not null;default:0" json:"requests_used"`
	ItemsUpdated  int               `gorm:"not null;default:0" json:"items_updated"`
	ItemsFailed   int               `gorm:"not null;default:0" json:"items_failed"`
	Error         string            `json:"error,omitempty"`
	Counts        datatypes.JSONMap `json:"counts,omitempty"`
}

func (CollectionRun) TableName() string { return "collection_runs" }

// BumpCount increments a named counter in the run's counts document.
func (r *CollectionRun) BumpCount(key string) {
	if r.Counts == nil {
		r.Counts = datatypes.JSONMap{}
	}
	n, _ := r.Counts[key].(int)
	r.Counts[key] = n + 1
}

// SetCount records an absolute counter value in the counts document.
func (r *CollectionRun) SetCount(key string, value int) {
	if r.Counts == nil {
		r.Counts = datatypes.JSONMap{}
	}
	r.Counts[key] = value
}
