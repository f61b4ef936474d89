package domain

import "time"

// DatasetFreshness is the per-dataset update cycle state. Invariants:
// full_update_in_progress implies needs_full_update was true at cycle
// start, and series_updated_count never exceeds series_total_count.
type DatasetFreshness struct {
	DatasetCode           string     `gorm:"primaryKey;size:64" json:"dataset_code"`
	LastCheckedAt         *time.Time `json:"last_checked_at,omitempty"`
	LastUpdateDetectedAt  *time.Time `json:"last_update_detected_at,omitempty"`
	LastUpdateCompletedAt *time.Time `json:"last_update_completed_at,omitempty"`
	NeedsFullUpdate       bool       `gorm:"not null;default:false;index" json:"needs_full_update"`
	FullUpdateInProgress  bool       `gorm:"not null;default:false;index" json:"full_update_in_progress"`
	CycleStartedAt        *time.Time `json:"cycle_started_at,omitempty"`
	SeriesUpdatedCount    int        `gorm:"not null;default:0" json:"series_updated_count"`
	SeriesTotalCount      int        `gorm:"not null;default:0" json:"series_total_count"`
	UpdateFrequencyDays   float64    `gorm:"not null;default:0" json:"update_frequency_days"`
}

func (DatasetFreshness) TableName() string { return "dataset_freshness" }
