package orchestrator

// DatasetResult is the per-dataset slice of a run report.
type DatasetResult struct {
	DatasetCode        string `json:"dataset_code"`
	RequestsUsed       int    `json:"requests_used"`
	ItemsUpdated       int    `json:"items_updated"`
	ItemsFailed        int    `json:"items_failed"`
	OutstandingLeft    int64  `json:"outstanding_left"`
	Completed          bool   `json:"completed"`
	InProgress         bool   `json:"in_progress"`
	NotConfigured      bool   `json:"not_configured"`
	PersistenceAborted bool   `json:"persistence_aborted,omitempty"`
	Error              string `json:"error,omitempty"`

	quotaExhausted bool
	cancelled      bool
}

// RunReport summarizes one run_update invocation. Outstanding counts are
// always included so forward progress is observable even when the run was
// interrupted by quota exhaustion or cancellation.
type RunReport struct {
	ProviderScope      string          `json:"provider_scope"`
	DatasetsProcessed  int             `json:"datasets_processed"`
	DatasetsCompleted  int             `json:"datasets_completed"`
	DatasetsInProgress int             `json:"datasets_in_progress"`
	NotConfigured      int             `json:"not_configured"`
	RequestsUsed       int             `json:"requests_used"`
	ItemsUpdated       int             `json:"items_updated"`
	ItemsFailed        int             `json:"items_failed"`
	QuotaExhausted     bool            `json:"quota_exhausted"`
	Cancelled          bool            `json:"cancelled,omitempty"`
	Datasets           []DatasetResult `json:"datasets"`
}

func (r *RunReport) absorb(res DatasetResult) {
	r.Datasets = append(r.Datasets, res)
	r.RequestsUsed += res.RequestsUsed
	r.ItemsUpdated += res.ItemsUpdated
	r.ItemsFailed += res.ItemsFailed
	switch {
	case res.NotConfigured:
		r.NotConfigured++
	default:
		r.DatasetsProcessed++
		if res.Completed {
			r.DatasetsCompleted++
		}
		if res.InProgress {
			r.DatasetsInProgress++
		}
	}
}

// StatusReport answers get_status for one dataset.
type StatusReport struct {
	DatasetCode          string  `json:"dataset_code"`
	ProviderScope        string  `json:"provider_scope"`
	Active               bool    `json:"active"`
	ActiveItemCount      int     `json:"active_item_count"`
	SentinelCount        int64   `json:"sentinel_count"`
	NotConfigured        bool    `json:"not_configured"`
	NeedsFullUpdate      bool    `json:"needs_full_update"`
	FullUpdateInProgress bool    `json:"full_update_in_progress"`
	Outstanding          int64   `json:"outstanding"`
	SeriesUpdatedCount   int     `json:"series_updated_count"`
	SeriesTotalCount     int     `json:"series_total_count"`
	UpdateFrequencyDays  float64 `json:"update_frequency_days"`
	LastCheckedAt        *string `json:"last_checked_at,omitempty"`
	LastUpdateDetectedAt *string `json:"last_update_detected_at,omitempty"`
	LastUpdateCompleted  *string `json:"last_update_completed_at,omitempty"`
}
