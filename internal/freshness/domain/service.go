package domain

import "context"

type CheckRequest struct {
	ProviderScope string
	// DatasetCodes restricts the check; empty means every active dataset
	// in the scope.
	DatasetCodes []string
}

// DatasetCheck is the per-dataset outcome of one freshness pass.
type DatasetCheck struct {
	DatasetCode      string `json:"dataset_code"`
	SentinelsChecked int    `json:"sentinels_checked"`
	SentinelsChanged int    `json:"sentinels_changed"`
	RequestsUsed     int    `json:"requests_used"`
	Flagged          bool   `json:"flagged"`
	NotConfigured    bool   `json:"not_configured"`
	QuotaDenied      bool   `json:"quota_denied"`
}

type CheckReport struct {
	ProviderScope   string         `json:"provider_scope"`
	DatasetsChecked int            `json:"datasets_checked"`
	DatasetsFlagged int            `json:"datasets_flagged"`
	RequestsUsed    int            `json:"requests_used"`
	NotConfigured   int            `json:"not_configured"`
	QuotaDenied     int            `json:"quota_denied"`
	Datasets        []DatasetCheck `json:"datasets"`
}

// Checker decides, from a small sentinel sample, whether a dataset's
// upstream data has advanced, and flags it for a full update when it has.
type Checker interface {
	Check(ctx context.Context, req CheckRequest) (CheckReport, error)
	// BaselinePoll fetches current values for a dataset's sentinels and
	// overwrites their baselines without any change decision. Returns the
	// number of requests used; a quota denial returns (0, false, nil).
	BaselinePoll(ctx context.Context, datasetCode string) (int, bool, error)
}
