package domain

import (
	"context"
	"errors"
)

// SyncReport summarizes one catalog sync pass for a provider scope.
type SyncReport struct {
	ProviderScope       string `json:"provider_scope"`
	DatasetsSeen        int    `json:"datasets_seen"`
	DatasetsCreated     int    `json:"datasets_created"`
	DatasetsRefreshed   int    `json:"datasets_refreshed"`
	DatasetsDeactivated int64  `json:"datasets_deactivated"`
	ItemStatusesAdded   int    `json:"item_statuses_added"`
	ItemStatusesPruned  int64  `json:"item_statuses_pruned"`
	RequestsUsed        int    `json:"requests_used"`
}

type Service interface {
	// SyncCatalog pulls the provider's dataset catalog and active item
	// lists, refreshing item counts and seeding status rows.
	SyncCatalog(ctx context.Context, providerScope string) (SyncReport, error)
	Get(ctx context.Context, code string) (*Dataset, error)
	ListActive(ctx context.Context, providerScope string) ([]*Dataset, error)
}

var (
	ErrNotFound      = errors.New("dataset_not_found")
	ErrInvalidCode   = errors.New("invalid_dataset_code")
	ErrNotConfigured = errors.New("dataset_not_configured")
)
