package domain

import (
	"context"
	"errors"
)

type SelectRequest struct {
	DatasetCode string
	Force       bool
}

type SelectReport struct {
	DatasetCode    string `json:"dataset_code"`
	Selected       int    `json:"selected"`
	AggregateCount int    `json:"aggregate_count"`
	DiversityCount int    `json:"diversity_count"`
	RandomCount    int    `json:"random_count"`
	BaselinePolled bool   `json:"baseline_polled"`
	Skipped        bool   `json:"skipped"`
}

type Service interface {
	// Select seeds the dataset's sentinel sample. Idempotent unless Force:
	// with Force the existing set is replaced and a baseline poll runs
	// immediately so the new set is never compared against an empty
	// baseline.
	Select(ctx context.Context, req SelectRequest) (SelectReport, error)
}

var (
	ErrNoActiveItems   = errors.New("no_active_items")
	ErrAlreadySelected = errors.New("sentinels_already_selected")
)
