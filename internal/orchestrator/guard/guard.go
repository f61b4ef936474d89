package guard

import "errors"

var (
	ErrDatasetInactive = errors.New("dataset_inactive")
	ErrNotConfigured   = errors.New("dataset_not_configured")
	ErrScopeMismatch   = errors.New("dataset_scope_mismatch")
)

// EnsureDatasetRunnable gates entry into an update cycle: a deactivated
// dataset or one with no tracked items never transitions to in-progress.
func EnsureDatasetRunnable(active bool, itemCount int64) error {
	if !active {
		return ErrDatasetInactive
	}
	if itemCount == 0 {
		return ErrNotConfigured
	}
	return nil
}

// EnsureScope rejects a dataset named explicitly under the wrong provider
// scope, so its requests are never fetched with another scope's client or
// charged to another scope's budget.
func EnsureScope(datasetScope, runScope string) error {
	if datasetScope != runScope {
		return ErrScopeMismatch
	}
	return nil
}

// CapProgress clamps a progress increment to the cycle total.
func CapProgress(updated, total int) int {
	if updated > total {
		return total
	}
	return updated
}
