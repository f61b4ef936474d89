package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DatasetRef is one entry of a provider's dataset catalog.
type DatasetRef struct {
	Code            string
	Title           string
	CadenceHintDays int
}

// ItemRef identifies one active item of a dataset, together with the two
// attributes sentinel selection stratifies on: whether the item is a
// top-level aggregate, and its secondary classification group (region,
// category) as reported by the provider.
type ItemRef struct {
	ID        string
	Aggregate bool
	Group     string
}

// Observation is the latest published value of one item.
type Observation struct {
	ItemID    string
	Period    string
	Value     float64
	Footnotes string
}

// Provider is the narrow upstream-agency contract the engine depends on.
// FetchLatest callers must cap ids at BatchSize.
type Provider interface {
	Scope() string
	BatchSize() int
	ListDatasets(ctx context.Context) ([]DatasetRef, error)
	ListActiveItems(ctx context.Context, datasetCode string) ([]ItemRef, error)
	FetchLatest(ctx context.Context, datasetCode string, itemIDs []string) ([]Observation, error)
}

// ObservationSink is the persistence collaborator that stores fetched
// observations. UpsertObservations must be idempotent: applying the same
// batch twice yields one stored observation per item, latest write wins.
type ObservationSink interface {
	UpsertObservations(ctx context.Context, datasetCode string, observations []Observation) error
}

var (
	ErrUnknownScope = errors.New("unknown_provider_scope")
)

// TransientError marks a provider failure worth retrying: timeouts, 5xx,
// and rate-limit responses. RetryAfter is zero unless the provider sent one.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a provider failure that will not succeed on retry:
// other 4xx responses and malformed item ids.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
