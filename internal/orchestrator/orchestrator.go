package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	runsdomain "github.com/datakilde/varsel/internal/collectionrun/domain"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/observability/metrics"
	"github.com/datakilde/varsel/internal/orchestrator/guard"
	"github.com/datakilde/varsel/internal/provider"
	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("orchestrator: missing dependency")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Datasets  datasetdomain.Repository
	Sentinels sentineldomain.Repository
	Freshness freshnessdomain.Repository
	Checker   freshnessdomain.Checker
	Runs      runsdomain.Repository
	Ledger    quotadomain.Ledger
	Registry  *provider.Registry
	Sink      providerdomain.ObservationSink
	Tuning    *config.TuningHolder
	Config    Config `optional:"true"`
}

// Orchestrator converges every active item of every flagged dataset to
// currency. Progress is always derived from persisted is_current flags, so
// re-invoking after any interruption resumes without skipping or looping.
type Orchestrator struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	genID     *snowflake.Node
	datasets  datasetdomain.Repository
	sentinels sentineldomain.Repository
	freshness freshnessdomain.Repository
	checker   freshnessdomain.Checker
	runs      runsdomain.Repository
	ledger    quotadomain.Ledger
	registry  *provider.Registry
	sink      providerdomain.ObservationSink
	tuning    *config.TuningHolder
}

func New(p Params) (*Orchestrator, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil ||
		p.Datasets == nil || p.Sentinels == nil ||
		p.Freshness == nil || p.Checker == nil ||
		p.Runs == nil || p.Ledger == nil || p.Registry == nil ||
		p.Sink == nil || p.Tuning == nil {
		return nil, ErrInvalidConfig
	}
	return &Orchestrator{
		db:        p.DB,
		log:       p.Log.Named("orchestrator").With(zap.String("component", "orchestrator")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		genID:     p.GenID,
		datasets:  p.Datasets,
		sentinels: p.Sentinels,
		freshness: p.Freshness,
		checker:   p.Checker,
		runs:      p.Runs,
		ledger:    p.Ledger,
		registry:  p.Registry,
		sink:      p.Sink,
		tuning:    p.Tuning,
	}, nil
}

// RunRequest parameterizes one run_update invocation.
type RunRequest struct {
	ProviderScope string
	// DatasetCodes restricts the run; empty means all eligible datasets.
	DatasetCodes []string
	// Force resets every item status of the named datasets before running,
	// re-arming a full cycle regardless of sentinel detection.
	Force bool
	// QuotaOverride replaces the daily limit for this invocation when > 0.
	QuotaOverride int
}

func (o *Orchestrator) RunUpdate(ctx context.Context, req RunRequest) (RunReport, error) {
	report := RunReport{ProviderScope: req.ProviderScope}

	prov, err := o.registry.Get(req.ProviderScope)
	if err != nil {
		return report, err
	}

	start := o.clock.Now()
	defer func() {
		metrics.Engine().ObserveRunDuration(req.ProviderScope, o.clock.Now().Sub(start))
	}()

	limit := o.tuning.Get().QuotaLimitFor(req.ProviderScope)
	if req.QuotaOverride > 0 {
		limit = req.QuotaOverride
	}

	if req.Force {
		for _, code := range req.DatasetCodes {
			if err := o.forceReset(ctx, code); err != nil {
				return report, err
			}
		}
	}

	codes, err := o.eligibleCodes(ctx, req)
	if err != nil {
		return report, err
	}
	if len(codes) > o.cfg.MaxDatasetsPerRun {
		codes = codes[:o.cfg.MaxDatasetsPerRun]
	}

	var errs error
	for _, code := range codes {
		res, stop := o.updateDataset(ctx, prov, code, limit)
		if res.Error != "" && !res.NotConfigured {
			errs = errors.Join(errs, fmt.Errorf("%s: %s", code, res.Error))
		}
		report.absorb(res)
		if stop {
			// Quota exhausted or cancelled: stop across all remaining
			// datasets and hand back a partial-success report.
			report.QuotaExhausted = report.QuotaExhausted || res.quotaExhausted
			report.Cancelled = report.Cancelled || res.cancelled
			break
		}
	}

	o.log.Info("update run finished",
		zap.String("scope", req.ProviderScope),
		zap.Int("datasets_processed", report.DatasetsProcessed),
		zap.Int("datasets_completed", report.DatasetsCompleted),
		zap.Int("requests_used", report.RequestsUsed),
		zap.Int("items_updated", report.ItemsUpdated),
		zap.Int("items_failed", report.ItemsFailed),
		zap.Bool("quota_exhausted", report.QuotaExhausted),
	)
	return report, errs
}

// eligibleCodes orders work FIFO by cycle start / detection time so the
// oldest flagged dataset drains first when several compete for one budget.
func (o *Orchestrator) eligibleCodes(ctx context.Context, req RunRequest) ([]string, error) {
	if len(req.DatasetCodes) > 0 {
		return req.DatasetCodes, nil
	}
	eligible, err := o.freshness.ListEligible(ctx, o.db, req.ProviderScope)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(eligible))
	for _, f := range eligible {
		codes = append(codes, f.DatasetCode)
	}
	return codes, nil
}

func (o *Orchestrator) forceReset(ctx context.Context, code string) error {
	if _, err := o.datasets.ResetAll(ctx, o.db, code); err != nil {
		return err
	}
	fresh, err := o.freshness.Get(ctx, o.db, code)
	if err != nil {
		return err
	}
	if fresh == nil {
		fresh = &freshnessdomain.DatasetFreshness{DatasetCode: code}
	}
	fresh.NeedsFullUpdate = true
	fresh.FullUpdateInProgress = false
	fresh.CycleStartedAt = nil
	fresh.SeriesUpdatedCount = 0
	return o.freshness.Upsert(ctx, o.db, fresh)
}

func (o *Orchestrator) updateDataset(ctx context.Context, prov providerdomain.Provider, code string, limit int) (result DatasetResult, stop bool) {
	result = DatasetResult{DatasetCode: code}
	scope := prov.Scope()
	log := o.log.With(zap.String("dataset", code))

	dataset, err := o.datasets.FindByCode(ctx, o.db, code)
	if err != nil {
		result.Error = err.Error()
		return result, false
	}
	if dataset == nil {
		result.NotConfigured = true
		result.Error = datasetdomain.ErrNotFound.Error()
		return result, false
	}
	if err := guard.EnsureScope(dataset.ProviderScope, scope); err != nil {
		result.NotConfigured = true
		result.Error = err.Error()
		return result, false
	}

	total, err := o.datasets.CountItems(ctx, o.db, code)
	if err != nil {
		result.Error = err.Error()
		return result, false
	}
	if err := guard.EnsureDatasetRunnable(dataset.Active, total); err != nil {
		result.NotConfigured = true
		result.Error = err.Error()
		return result, false
	}

	fresh, err := o.freshness.Get(ctx, o.db, code)
	if err != nil {
		result.Error = err.Error()
		return result, false
	}
	if fresh == nil || (!fresh.NeedsFullUpdate && !fresh.FullUpdateInProgress) {
		// Nothing to do; the dataset was named explicitly but is current.
		return result, false
	}

	now := o.clock.Now()
	if !fresh.FullUpdateInProgress {
		cycleStart := now
		fresh.FullUpdateInProgress = true
		fresh.CycleStartedAt = &cycleStart
		fresh.SeriesTotalCount = int(total)
		fresh.SeriesUpdatedCount = 0
		if err := o.freshness.Upsert(ctx, o.db, fresh); err != nil {
			result.Error = err.Error()
			return result, false
		}
	}

	run := &runsdomain.CollectionRun{
		ID:            o.genID.Generate(),
		RunID:         uuid.NewString(),
		DatasetCode:   code,
		ProviderScope: scope,
		RunType:       runsdomain.RunTypeFullUpdate,
		Status:        runsdomain.RunStatusRunning,
		StartedAt:     now,
	}
	if err := o.runs.Insert(ctx, o.db, run); err != nil {
		result.Error = err.Error()
		return result, false
	}

	// Items that failed permanently this invocation are skipped for the
	// rest of the run but stay outstanding for the next one.
	var skip []string
	batch := prov.BatchSize()

	for {
		if err := ctx.Err(); err != nil {
			// Cancellation is honored between chunks only; everything
			// already processed is durably persisted, so the next
			// invocation resumes exactly like after a crash.
			result.cancelled = true
			result.InProgress = true
			o.finishRun(ctx, run, runsdomain.RunStatusPartial, nil)
			o.fillOutstanding(ctx, code, &result)
			return result, true
		}

		ids, err := o.datasets.ListOutstanding(ctx, o.db, code, batch, skip)
		if err != nil {
			result.Error = err.Error()
			o.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			return result, false
		}
		if len(ids) == 0 {
			if len(skip) > 0 {
				// Only failed items remain; the cycle stays open for the
				// next invocation to retry them.
				result.InProgress = true
				o.finishRun(ctx, run, runsdomain.RunStatusPartial, nil)
				o.fillOutstanding(ctx, code, &result)
				return result, false
			}
			if err := o.completeCycle(ctx, fresh); err != nil {
				result.Error = err.Error()
				o.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
				return result, false
			}
			result.Completed = true
			metrics.Engine().IncDatasetCompleted(scope)
			o.finishRun(ctx, run, runsdomain.RunStatusCompleted, nil)
			return result, false
		}

		granted, err := o.ledger.TryConsume(ctx, quotadomain.ConsumeRequest{
			ProviderScope: scope,
			UsageDate:     quotadomain.UsageDate(o.clock.Now()),
			DatasetCode:   code,
			Operation:     quotadomain.OpFullUpdate,
			Requests:      1,
			ItemsCovered:  len(ids),
			Limit:         limit,
		})
		if err != nil {
			result.Error = err.Error()
			o.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			return result, false
		}
		if !granted {
			metrics.Engine().IncQuotaDenied(scope, quotadomain.OpFullUpdate)
			result.quotaExhausted = true
			result.InProgress = true
			o.finishRun(ctx, run, runsdomain.RunStatusPartial, nil)
			o.fillOutstanding(ctx, code, &result)
			return result, true
		}
		result.RequestsUsed++
		run.RequestsUsed++
		metrics.Engine().AddRequestsUsed(scope, quotadomain.OpFullUpdate, 1)

		observations, err := prov.FetchLatest(ctx, code, ids)
		if err != nil {
			// Retries are already exhausted inside the client; record the
			// chunk as failed and move on rather than aborting the run.
			log.Warn("chunk fetch failed",
				zap.Int("items", len(ids)),
				zap.Bool("transient", providerdomain.IsTransient(err)),
				zap.Error(err),
			)
			skip = append(skip, ids...)
			result.ItemsFailed += len(ids)
			run.ItemsFailed += len(ids)
			run.BumpCount("chunks_failed")
			metrics.Engine().IncChunk(scope, metrics.ChunkOutcomeFailed)
			continue
		}

		if err := o.persistChunk(ctx, code, ids, observations); err != nil {
			// The chunk's writes are not committed: its items remain
			// outstanding and will be retried next invocation. Abort this
			// dataset and let the run move to the next one.
			log.Error("chunk persistence failed", zap.Error(err))
			result.PersistenceAborted = true
			result.InProgress = true
			result.Error = err.Error()
			run.BumpCount("chunks_persist_failed")
			metrics.Engine().IncChunk(scope, metrics.ChunkOutcomePersistence)
			o.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			o.fillOutstanding(ctx, code, &result)
			return result, false
		}

		processed := len(ids)
		fresh.SeriesUpdatedCount = guard.CapProgress(fresh.SeriesUpdatedCount+processed, fresh.SeriesTotalCount)
		if err := o.freshness.Upsert(ctx, o.db, fresh); err != nil {
			result.Error = err.Error()
			o.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			return result, false
		}
		result.ItemsUpdated += processed
		run.ItemsUpdated += processed
		run.BumpCount("chunks_ok")
		metrics.Engine().IncChunk(scope, metrics.ChunkOutcomeOK)
	}
}

// persistChunk upserts the fetched observations and flips the whole chunk
// to current, including requested items absent from the response, so they
// are not re-requested every cycle.
func (o *Orchestrator) persistChunk(ctx context.Context, code string, ids []string, observations []providerdomain.Observation) error {
	if err := o.sink.UpsertObservations(ctx, code, observations); err != nil {
		return err
	}
	periods := make(map[string]string, len(observations))
	for _, obs := range observations {
		periods[obs.ItemID] = obs.Period
	}
	return o.datasets.MarkCurrent(ctx, o.db, code, ids, periods, o.clock.Now())
}

func (o *Orchestrator) completeCycle(ctx context.Context, fresh *freshnessdomain.DatasetFreshness) error {
	completedAt := o.clock.Now()
	fresh.FullUpdateInProgress = false
	fresh.NeedsFullUpdate = false
	fresh.LastUpdateCompletedAt = &completedAt
	fresh.SeriesUpdatedCount = fresh.SeriesTotalCount
	return o.freshness.Upsert(ctx, o.db, fresh)
}

func (o *Orchestrator) fillOutstanding(ctx context.Context, code string, result *DatasetResult) {
	outstanding, err := o.datasets.CountOutstanding(ctx, o.db, code)
	if err != nil {
		o.log.Warn("count outstanding", zap.String("dataset", code), zap.Error(err))
		return
	}
	result.OutstandingLeft = outstanding
}

func (o *Orchestrator) finishRun(ctx context.Context, run *runsdomain.CollectionRun, status runsdomain.RunStatus, cause error) {
	completedAt := o.clock.Now()
	run.Status = status
	run.CompletedAt = &completedAt
	if cause != nil {
		run.Error = cause.Error()
	}
	if err := o.runs.Finish(ctx, o.db, run); err != nil {
		o.log.Warn("finish collection run", zap.Error(err))
	}
}

// CheckFreshness runs the sentinel poll for a scope, delegating to the
// freshness checker.
func (o *Orchestrator) CheckFreshness(ctx context.Context, req freshnessdomain.CheckRequest) (freshnessdomain.CheckReport, error) {
	return o.checker.Check(ctx, req)
}

// ResetStatus re-arms a full cycle for one dataset independent of sentinel
// detection.
func (o *Orchestrator) ResetStatus(ctx context.Context, code string) (StatusReport, error) {
	if err := o.forceReset(ctx, code); err != nil {
		return StatusReport{}, err
	}
	return o.Status(ctx, code)
}

func (o *Orchestrator) Status(ctx context.Context, code string) (StatusReport, error) {
	dataset, err := o.datasets.FindByCode(ctx, o.db, code)
	if err != nil {
		return StatusReport{}, err
	}
	if dataset == nil {
		return StatusReport{}, datasetdomain.ErrNotFound
	}

	report := StatusReport{
		DatasetCode:     dataset.Code,
		ProviderScope:   dataset.ProviderScope,
		Active:          dataset.Active,
		ActiveItemCount: dataset.ActiveItemCount,
	}

	total, err := o.datasets.CountItems(ctx, o.db, code)
	if err != nil {
		return report, err
	}
	report.NotConfigured = guard.EnsureDatasetRunnable(dataset.Active, total) != nil

	sentinels, err := o.sentinels.CountByDataset(ctx, o.db, code)
	if err != nil {
		return report, err
	}
	report.SentinelCount = sentinels

	outstanding, err := o.datasets.CountOutstanding(ctx, o.db, code)
	if err != nil {
		return report, err
	}
	report.Outstanding = outstanding

	fresh, err := o.freshness.Get(ctx, o.db, code)
	if err != nil {
		return report, err
	}
	if fresh != nil {
		report.NeedsFullUpdate = fresh.NeedsFullUpdate
		report.FullUpdateInProgress = fresh.FullUpdateInProgress
		report.SeriesUpdatedCount = fresh.SeriesUpdatedCount
		report.SeriesTotalCount = fresh.SeriesTotalCount
		report.UpdateFrequencyDays = fresh.UpdateFrequencyDays
		report.LastCheckedAt = formatTime(fresh.LastCheckedAt)
		report.LastUpdateDetectedAt = formatTime(fresh.LastUpdateDetectedAt)
		report.LastUpdateCompleted = formatTime(fresh.LastUpdateCompletedAt)
	}
	return report, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
