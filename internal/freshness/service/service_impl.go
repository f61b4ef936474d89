package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	runsdomain "github.com/datakilde/varsel/internal/collectionrun/domain"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	"github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/observability/metrics"
	"github.com/datakilde/varsel/internal/provider"
	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	GenID     *snowflake.Node
	Datasets  datasetdomain.Repository
	Sentinels sentineldomain.Repository
	Freshness domain.Repository
	Runs      runsdomain.Repository
	Ledger    quotadomain.Ledger
	Registry  *provider.Registry
	Tuning    *config.TuningHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	genID     *snowflake.Node
	datasets  datasetdomain.Repository
	sentinels sentineldomain.Repository
	freshness domain.Repository
	runs      runsdomain.Repository
	ledger    quotadomain.Ledger
	registry  *provider.Registry
	tuning    *config.TuningHolder
}

func New(p Params) domain.Checker {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("freshness.checker"),
		clock:     p.Clock,
		genID:     p.GenID,
		datasets:  p.Datasets,
		sentinels: p.Sentinels,
		freshness: p.Freshness,
		runs:      p.Runs,
		ledger:    p.Ledger,
		registry:  p.Registry,
		tuning:    p.Tuning,
	}
}

func (s *Service) Check(ctx context.Context, req domain.CheckRequest) (domain.CheckReport, error) {
	report := domain.CheckReport{ProviderScope: req.ProviderScope}

	prov, err := s.registry.Get(req.ProviderScope)
	if err != nil {
		return report, err
	}

	codes := req.DatasetCodes
	if len(codes) == 0 {
		active, err := s.datasets.ListActive(ctx, s.db, req.ProviderScope)
		if err != nil {
			return report, err
		}
		for _, d := range active {
			codes = append(codes, d.Code)
		}
	}

	var errs error
	for _, code := range codes {
		check, err := s.checkDataset(ctx, prov, code)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		report.Datasets = append(report.Datasets, check)
		report.RequestsUsed += check.RequestsUsed
		switch {
		case check.NotConfigured:
			report.NotConfigured++
		case check.QuotaDenied:
			report.QuotaDenied++
		default:
			report.DatasetsChecked++
			if check.Flagged {
				report.DatasetsFlagged++
			}
		}
	}
	return report, errs
}

func (s *Service) checkDataset(ctx context.Context, prov providerdomain.Provider, code string) (domain.DatasetCheck, error) {
	check := domain.DatasetCheck{DatasetCode: code}
	scope := prov.Scope()

	sentinels, err := s.sentinels.ListByDataset(ctx, s.db, code)
	if err != nil {
		return check, err
	}
	if len(sentinels) == 0 {
		check.NotConfigured = true
		return check, nil
	}

	tuning := s.tuning.Get()
	requests := chunkCount(len(sentinels), prov.BatchSize())
	now := s.clock.Now()

	granted, err := s.ledger.TryConsume(ctx, quotadomain.ConsumeRequest{
		ProviderScope: scope,
		UsageDate:     quotadomain.UsageDate(now),
		DatasetCode:   code,
		Operation:     quotadomain.OpFreshnessCheck,
		Requests:      requests,
		ItemsCovered:  len(sentinels),
		Limit:         tuning.QuotaLimitFor(scope),
	})
	if err != nil {
		return check, err
	}
	if !granted {
		// Normal early stop, not an error: the dataset is skipped this
		// invocation and rechecked once budget returns.
		metrics.Engine().IncQuotaDenied(scope, quotadomain.OpFreshnessCheck)
		check.QuotaDenied = true
		return check, nil
	}
	check.RequestsUsed = requests

	run := &runsdomain.CollectionRun{
		ID:            s.genID.Generate(),
		RunID:         uuid.NewString(),
		DatasetCode:   code,
		ProviderScope: scope,
		RunType:       runsdomain.RunTypeFreshnessCheck,
		Status:        runsdomain.RunStatusRunning,
		StartedAt:     now,
		RequestsUsed:  requests,
	}
	if err := s.runs.Insert(ctx, s.db, run); err != nil {
		return check, err
	}

	observed, err := s.fetchSentinels(ctx, prov, code, sentinels)
	if err != nil {
		s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
		return check, err
	}

	tolerance := tuning.ToleranceFor(scope)
	changedCount := 0
	for _, sentinel := range sentinels {
		obs, ok := observed[sentinel.ItemID]
		hadBaseline := sentinel.CheckCount > 0 || sentinel.BaselinePeriod != ""
		sentinel.CheckCount++
		checkedAt := now
		sentinel.LastCheckedAt = &checkedAt
		if ok {
			if hadBaseline && sentinelChanged(sentinel, obs, tolerance) {
				sentinel.ChangeCount++
				changedAt := now
				sentinel.LastChangedAt = &changedAt
				changedCount++
			}
			sentinel.BaselinePeriod = obs.Period
			sentinel.BaselineValue = obs.Value
			sentinel.BaselineFootnotes = obs.Footnotes
		}
		if err := s.sentinels.UpdateAfterCheck(ctx, s.db, sentinel); err != nil {
			s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			return check, err
		}
	}
	check.SentinelsChecked = len(sentinels)
	check.SentinelsChanged = changedCount
	check.Flagged = changedCount > 0

	if err := s.applyDecision(ctx, code, changedCount, now); err != nil {
		s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
		return check, err
	}

	metrics.Engine().ObserveFreshnessCheck(scope, check.Flagged)
	metrics.Engine().AddSentinelChanges(scope, changedCount)
	run.SetCount("sentinels_checked", len(sentinels))
	run.SetCount("sentinels_changed", changedCount)
	s.finishRun(ctx, run, runsdomain.RunStatusCompleted, nil)
	return check, nil
}

// applyDecision flips needs_full_update when any sentinel changed and
// keeps it untouched otherwise, so re-checking a current dataset is a
// no-op. The frequency estimate is refreshed from the detection interval.
func (s *Service) applyDecision(ctx context.Context, code string, changedCount int, now time.Time) error {
	fresh, err := s.freshness.Get(ctx, s.db, code)
	if err != nil {
		return err
	}
	if fresh == nil {
		fresh = &domain.DatasetFreshness{DatasetCode: code}
	}
	checkedAt := now
	fresh.LastCheckedAt = &checkedAt

	if changedCount > 0 {
		if fresh.LastUpdateDetectedAt != nil {
			interval := now.Sub(*fresh.LastUpdateDetectedAt).Hours() / 24
			if fresh.UpdateFrequencyDays == 0 {
				fresh.UpdateFrequencyDays = interval
			} else {
				fresh.UpdateFrequencyDays = (fresh.UpdateFrequencyDays + interval) / 2
			}
		}
		detectedAt := now
		fresh.LastUpdateDetectedAt = &detectedAt
		fresh.NeedsFullUpdate = true
	}

	return s.freshness.Upsert(ctx, s.db, fresh)
}

func (s *Service) BaselinePoll(ctx context.Context, datasetCode string) (int, bool, error) {
	dataset, err := s.datasets.FindByCode(ctx, s.db, datasetCode)
	if err != nil {
		return 0, false, err
	}
	if dataset == nil {
		return 0, false, datasetdomain.ErrNotFound
	}
	prov, err := s.registry.Get(dataset.ProviderScope)
	if err != nil {
		return 0, false, err
	}

	sentinels, err := s.sentinels.ListByDataset(ctx, s.db, datasetCode)
	if err != nil {
		return 0, false, err
	}
	if len(sentinels) == 0 {
		return 0, false, nil
	}

	tuning := s.tuning.Get()
	requests := chunkCount(len(sentinels), prov.BatchSize())
	now := s.clock.Now()

	granted, err := s.ledger.TryConsume(ctx, quotadomain.ConsumeRequest{
		ProviderScope: prov.Scope(),
		UsageDate:     quotadomain.UsageDate(now),
		DatasetCode:   datasetCode,
		Operation:     quotadomain.OpBaselinePoll,
		Requests:      requests,
		ItemsCovered:  len(sentinels),
		Limit:         tuning.QuotaLimitFor(prov.Scope()),
	})
	if err != nil {
		return 0, false, err
	}
	if !granted {
		return 0, false, nil
	}

	run := &runsdomain.CollectionRun{
		ID:            s.genID.Generate(),
		RunID:         uuid.NewString(),
		DatasetCode:   datasetCode,
		ProviderScope: prov.Scope(),
		RunType:       runsdomain.RunTypeBaselinePoll,
		Status:        runsdomain.RunStatusRunning,
		StartedAt:     now,
		RequestsUsed:  requests,
	}
	if err := s.runs.Insert(ctx, s.db, run); err != nil {
		return requests, true, err
	}

	observed, err := s.fetchSentinels(ctx, prov, datasetCode, sentinels)
	if err != nil {
		s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
		return requests, true, err
	}

	for _, sentinel := range sentinels {
		sentinel.CheckCount++
		checkedAt := now
		sentinel.LastCheckedAt = &checkedAt
		if obs, ok := observed[sentinel.ItemID]; ok {
			sentinel.BaselinePeriod = obs.Period
			sentinel.BaselineValue = obs.Value
			sentinel.BaselineFootnotes = obs.Footnotes
		}
		if err := s.sentinels.UpdateAfterCheck(ctx, s.db, sentinel); err != nil {
			s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
			return requests, true, err
		}
	}
	run.SetCount("sentinels_polled", len(sentinels))
	s.finishRun(ctx, run, runsdomain.RunStatusCompleted, nil)
	return requests, true, nil
}

func (s *Service) fetchSentinels(ctx context.Context, prov providerdomain.Provider, code string, sentinels []*sentineldomain.SentinelItem) (map[string]providerdomain.Observation, error) {
	ids := make([]string, 0, len(sentinels))
	for _, sentinel := range sentinels {
		ids = append(ids, sentinel.ItemID)
	}

	observed := make(map[string]providerdomain.Observation, len(ids))
	batch := prov.BatchSize()
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		obs, err := prov.FetchLatest(ctx, code, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, o := range obs {
			observed[o.ItemID] = o
		}
	}
	return observed, nil
}

func (s *Service) finishRun(ctx context.Context, run *runsdomain.CollectionRun, status runsdomain.RunStatus, cause error) {
	completedAt := s.clock.Now()
	run.Status = status
	run.CompletedAt = &completedAt
	if cause != nil {
		run.Error = cause.Error()
	}
	if err := s.runs.Finish(ctx, s.db, run); err != nil {
		s.log.Warn("finish collection run", zap.Error(err))
	}
}

// sentinelChanged declares a change when the period advanced, the value
// moved beyond tolerance, or the footnote text differs. A single change is
// a strong trigger: publishers release most items atomically, and the
// accepted tradeoff is an occasional spurious full update from an isolated
// historical revision.
func sentinelChanged(sentinel *sentineldomain.SentinelItem, obs providerdomain.Observation, tolerance float64) bool {
	if periodAdvanced(sentinel.BaselinePeriod, obs.Period) {
		return true
	}
	if math.Abs(obs.Value-sentinel.BaselineValue) > tolerance {
		return true
	}
	if obs.Footnotes != sentinel.BaselineFootnotes {
		return true
	}
	return false
}

// periodAdvanced compares normalized period strings (YYYY, YYYY-Qn,
// YYYY-MM) lexicographically; equal or older periods are not advances.
func periodAdvanced(baseline, latest string) bool {
	if baseline == "" || latest == "" {
		return false
	}
	return latest > baseline
}

func chunkCount(items, batchSize int) int {
	if batchSize <= 0 {
		return items
	}
	return (items + batchSize - 1) / batchSize
}
