package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	runsdomain "github.com/datakilde/varsel/internal/collectionrun/domain"
	"github.com/datakilde/varsel/internal/config"
	"github.com/datakilde/varsel/internal/dataset/domain"
	"github.com/datakilde/varsel/internal/observability/metrics"
	"github.com/datakilde/varsel/internal/provider"
	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     domain.Repository
	Runs     runsdomain.Repository
	Ledger   quotadomain.Ledger
	Registry *provider.Registry
	Tuning   *config.TuningHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	runs     runsdomain.Repository
	ledger   quotadomain.Ledger
	registry *provider.Registry
	tuning   *config.TuningHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("dataset.service"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		runs:     p.Runs,
		ledger:   p.Ledger,
		registry: p.Registry,
		tuning:   p.Tuning,
	}
}

func (s *Service) SyncCatalog(ctx context.Context, providerScope string) (domain.SyncReport, error) {
	report := domain.SyncReport{ProviderScope: providerScope}

	prov, err := s.registry.Get(providerScope)
	if err != nil {
		return report, err
	}

	now := s.clock.Now()
	limit := s.tuning.Get().QuotaLimitFor(providerScope)

	// The catalog listing itself is one provider request.
	if err := s.consume(ctx, providerScope, 1, limit, now); err != nil {
		return report, err
	}
	report.RequestsUsed = 1

	refs, err := prov.ListDatasets(ctx)
	if err != nil {
		return report, err
	}
	report.DatasetsSeen = len(refs)

	// One item listing per dataset follows.
	if len(refs) > 0 {
		if err := s.consume(ctx, providerScope, len(refs), limit, now); err != nil {
			return report, err
		}
		report.RequestsUsed += len(refs)
	}

	run := &runsdomain.CollectionRun{
		ID:            s.genID.Generate(),
		RunID:         uuid.NewString(),
		ProviderScope: providerScope,
		RunType:       runsdomain.RunTypeCatalogSync,
		Status:        runsdomain.RunStatusRunning,
		StartedAt:     now,
		RequestsUsed:  report.RequestsUsed,
	}
	if err := s.runs.Insert(ctx, s.db, run); err != nil {
		return report, err
	}

	if err := s.syncRefs(ctx, prov, providerScope, refs, now, &report); err != nil {
		s.finishRun(ctx, run, runsdomain.RunStatusFailed, err)
		return report, err
	}

	run.SetCount("datasets_seen", report.DatasetsSeen)
	run.SetCount("datasets_created", report.DatasetsCreated)
	run.SetCount("datasets_refreshed", report.DatasetsRefreshed)
	run.SetCount("datasets_deactivated", int(report.DatasetsDeactivated))
	run.SetCount("item_statuses_added", report.ItemStatusesAdded)
	s.finishRun(ctx, run, runsdomain.RunStatusCompleted, nil)

	s.log.Info("catalog synced",
		zap.String("scope", providerScope),
		zap.Int("datasets_seen", report.DatasetsSeen),
		zap.Int("datasets_created", report.DatasetsCreated),
		zap.Int("statuses_added", report.ItemStatusesAdded),
		zap.Int64("statuses_pruned", report.ItemStatusesPruned),
		zap.Int("requests_used", report.RequestsUsed),
	)
	return report, nil
}

func (s *Service) syncRefs(ctx context.Context, prov providerdomain.Provider, providerScope string, refs []providerdomain.DatasetRef, now time.Time, report *domain.SyncReport) error {
	sentinelCount := s.tuning.Get().SentinelCount
	keepCodes := make([]string, 0, len(refs))

	for _, ref := range refs {
		code := strings.TrimSpace(ref.Code)
		if code == "" {
			continue
		}
		keepCodes = append(keepCodes, code)

		items, err := prov.ListActiveItems(ctx, code)
		if err != nil {
			return err
		}
		itemIDs := make([]string, 0, len(items))
		for _, it := range items {
			itemIDs = append(itemIDs, it.ID)
		}

		existing, err := s.repo.FindByCode(ctx, s.db, code)
		if err != nil {
			return err
		}

		dataset := domain.Dataset{
			Code:            code,
			ProviderScope:   providerScope,
			Title:           ref.Title,
			ActiveItemCount: len(items),
			SentinelCount:   sentinelCount,
			CadenceHintDays: ref.CadenceHintDays,
			Active:          true,
			UpdatedAt:       now,
		}
		if existing == nil {
			dataset.ID = s.genID.Generate()
			dataset.CreatedAt = now
			report.DatasetsCreated++
		} else {
			dataset.ID = existing.ID
			dataset.CreatedAt = existing.CreatedAt
			dataset.SentinelCount = existing.SentinelCount
			report.DatasetsRefreshed++
		}
		if err := s.repo.UpsertDataset(ctx, s.db, &dataset); err != nil {
			return err
		}

		before, err := s.repo.CountItems(ctx, s.db, code)
		if err != nil {
			return err
		}
		if err := s.repo.EnsureItemStatuses(ctx, s.db, code, itemIDs); err != nil {
			return err
		}
		after, err := s.repo.CountItems(ctx, s.db, code)
		if err != nil {
			return err
		}
		report.ItemStatusesAdded += int(after - before)

		pruned, err := s.repo.DeleteVanishedStatuses(ctx, s.db, code, itemIDs)
		if err != nil {
			return err
		}
		report.ItemStatusesPruned += pruned
	}

	deactivated, err := s.repo.DeactivateMissing(ctx, s.db, providerScope, keepCodes, now)
	if err != nil {
		return err
	}
	report.DatasetsDeactivated = deactivated
	return nil
}

func (s *Service) consume(ctx context.Context, providerScope string, requests, limit int, now time.Time) error {
	granted, err := s.ledger.TryConsume(ctx, quotadomain.ConsumeRequest{
		ProviderScope: providerScope,
		UsageDate:     quotadomain.UsageDate(now),
		Operation:     quotadomain.OpCatalogSync,
		Requests:      requests,
		Limit:         limit,
	})
	if err != nil {
		return err
	}
	if !granted {
		metrics.Engine().IncQuotaDenied(providerScope, quotadomain.OpCatalogSync)
		return quotadomain.ErrQuotaExhausted
	}
	metrics.Engine().AddRequestsUsed(providerScope, quotadomain.OpCatalogSync, requests)
	return nil
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

func (s *Service) Get(ctx context.Context, code string) (*domain.Dataset, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}
	dataset, err := s.repo.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if dataset == nil {
		return nil, domain.ErrNotFound
	}
	return dataset, nil
}

func (s *Service) ListActive(ctx context.Context, providerScope string) ([]*domain.Dataset, error) {
	return s.repo.ListActive(ctx, s.db, providerScope)
}
