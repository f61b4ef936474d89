package orchestrator

import (
	"context"
	"time"

	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/provider"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner drives the periodic ingestion cycle: catalog sync, sentinel
// freshness check, then quota-bounded full updates, once per provider scope.
type Runner struct {
	log      *zap.Logger
	cfg      Config
	registry *provider.Registry
	catalog  datasetdomain.Service
	orch     *Orchestrator
}

func NewRunner(p Params, catalog datasetdomain.Service, orch *Orchestrator) *Runner {
	return &Runner{
		log:      p.Log.Named("runner"),
		cfg:      p.Config.withDefaults(),
		registry: p.Registry,
		catalog:  catalog,
		orch:     orch,
	}
}

// RunOnce executes one full cycle across all configured scopes. Scopes run
// concurrently; each scope's own quota is independent, so one exhausted
// budget never stalls another provider.
func (r *Runner) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout*time.Duration(r.cfg.MaxDatasetsPerRun))
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, scope := range r.registry.Scopes() {
		scope := scope
		g.Go(func() error {
			return r.runScope(ctx, scope)
		})
	}
	return g.Wait()
}

func (r *Runner) runScope(ctx context.Context, scope string) error {
	log := r.log.With(zap.String("scope", scope))

	syncReport, err := r.catalog.SyncCatalog(ctx, scope)
	if err != nil {
		log.Error("catalog sync failed", zap.Error(err))
		return err
	}
	log.Info("catalog synced",
		zap.Int("datasets", syncReport.DatasetsSeen),
		zap.Int("statuses_added", syncReport.ItemStatusesAdded),
		zap.Int64("statuses_pruned", syncReport.ItemStatusesPruned),
	)

	checkReport, err := r.orch.CheckFreshness(ctx, freshnessdomain.CheckRequest{ProviderScope: scope})
	if err != nil {
		// Partial check results are still recorded; fall through to the
		// update pass so already flagged datasets keep draining.
		log.Warn("freshness check incomplete", zap.Error(err))
	}
	log.Info("freshness checked",
		zap.Int("datasets_checked", checkReport.DatasetsChecked),
		zap.Int("datasets_flagged", checkReport.DatasetsFlagged),
		zap.Int("requests_used", checkReport.RequestsUsed),
	)

	runReport, err := r.orch.RunUpdate(ctx, RunRequest{ProviderScope: scope})
	if err != nil {
		log.Error("update run failed", zap.Error(err))
		return err
	}
	if runReport.QuotaExhausted {
		log.Info("quota exhausted, resuming next cycle",
			zap.Int("datasets_completed", runReport.DatasetsCompleted),
			zap.Int("datasets_in_progress", runReport.DatasetsInProgress),
		)
	}
	return nil
}

// RunForever loops RunOnce on the configured interval until ctx is done.
// The first cycle starts immediately.
func (r *Runner) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Error("cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
