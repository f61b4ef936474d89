package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/provider"
	"github.com/datakilde/varsel/internal/sentinel/domain"
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
	Datasets datasetdomain.Repository
	Registry *provider.Registry
	Tuning   *config.TuningHolder
	Checker  freshnessdomain.Checker
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     domain.Repository
	datasets datasetdomain.Repository
	registry *provider.Registry
	tuning   *config.TuningHolder
	checker  freshnessdomain.Checker
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("sentinel.selector"),
		clock:    p.Clock,
		genID:    p.GenID,
		repo:     p.Repo,
		datasets: p.Datasets,
		registry: p.Registry,
		tuning:   p.Tuning,
		checker:  p.Checker,
	}
}

func (s *Service) Select(ctx context.Context, req domain.SelectRequest) (domain.SelectReport, error) {
	code := strings.TrimSpace(req.DatasetCode)
	report := domain.SelectReport{DatasetCode: code}
	if code == "" {
		return report, datasetdomain.ErrInvalidCode
	}

	dataset, err := s.datasets.FindByCode(ctx, s.db, code)
	if err != nil {
		return report, err
	}
	if dataset == nil {
		return report, datasetdomain.ErrNotFound
	}

	existing, err := s.repo.CountByDataset(ctx, s.db, code)
	if err != nil {
		return report, err
	}
	if existing > 0 && !req.Force {
		report.Skipped = true
		report.Selected = int(existing)
		return report, nil
	}

	prov, err := s.registry.Get(dataset.ProviderScope)
	if err != nil {
		return report, err
	}
	items, err := prov.ListActiveItems(ctx, code)
	if err != nil {
		return report, err
	}
	if len(items) == 0 {
		// Not configured: the dataset stays out of checking and updating
		// until the provider reports items again.
		return report, domain.ErrNoActiveItems
	}

	target := dataset.SentinelCount
	if target <= 0 {
		target = s.tuning.Get().SentinelCount
	}

	now := s.clock.Now()
	rng := rand.New(rand.NewSource(now.UnixNano()))
	picks := stratify(items, target, rng)

	if req.Force {
		if _, err := s.repo.DeleteByDataset(ctx, s.db, code); err != nil {
			return report, err
		}
	}

	sentinels := make([]*domain.SentinelItem, 0, len(picks))
	for _, p := range picks {
		sentinels = append(sentinels, &domain.SentinelItem{
			ID:              s.genID.Generate(),
			DatasetCode:     code,
			ItemID:          p.ref.ID,
			SelectionReason: p.reason,
			CreatedAt:       now,
		})
		switch p.reason {
		case domain.ReasonAggregate:
			report.AggregateCount++
		case domain.ReasonDiversity:
			report.DiversityCount++
		default:
			report.RandomCount++
		}
	}
	if err := s.repo.InsertBatch(ctx, s.db, sentinels); err != nil {
		if errors.Is(err, domain.ErrAlreadySelected) {
			// Another selector won the race; its set stands.
			existing, countErr := s.repo.CountByDataset(ctx, s.db, code)
			if countErr != nil {
				return report, countErr
			}
			report.Skipped = true
			report.AggregateCount = 0
			report.DiversityCount = 0
			report.RandomCount = 0
			report.Selected = int(existing)
			return report, nil
		}
		return report, err
	}
	report.Selected = len(sentinels)

	// Populate baselines right away; comparing a fresh set against empty
	// baselines would flag every sentinel as changed on the first check.
	_, polled, err := s.checker.BaselinePoll(ctx, code)
	if err != nil {
		return report, err
	}
	report.BaselinePolled = polled

	s.log.Info("sentinels selected",
		zap.String("dataset", code),
		zap.Int("selected", report.Selected),
		zap.Int("aggregate", report.AggregateCount),
		zap.Int("diversity", report.DiversityCount),
		zap.Int("random", report.RandomCount),
		zap.Bool("baseline_polled", report.BaselinePolled),
		zap.Bool("forced", req.Force),
	)
	return report, nil
}
