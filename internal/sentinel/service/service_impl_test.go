package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	datasetrepo "github.com/datakilde/varsel/internal/dataset/repository"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/provider"
	providerdomain "github.com/datakilde/varsel/internal/provider/domain"
	"github.com/datakilde/varsel/internal/sentinel/domain"
	sentinelrepo "github.com/datakilde/varsel/internal/sentinel/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type checkerMock struct {
	mock.Mock
}

func (m *checkerMock) Check(ctx context.Context, req freshnessdomain.CheckRequest) (freshnessdomain.CheckReport, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(freshnessdomain.CheckReport), args.Error(1)
}

func (m *checkerMock) BaselinePoll(ctx context.Context, datasetCode string) (int, bool, error) {
	args := m.Called(ctx, datasetCode)
	return args.Int(0), args.Bool(1), args.Error(2)
}

type itemsProvider struct {
	scope string
	items []providerdomain.ItemRef
}

func (p *itemsProvider) Scope() string  { return p.scope }
func (p *itemsProvider) BatchSize() int { return 50 }

func (p *itemsProvider) ListDatasets(context.Context) ([]providerdomain.DatasetRef, error) {
	return nil, nil
}

func (p *itemsProvider) ListActiveItems(context.Context, string) ([]providerdomain.ItemRef, error) {
	return p.items, nil
}

func (p *itemsProvider) FetchLatest(context.Context, string, []string) ([]providerdomain.Observation, error) {
	return nil, nil
}

type selectorFixture struct {
	db       *gorm.DB
	repo     domain.Repository
	datasets datasetdomain.Repository
	provider *itemsProvider
	checker  *checkerMock
	tuning   *config.TuningHolder
	genID    *snowflake.Node
	svc      domain.Service
}

func newSelectorFixture(t *testing.T, sentinelCount int) *selectorFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&datasetdomain.Dataset{}, &domain.SentinelItem{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	tuning, err := config.NewTuningHolder(config.Config{
		SentinelCount:     sentinelCount,
		ProviderBatchSize: 50,
		DailyQuotaLimit:   500,
	})
	require.NoError(t, err)

	prov := &itemsProvider{scope: "ssb"}
	checker := &checkerMock{}

	f := &selectorFixture{
		db:       db,
		repo:     sentinelrepo.Provide(),
		datasets: datasetrepo.Provide(),
		provider: prov,
		checker:  checker,
		tuning:   tuning,
		genID:    node,
	}
	f.svc = New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		GenID:    node,
		Repo:     f.repo,
		Datasets: f.datasets,
		Registry: provider.NewRegistry(prov),
		Tuning:   tuning,
		Checker:  checker,
	})
	return f
}

func (f *selectorFixture) seedDataset(t *testing.T, code string, sentinelCount int) {
	t.Helper()
	require.NoError(t, f.datasets.UpsertDataset(context.Background(), f.db, &datasetdomain.Dataset{
		ID:            snowflake.ID(1),
		Code:          code,
		ProviderScope: "ssb",
		SentinelCount: sentinelCount,
		Active:        true,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}))
}

func items(n int) []providerdomain.ItemRef {
	refs := make([]providerdomain.ItemRef, 0, n)
	for i := 0; i < n; i++ {
		refs = append(refs, providerdomain.ItemRef{
			ID:        string(rune('a'+i%26)) + string(rune('0'+i/26)),
			Aggregate: i%5 == 0,
			Group:     []string{"north", "south", "east"}[i%3],
		})
	}
	return refs
}

func TestSelect_SeedsSampleAndPollsBaselines(t *testing.T) {
	f := newSelectorFixture(t, 10)
	f.seedDataset(t, "07459", 0)
	f.provider.items = items(30)
	f.checker.On("BaselinePoll", mock.Anything, "07459").Return(1, true, nil)

	report, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)
	assert.Equal(t, 10, report.Selected)
	assert.True(t, report.BaselinePolled)
	assert.False(t, report.Skipped)
	assert.Equal(t, 10, report.AggregateCount+report.DiversityCount+report.RandomCount)

	count, err := f.repo.CountByDataset(context.Background(), f.db, "07459")
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	f.checker.AssertExpectations(t)
}

func TestSelect_IsIdempotentWithoutForce(t *testing.T) {
	f := newSelectorFixture(t, 10)
	f.seedDataset(t, "07459", 0)
	f.provider.items = items(30)
	f.checker.On("BaselinePoll", mock.Anything, "07459").Return(1, true, nil).Once()

	first, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)
	require.False(t, first.Skipped)

	// Second call leaves the existing set untouched and polls nothing.
	second, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 10, second.Selected)
	f.checker.AssertNumberOfCalls(t, "BaselinePoll", 1)
}

func TestSelect_ForceReplacesSampleAndRepolls(t *testing.T) {
	f := newSelectorFixture(t, 10)
	f.seedDataset(t, "07459", 0)
	f.provider.items = items(30)
	f.checker.On("BaselinePoll", mock.Anything, "07459").Return(1, true, nil).Twice()

	_, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)

	report, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459", Force: true})
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 10, report.Selected)

	count, err := f.repo.CountByDataset(context.Background(), f.db, "07459")
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
	f.checker.AssertExpectations(t)
}

// racingRepo simulates a second selector landing its set between the
// existence check and the batch insert.
type racingRepo struct {
	domain.Repository
	genID   *snowflake.Node
	counted bool
}

func (r *racingRepo) CountByDataset(ctx context.Context, db *gorm.DB, code string) (int64, error) {
	if !r.counted {
		r.counted = true
		return 0, nil
	}
	return r.Repository.CountByDataset(ctx, db, code)
}

func (r *racingRepo) InsertBatch(ctx context.Context, db *gorm.DB, sentinels []*domain.SentinelItem) error {
	// The competing selector's row lands first.
	winner := *sentinels[0]
	winner.ID = r.genID.Generate()
	if err := db.WithContext(ctx).Create(&winner).Error; err != nil {
		return err
	}
	return r.Repository.InsertBatch(ctx, db, sentinels)
}

func TestSelect_LosingTheSelectionRaceIsASkip(t *testing.T) {
	f := newSelectorFixture(t, 10)
	f.seedDataset(t, "07459", 0)
	f.provider.items = items(30)

	race := &racingRepo{Repository: f.repo, genID: f.genID}
	svc := New(Params{
		DB:       f.db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		GenID:    f.genID,
		Repo:     race,
		Datasets: f.datasets,
		Registry: provider.NewRegistry(f.provider),
		Tuning:   f.tuning,
		Checker:  f.checker,
	})

	report, err := svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, report.Selected)
	// The winner's set stands untouched; no baseline poll runs for the loser.
	f.checker.AssertNumberOfCalls(t, "BaselinePoll", 0)
}

func TestSelect_DatasetSentinelCountOverridesDefault(t *testing.T) {
	f := newSelectorFixture(t, 50)
	f.seedDataset(t, "07459", 5)
	f.provider.items = items(30)
	f.checker.On("BaselinePoll", mock.Anything, "07459").Return(1, true, nil)

	report, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Selected)
}

func TestSelect_NoActiveItems(t *testing.T) {
	f := newSelectorFixture(t, 10)
	f.seedDataset(t, "07459", 0)
	f.provider.items = nil

	_, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "07459"})
	assert.ErrorIs(t, err, domain.ErrNoActiveItems)
}

func TestSelect_UnknownDataset(t *testing.T) {
	f := newSelectorFixture(t, 10)

	_, err := f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "missing"})
	assert.ErrorIs(t, err, datasetdomain.ErrNotFound)

	_, err = f.svc.Select(context.Background(), domain.SelectRequest{DatasetCode: "  "})
	assert.ErrorIs(t, err, datasetdomain.ErrInvalidCode)
}
