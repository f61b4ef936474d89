package sink

import (
	"context"
	"time"

	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/provider/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ObservationRow is the reference relational sink for fetched observations.
// The schema mirrors what the engine needs and nothing more; provider
// specific field parsing stays out of this repository.
type ObservationRow struct {
	DatasetCode string    `gorm:"primaryKey;size:64" json:"dataset_code"`
	ItemID      string    `gorm:"primaryKey;size:128" json:"item_id"`
	Period      string    `gorm:"size:16;not null" json:"period"`
	Value       float64   `gorm:"not null" json:"value"`
	Footnotes   string    `json:"footnotes,omitempty"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

func (ObservationRow) TableName() string { return "observations" }

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Sink struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

var Module = fx.Module("provider.sink",
	fx.Provide(New),
)

func New(p Params) domain.ObservationSink {
	return &Sink{
		db:    p.DB,
		log:   p.Log.Named("provider.sink"),
		clock: p.Clock,
	}
}

// UpsertObservations writes the latest observation per item. Re-applying
// the same batch is a no-op apart from updated_at, which makes chunk
// replays after a crash safe.
func (s *Sink) UpsertObservations(ctx context.Context, datasetCode string, observations []domain.Observation) error {
	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, obs := range observations {
			if err := tx.Exec(
				`INSERT INTO observations (dataset_code, item_id, period, value, footnotes, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (dataset_code, item_id)
				 DO UPDATE SET period = EXCLUDED.period,
				               value = EXCLUDED.value,
				               footnotes = EXCLUDED.footnotes,
				               updated_at = EXCLUDED.updated_at`,
				datasetCode,
				obs.ItemID,
				obs.Period,
				obs.Value,
				obs.Footnotes,
				now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
