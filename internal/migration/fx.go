package migration

import (
	runsdomain "github.com/datakilde/varsel/internal/collectionrun/domain"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/provider/sink"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "sqlite" {
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB, cfg.DBType)
	}),
)

// AutoMigrate creates the schema through gorm. Used for sqlite where the
// SQL migration drivers do not apply, and by tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&datasetdomain.Dataset{},
		&datasetdomain.ItemUpdateStatus{},
		&sentineldomain.SentinelItem{},
		&freshnessdomain.DatasetFreshness{},
		&quotadomain.QuotaUsageRecord{},
		&quotadomain.QuotaCounter{},
		&runsdomain.CollectionRun{},
		&sink.ObservationRow{},
	)
}
