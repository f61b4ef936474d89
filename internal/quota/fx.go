package quota

import (
	"strings"

	"github.com/datakilde/varsel/internal/config"
	"github.com/datakilde/varsel/internal/quota/domain"
	"github.com/datakilde/varsel/internal/quota/redisledger"
	"github.com/datakilde/varsel/internal/quota/service"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.ledger",
	fx.Provide(ProvideLedger),
)

func ProvideLedger(cfg config.Config, p service.Params) (domain.Ledger, error) {
	sqlLedger := service.New(p)
	if strings.ToLower(cfg.QuotaBackend) != "redis" {
		return sqlLedger, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return redisledger.New(client, sqlLedger, p.Log)
}
