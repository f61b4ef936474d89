package observability

import (
	"github.com/datakilde/varsel/internal/config"
	"github.com/datakilde/varsel/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Invoke(ensureEngineMetrics),
)

func ensureEngineMetrics(cfg config.Config) {
	metrics.EngineWithConfig(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}
