package freshness

import (
	"github.com/datakilde/varsel/internal/freshness/repository"
	"github.com/datakilde/varsel/internal/freshness/service"
	"go.uber.org/fx"
)

var Module = fx.Module("freshness.checker",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
