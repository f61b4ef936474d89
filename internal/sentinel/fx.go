package sentinel

import (
	"github.com/datakilde/varsel/internal/sentinel/repository"
	"github.com/datakilde/varsel/internal/sentinel/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sentinel.selector",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
