package dataset

import (
	"github.com/datakilde/varsel/internal/dataset/repository"
	"github.com/datakilde/varsel/internal/dataset/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dataset.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
