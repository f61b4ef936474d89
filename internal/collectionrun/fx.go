package collectionrun

import (
	"github.com/datakilde/varsel/internal/collectionrun/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("collectionrun",
	fx.Provide(repository.Provide),
)
