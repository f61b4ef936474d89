package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/datakilde/varsel/internal/clock"
	"github.com/datakilde/varsel/internal/collectionrun"
	"github.com/datakilde/varsel/internal/config"
	"github.com/datakilde/varsel/internal/dataset"
	"github.com/datakilde/varsel/internal/freshness"
	"github.com/datakilde/varsel/internal/migration"
	"github.com/datakilde/varsel/internal/observability"
	"github.com/datakilde/varsel/internal/orchestrator"
	"github.com/datakilde/varsel/internal/provider"
	"github.com/datakilde/varsel/internal/provider/sink"
	"github.com/datakilde/varsel/internal/quota"
	"github.com/datakilde/varsel/internal/sentinel"
	"github.com/datakilde/varsel/internal/server"
	"github.com/datakilde/varsel/pkg/db"
	"github.com/datakilde/varsel/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		log.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		provider.Module,
		sink.Module,
		dataset.Module,
		quota.Module,
		sentinel.Module,
		freshness.Module,
		collectionrun.Module,
		orchestrator.Module,

		server.Module,

		fx.Invoke(StartRunner),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func StartRunner(lc fx.Lifecycle, r *orchestrator.Runner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go r.RunForever(context.Background())
			return nil
		},
	})
}
