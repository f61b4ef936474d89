package server

import (
	"context"
	"net/http"
	"time"

	"github.com/datakilde/varsel/internal/clock"
	runsdomain "github.com/datakilde/varsel/internal/collectionrun/domain"
	"github.com/datakilde/varsel/internal/config"
	datasetdomain "github.com/datakilde/varsel/internal/dataset/domain"
	freshnessdomain "github.com/datakilde/varsel/internal/freshness/domain"
	"github.com/datakilde/varsel/internal/orchestrator"
	"github.com/datakilde/varsel/internal/provider"
	quotadomain "github.com/datakilde/varsel/internal/quota/domain"
	sentineldomain "github.com/datakilde/varsel/internal/sentinel/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Tuning      *config.TuningHolder
	DatasetSvc  datasetdomain.Service
	SentinelSvc sentineldomain.Service
	Checker     freshnessdomain.Checker
	Orch        *orchestrator.Orchestrator
	Ledger      quotadomain.Ledger
	Registry    *provider.Registry
	Runs        runsdomain.Repository
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	tuning      *config.TuningHolder
	datasetSvc  datasetdomain.Service
	sentinelSvc sentineldomain.Service
	checker     freshnessdomain.Checker
	orch        *orchestrator.Orchestrator
	ledger      quotadomain.Ledger
	registry    *provider.Registry
	runs        runsdomain.Repository
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("server"),
		clock:       p.Clock,
		tuning:      p.Tuning,
		datasetSvc:  p.DatasetSvc,
		sentinelSvc: p.SentinelSvc,
		checker:     p.Checker,
		orch:        p.Orch,
		ledger:      p.Ledger,
		registry:    p.Registry,
		runs:        p.Runs,
	}
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")

	v1.GET("/datasets", s.ListDatasets)
	v1.GET("/datasets/:code", s.GetDataset)
	v1.GET("/datasets/:code/status", s.GetDatasetStatus)
	v1.POST("/datasets/:code/reset", s.ResetDataset)
	v1.POST("/datasets/:code/sentinels/select", s.SelectSentinels)

	v1.POST("/catalog/sync", s.SyncCatalog)
	v1.POST("/freshness/check", s.CheckFreshness)
	v1.POST("/updates/run", s.RunUpdate)

	v1.GET("/quota/:scope", s.GetQuota)
	v1.GET("/runs", s.ListRuns)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
