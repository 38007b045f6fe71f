package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	allocationdomain "github.com/smallbiznis/agrisubsidy/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/agrisubsidy/internal/audit/domain"
	"github.com/smallbiznis/agrisubsidy/internal/authorization"
	beneficiarydomain "github.com/smallbiznis/agrisubsidy/internal/beneficiary/domain"
	calculationdomain "github.com/smallbiznis/agrisubsidy/internal/calculation/domain"
	"github.com/smallbiznis/agrisubsidy/internal/config"
	disbursementdomain "github.com/smallbiznis/agrisubsidy/internal/disbursement/domain"
	farmdomain "github.com/smallbiznis/agrisubsidy/internal/farm/domain"
	inventorydomain "github.com/smallbiznis/agrisubsidy/internal/inventory/domain"
	"github.com/smallbiznis/agrisubsidy/internal/observability"
	obsmiddleware "github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agrisubsidy/internal/observability/tracing"
	programdomain "github.com/smallbiznis/agrisubsidy/internal/program/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
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

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	programSvc      programdomain.Service
	allocationSvc   allocationdomain.Service
	inventorySvc    inventorydomain.Service
	farmAgg         farmdomain.Aggregator
	beneficiarySvc  beneficiarydomain.Service
	calculationSvc  calculationdomain.Service
	disbursementSvc disbursementdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	ProgramSvc      programdomain.Service
	AllocationSvc   allocationdomain.Service
	InventorySvc    inventorydomain.Service
	FarmAgg         farmdomain.Aggregator
	BeneficiarySvc  beneficiarydomain.Service
	CalculationSvc  calculationdomain.Service
	DisbursementSvc disbursementdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		programSvc:      p.ProgramSvc,
		allocationSvc:   p.AllocationSvc,
		inventorySvc:    p.InventorySvc,
		farmAgg:         p.FarmAgg,
		beneficiarySvc:  p.BeneficiarySvc,
		calculationSvc:  p.CalculationSvc,
		disbursementSvc: p.DisbursementSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", ActorRequired())

	programs := api.Group("/programs")
	{
		programs.POST("", s.CreateProgram)
		programs.GET("/:id", s.GetProgram)
		programs.POST("/:id/submit", s.SubmitProgram)
		programs.POST("/:id/process", s.ProcessProgram)
		programs.POST("/:id/start-distribution", s.StartDistribution)
		programs.POST("/:id/complete", s.CompleteProgram)
		programs.POST("/:id/cancel", s.CancelProgram)
		programs.GET("/:id/history", s.ProgramHistory)

		programs.POST("/:id/inventory-allocations", s.AllocateInventory)
		programs.POST("/:id/financial-allocations", s.AllocateFinancial)
		programs.GET("/:id/allocation-summary", s.AllocationSummary)

		programs.POST("/:id/rules", s.CreateRule)
		programs.GET("/:id/rules", s.ListRules)
		programs.POST("/:id/calculate", s.CalculateProgram)
		programs.GET("/:id/preview", s.PreviewProgram)

		programs.POST("/:id/beneficiaries", s.EnrollBeneficiary)
		programs.GET("/:id/beneficiaries", s.ListBeneficiaries)
		programs.GET("/:id/beneficiary-items", s.ListBeneficiaryItems)

		programs.POST("/:id/batches", s.CreateBatch)
		programs.GET("/:id/batches", s.ListBatches)
	}
	api.GET("/approvals/pending", s.PendingApprovals)

	inventory := api.Group("/inventory-items")
	{
		inventory.POST("", s.CreateInventoryItem)
		inventory.GET("/:id", s.GetInventoryItem)
		inventory.PATCH("/:id", s.UpdateInventoryItem)
		inventory.PUT("/:id/cost", s.UpdateInventoryItemCost)
		inventory.GET("/:id/stock", s.GetCurrentStock)
		inventory.POST("/:id/stock", s.AddStock)
		inventory.GET("/:id/movements", s.ListStockMovements)
		inventory.POST("/:id/movements", s.RecordStockMovement)
		inventory.GET("/:id/reconcile", s.ReconcileStock)
	}
	api.GET("/subsidizable-items", s.ListSubsidizableItems)

	api.POST("/inventory-allocations/:id/cancel", s.CancelInventoryAllocation)
	api.POST("/financial-allocations/:id/cancel", s.CancelFinancialAllocation)

	subsidyTypes := api.Group("/subsidy-types")
	{
		subsidyTypes.POST("", s.CreateSubsidyType)
		subsidyTypes.GET("", s.ListSubsidyTypes)
	}

	api.POST("/rules/:id/deactivate", s.DeactivateRule)

	beneficiaries := api.Group("/beneficiaries")
	{
		beneficiaries.GET("/:id", s.GetBeneficiary)
		beneficiaries.POST("/:id/approve", s.ApproveBeneficiary)
		beneficiaries.POST("/:id/reject", s.RejectBeneficiary)
	}
	api.POST("/beneficiary-items/:id/override", s.OverrideBeneficiaryItem)

	farm := api.Group("/farm-parcels")
	{
		farm.POST("", s.RegisterFarmParcel)
		farm.GET("/summary", s.FarmSummary)
	}

	batches := api.Group("/batches")
	{
		batches.GET("/:id", s.GetBatch)
		batches.POST("/:id/disburse", s.Disburse)
		batches.POST("/:id/close", s.CloseBatch)
		batches.POST("/:id/cancel", s.CancelBatch)
		batches.GET("/:id/financial-records", s.ListFinancialRecords)
	}

	api.GET("/audit-logs", s.ListAuditLogs)
}
