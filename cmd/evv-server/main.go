package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/carebridge-health/evv-engine/api/swagger"
	"github.com/carebridge-health/evv-engine/internal/aggregator"
	"github.com/carebridge-health/evv-engine/internal/handler"
	"github.com/carebridge-health/evv-engine/internal/middleware"
	"github.com/carebridge-health/evv-engine/internal/models"
	"github.com/carebridge-health/evv-engine/internal/provider"
	"github.com/carebridge-health/evv-engine/internal/repository"
	"github.com/carebridge-health/evv-engine/internal/rules"
	"github.com/carebridge-health/evv-engine/internal/service"
	"github.com/carebridge-health/evv-engine/pkg/cache"
	"github.com/carebridge-health/evv-engine/pkg/config"
	"github.com/carebridge-health/evv-engine/pkg/database"
	"github.com/carebridge-health/evv-engine/pkg/logger"
	corsmiddleware "github.com/carebridge-health/evv-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/carebridge-health/evv-engine/pkg/middleware/requestid"
)

// @title CareBridge EVV Engine
// @version 1.0.0
// @description Electronic Visit Verification and compliance API for home-care visits
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The engine degrades without redis: idempotency falls back to the
		// attempt log and summaries are recomputed per request.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	entryRepo := repository.NewTimeEntryRepository(db)
	recordRepo := repository.NewEVVRecordRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	providers := provider.NewSQLProviders(db)
	ruleRegistry := rules.NewRegistry(rules.NewSnapshot(1, rules.Seed()))

	// Services.
	metricsSvc := service.NewMetricsService()
	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "carebridge-evv",
	})
	gate := service.NewEligibilityService(cfg.EVV.CredentialWarningWindow, logr)
	verifier := service.NewVerificationService(cfg.EVV, logr)
	submissionSvc := service.NewSubmissionService(service.SubmissionServiceDeps{
		Attempts: submissionRepo,
		Records:  recordRepo,
		Rules:    ruleRegistry,
		Client:   aggregator.NewHTTPClient(cfg.Submission.AggregatorURLs, cfg.Submission.RequestTimeout),
		Cache:    cacheRepo,
		Audit:    auditRepo,
		Config:   cfg.Submission,
		Logger:   logr,
	})
	recordSvc := service.NewRecordService(service.RecordServiceDeps{
		Entries:    entryRepo,
		Records:    recordRepo,
		Audit:      auditRepo,
		Clients:    providers,
		Caregivers: providers,
		Visits:     providers,
		Rules:      ruleRegistry,
		Gate:       gate,
		Verifier:   verifier,
		Submitter:  submissionSvc,
		Points:     cacheRepo,
		Logger:     logr,
	})
	overrideSvc := service.NewOverrideService(entryRepo, recordRepo, recordSvc, auditRepo, logr)
	amendmentSvc := service.NewAmendmentService(recordRepo, submissionSvc, submissionSvc, auditRepo, logr)
	summarySvc := service.NewSummaryService(recordRepo, cacheRepo, cfg.Summary, logr)

	submissionSvc.Start(ctx)
	defer submissionSvc.Stop()
	recordSvc.StartReconciler(ctx, cfg.EVV.ReconcileInterval)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	evvHandler := handler.NewEVVHandler(recordSvc, metricsSvc)
	overrideHandler := handler.NewOverrideHandler(overrideSvc, metricsSvc)
	amendmentHandler := handler.NewAmendmentHandler(amendmentSvc, metricsSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc)
	complianceHandler := handler.NewComplianceHandler(summarySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)

		protected := api.Group("")
		protected.Use(middleware.JWT(authSvc))

		clock := middleware.RBAC(models.RoleCaregiver, models.RoleCoordinator, models.RoleAdmin)
		protected.POST("/visits/:id/clock-in", clock, evvHandler.ClockIn)
		protected.POST("/visits/:id/clock-out", clock, evvHandler.ClockOut)
		protected.GET("/visits/:id/record",
			middleware.Audit(auditRepo, models.AuditActionRecordView, "evv_record"), evvHandler.VisitRecord)

		review := middleware.RBAC(models.RoleSupervisor, models.RoleCoordinator, models.RoleAdmin)
		recordAudit := middleware.Audit(auditRepo, models.AuditActionRecordView, "evv_record")
		protected.GET("/records", review, recordAudit, evvHandler.SearchRecords)
		protected.GET("/records/:id", review, recordAudit, evvHandler.GetRecord)
		protected.POST("/records/:id/amendments", review, amendmentHandler.Amend)
		protected.GET("/records/:id/submissions", review,
			middleware.Audit(auditRepo, models.AuditActionRecordView, "submission_attempt"), submissionHandler.ListAttempts)
		protected.POST("/records/:id/submissions/retry", review, submissionHandler.Retry)

		supervise := middleware.RBAC(models.RoleSupervisor, models.RoleAdmin)
		protected.POST("/time-entries/:id/override", supervise, overrideHandler.Override)
		protected.GET("/time-entries/:id/overrides", supervise,
			middleware.Audit(auditRepo, models.AuditActionRecordView, "manual_override"), overrideHandler.ListOverrides)

		protected.GET("/compliance/summary", review,
			middleware.Audit(auditRepo, models.AuditActionComplianceView, "compliance_summary"), complianceHandler.Summary)
		protected.GET("/compliance/export", review,
			middleware.Audit(auditRepo, models.AuditActionComplianceExport, "compliance_export"), complianceHandler.Export)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}
