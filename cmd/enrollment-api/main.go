package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/batch-enrollment/api/swagger"
	"github.com/noah-isme/batch-enrollment/internal/handler"
	"github.com/noah-isme/batch-enrollment/internal/middleware"
	"github.com/noah-isme/batch-enrollment/internal/models"
	"github.com/noah-isme/batch-enrollment/internal/repository"
	"github.com/noah-isme/batch-enrollment/internal/service"
	"github.com/noah-isme/batch-enrollment/internal/workflow"
	"github.com/noah-isme/batch-enrollment/pkg/cache"
	"github.com/noah-isme/batch-enrollment/pkg/config"
	"github.com/noah-isme/batch-enrollment/pkg/database"
	"github.com/noah-isme/batch-enrollment/pkg/events"
	"github.com/noah-isme/batch-enrollment/pkg/jobs"
	"github.com/noah-isme/batch-enrollment/pkg/logger"
	corsmiddleware "github.com/noah-isme/batch-enrollment/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/batch-enrollment/pkg/middleware/requestid"
)

// @title Batch Enrollment API
// @version 1.0.0
// @description Mode selection, fee payments, admin approval and test slot booking
// @BasePath /api/v1
// @schemes http https

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	location, err := cfg.Portal.Location()
	if err != nil {
		return err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()

	db, err := database.NewPostgres(dialCtx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	deps := map[string]handler.Pinger{"postgres": db}

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(dialCtx, cfg.Redis)
		if err != nil {
			logr.Warn("status cache disabled, redis unavailable", zap.Error(err))
		} else {
			cacheRepo := repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheSvc = service.NewCacheService(cacheRepo, metrics, cfg.Cache.StatusTTL, logr, true)
			if err := cacheSvc.Purge(dialCtx); err != nil {
				logr.Warn("stale status records may be served until they expire", zap.Error(err))
			}
			deps["redis"] = handler.PingerFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		}
	}

	var publisher events.Publisher = events.NewLogPublisher(logr)
	if cfg.Events.Enabled {
		publisher = events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, logr)
	}
	eventSvc := service.NewEventService(publisher, jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
		Logger:     logr,
	}, metrics, logr)
	eventSvc.Start(ctx)
	defer eventSvc.Stop()

	machine := workflow.New(workflow.Fees{
		RegistrationUnpaid: cfg.Fees.RegistrationUnpaid,
		RegistrationPaid:   cfg.Fees.RegistrationPaid,
		Course:             cfg.Fees.Course,
	}, workflow.WithLocation(location))

	enrollmentSvc := service.NewEnrollmentService(
		repository.NewEnrollmentRepository(db),
		machine,
		validator.New(),
		logr,
		service.WithStatusCache(cacheSvc),
		service.WithEventEmitter(eventSvc),
		service.WithEnrollmentMetrics(metrics),
	)
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, deps, logr)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	adminHandler := handler.NewAdminHandler(enrollmentSvc)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))

	enrollment := api.Group("/enrollment")
	enrollment.GET("/status", enrollmentHandler.Status)
	enrollment.GET("/receipt", enrollmentHandler.Receipt)
	enrollment.POST("/select-mode", enrollmentHandler.SelectMode)
	enrollment.POST("/registration-pay", enrollmentHandler.RegistrationPayment)
	enrollment.POST("/test-slot", enrollmentHandler.TestSlot)
	enrollment.POST("/course-pay", enrollmentHandler.CoursePayment)

	admin := api.Group("/admin", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.GET("/enrollments", adminHandler.List)
	admin.GET("/enrollments/export", adminHandler.Export)
	admin.POST("/enrollments/:batchId/:userId/approve", middleware.Audit(logr, "enrollment.approve"), adminHandler.Approve)
	admin.POST("/enrollments/:batchId/:userId/revoke", middleware.Audit(logr, "enrollment.revoke"), adminHandler.Revoke)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logr.Info("server shutting down")
	return srv.Shutdown(shutdownCtx)
}
