package main

import (
	"context"
	"errors"
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

	_ "github.com/noah-isme/sma-timetable/api/swagger"
	"github.com/noah-isme/sma-timetable/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-timetable/internal/middleware"
	"github.com/noah-isme/sma-timetable/internal/repository"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/cache"
	"github.com/noah-isme/sma-timetable/pkg/config"
	"github.com/noah-isme/sma-timetable/pkg/database"
	"github.com/noah-isme/sma-timetable/pkg/events"
	"github.com/noah-isme/sma-timetable/pkg/jobs"
	"github.com/noah-isme/sma-timetable/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable/pkg/middleware/requestid"
	"github.com/noah-isme/sma-timetable/pkg/storage"
)

// @title SMA Timetable API
// @version 1.0.0
// @description Weekly timetable allocation engine: datasets in, teacher/group/room timetables out.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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

	engineOpts, err := service.EngineOptions(cfg.Scheduler)
	if err != nil {
		logr.Fatal("invalid scheduler configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		logr.Fatal("failed to prepare schema", zap.Error(err))
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Scheduler.CacheTTL, logr, redisClient != nil)

	publisher, err := events.NewPublisher(events.Config{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Acks:    cfg.Kafka.Acks,
	}, logr)
	if err != nil {
		logr.Fatal("failed to init run publisher", zap.Error(err))
	}
	defer publisher.Close() //nolint:errcheck

	fileStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	validate := validator.New()
	datasetRepo := repository.NewDatasetRepository(db)
	runRepo := repository.NewRunRepository(db)

	exportSvc := service.NewExportService(runRepo, fileStore, signer, engineOpts.Grid, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	}, validate, logr, nil, nil)

	timetableSvc := service.NewTimetableService(datasetRepo, runRepo, db, cacheSvc, publisher, metrics, exportSvc, validate, logr, service.TimetableConfig{
		Engine:   engineOpts,
		CacheTTL: cfg.Scheduler.CacheTTL,
	})
	datasetSvc := service.NewDatasetService(datasetRepo, db, validate, logr)

	worker := service.NewTimetableWorker(timetableSvc, cfg.Scheduler.QueueRetries, logr)
	queue := jobs.NewQueue("timetable", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Scheduler.QueueWorkers,
		MaxRetries: cfg.Scheduler.QueueRetries,
		Logger:     logr,
	})
	timetableSvc.UseQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()
	timetableSvc.RecoverPendingJobs(ctx)
	exportSvc.StartCleanup(ctx)

	tokens := service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})
	authSvc := service.NewAuthService(repository.NewUserRepository(db), tokens, validate, logr, cfg.Auth.BcryptCost)
	if err := authSvc.EnsureAdmin(ctx, cfg.Auth.BootstrapUsername, cfg.Auth.BootstrapPassword); err != nil {
		logr.Fatal("failed to seed admin account", zap.Error(err))
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(internalmiddleware.WithResponseMeta())

	observability := handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
		"database": db.PingContext,
		"cache":    cacheRepo.Ping,
	}, logr)
	r.GET("/health", observability.Health)
	r.GET("/ready", observability.Ready)
	r.GET("/metrics", observability.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.RegisterRoutes(r.Group(cfg.APIPrefix), internalmiddleware.JWT(tokens), handler.Routes{
		Timetables: handler.NewTimetableHandler(timetableSvc, exportSvc),
		Datasets:   handler.NewDatasetHandler(datasetSvc),
		Downloads:  handler.NewDownloadHandler(exportSvc),
		Auth:       handler.NewAuthHandler(authSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
