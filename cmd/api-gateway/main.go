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
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/fleet-trip-api/api/swagger"
	"github.com/noah-isme/fleet-trip-api/internal/handler"
	internalmiddleware "github.com/noah-isme/fleet-trip-api/internal/middleware"
	"github.com/noah-isme/fleet-trip-api/internal/models"
	"github.com/noah-isme/fleet-trip-api/internal/repository"
	"github.com/noah-isme/fleet-trip-api/internal/service"
	"github.com/noah-isme/fleet-trip-api/pkg/cache"
	"github.com/noah-isme/fleet-trip-api/pkg/config"
	"github.com/noah-isme/fleet-trip-api/pkg/database"
	"github.com/noah-isme/fleet-trip-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/fleet-trip-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/fleet-trip-api/pkg/middleware/requestid"
)

// @title Fleet Trip API
// @version 1.0.0
// @description Trip records, edit-request approvals and edit history for the trucking fleet.
// @BasePath /
// @schemes http https
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient redis.UniversalClient
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, history cache disabled", zap.Error(err))
		} else {
			defer client.Close()
			redisClient = client
		}
	}

	loc := cfg.Location()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tripRepo := repository.NewTripRepository(db)
	requestRepo := repository.NewEditRequestRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	editor := service.NewTripEditor(tripRepo, historyRepo, loc)
	historySvc := service.NewHistoryService(historyRepo, tripRepo, cacheSvc, loc, logr)
	tripSvc := service.NewTripService(tripRepo, db, editor, historySvc, metricsSvc, service.TripServiceConfig{
		CodePrefix:      cfg.Trips.CodePrefix,
		Location:        loc,
		DefaultPageSize: cfg.Trips.DefaultPageSize,
		MaxPageSize:     cfg.Trips.MaxPageSize,
	}, logr)
	requestSvc := service.NewEditRequestService(requestRepo, tripRepo, db, editor, historySvc, metricsSvc, cfg.Trips.MaxPageSize, logr)
	excelSvc := service.NewExcelService(tripSvc, cfg.Trips.ImportMaxRows, cfg.Trips.ExportMaxRows, logr)
	retentionSvc := service.NewRetentionService(tripRepo, historyRepo, historySvc, metricsSvc, service.RetentionConfig{
		Schedule:   cfg.Retention.Schedule,
		Days:       cfg.Retention.Days,
		Location:   loc,
		MaxRetries: 3,
	}, logr)

	if cfg.Retention.Enabled {
		if err := retentionSvc.Start(ctx); err != nil {
			logr.Fatal("failed to start retention scheduler", zap.Error(err))
		}
		defer retentionSvc.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	tripHandler := handler.NewTripHandler(tripSvc)
	requestHandler := handler.NewEditRequestHandler(requestSvc)
	historyHandler := handler.NewHistoryHandler(historySvc)
	excelHandler := handler.NewExcelHandler(excelSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), authSvc, routeHandlers{
		auth:     authHandler,
		trips:    tripHandler,
		requests: requestHandler,
		history:  historyHandler,
		excel:    excelHandler,
		metrics:  metricsHandler,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

type routeHandlers struct {
	auth     *handler.AuthHandler
	trips    *handler.TripHandler
	requests *handler.EditRequestHandler
	history  *handler.HistoryHandler
	excel    *handler.ExcelHandler
	metrics  *handler.MetricsHandler
}

func registerRoutes(api *gin.RouterGroup, tokens internalmiddleware.TokenValidator, h routeHandlers) {
	const (
		admin      = models.RoleAdmin
		dispatcher = models.RoleDispatcher
		accountant = models.RoleAccountant
	)
	allow := internalmiddleware.RequireRoles

	api.POST("/auth/login", h.auth.Login)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(tokens))
	secured.GET("/auth/me", h.auth.Me)
	secured.GET("/admin/metrics", allow(admin), h.metrics.Snapshot)

	trips := secured.Group("/schedule-admin")
	trips.POST("", allow(admin, dispatcher), h.trips.Create)
	trips.GET("/all", allow(admin, dispatcher, accountant), h.trips.List)
	trips.GET("/deleted", allow(admin), h.trips.ListDeleted)
	trips.GET("/export", allow(admin, dispatcher, accountant), h.excel.Export)
	trips.POST("/import", allow(admin, dispatcher), h.excel.Import)

	trips.POST("/edit-request", allow(admin, dispatcher), h.requests.SubmitDispatcher)
	trips.POST("/edit-request-ke-toan", allow(admin, accountant), h.requests.SubmitAccountant)
	trips.POST("/edit-process", allow(admin, accountant), h.requests.Process)
	trips.GET("/my-requests", allow(admin, dispatcher, accountant), h.requests.MyRequests)
	trips.GET("/all-requests", allow(admin, accountant), h.requests.AllRequests)
	trips.DELETE("/delete-edit-request/:id", allow(admin, dispatcher, accountant), h.requests.Cancel)

	trips.GET("/history/:rideID", allow(admin, dispatcher, accountant), h.history.List)
	trips.GET("/history-count/:rideID", allow(admin, dispatcher, accountant), h.history.Count)
	trips.GET("/history/:rideID/export", allow(admin, accountant), h.history.Export)

	trips.GET("/:id", allow(admin, dispatcher, accountant), h.trips.Get)
	trips.PUT("/:id", allow(admin, dispatcher, accountant), h.trips.Update)
	trips.PATCH("/:id/warning", allow(admin, accountant), h.trips.SetWarning)
	trips.DELETE("/:id", allow(admin, dispatcher), h.trips.Delete)
	trips.DELETE("/:id/permanent", allow(admin), h.trips.Purge)
	trips.POST("/:id/restore", allow(admin), h.trips.Restore)
}
