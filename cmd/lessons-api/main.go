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
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-lesson-engine/api/swagger"
	"github.com/noah-isme/sma-lesson-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-lesson-engine/internal/middleware"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	"github.com/noah-isme/sma-lesson-engine/internal/repository"
	"github.com/noah-isme/sma-lesson-engine/internal/service"
	"github.com/noah-isme/sma-lesson-engine/pkg/cache"
	"github.com/noah-isme/sma-lesson-engine/pkg/config"
	"github.com/noah-isme/sma-lesson-engine/pkg/database"
	"github.com/noah-isme/sma-lesson-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-lesson-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-lesson-engine/pkg/middleware/requestid"
)

// @title SMA Lesson Engine API
// @version 0.1.0
// @description Recurring lesson occurrences, lesson edits and lesson attendance
// @BasePath /api/v1
// @schemes http

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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	metrics := service.NewMetricsService()
	loc := cfg.Occurrences.Location
	codec := occurrence.NewCodec(loc)
	validate := validator.New()

	templateRepo := repository.NewRecurrenceTemplateRepository(db)
	lessonRepo := repository.NewLessonRepository(db, cfg.Occurrences.Timezone)
	attendanceRepo := repository.NewLessonAttendanceRepository(db)

	metricsHandler := handler.NewMetricsHandler(metrics).WithHealthCheck("postgres", db.PingContext)

	// a nil cache is a valid, disabled cache
	var occurrenceCache *service.OccurrenceCache
	if cfg.Occurrences.CacheEnabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("occurrence cache disabled, redis unavailable", zap.Error(err))
		} else {
			metricsHandler.WithHealthCheck("redis", cache.Ping(client))
			cacheRepo := repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close() //nolint:errcheck
			occurrenceCache = service.NewOccurrenceCache(cacheRepo, metrics, cfg.Occurrences.CacheTTL, logr, true)
		}
	}

	expander := occurrence.NewExpander(codec,
		occurrence.WithMaxPerTemplate(cfg.Occurrences.MaxPerTemplate),
		occurrence.WithLogger(logr))

	calendarSvc := service.NewCalendarService(templateRepo, lessonRepo, expander, occurrenceCache, metrics, cfg.Occurrences.MaxWindow, logr)
	lessonSvc := service.NewLessonService(templateRepo, lessonRepo, occurrenceCache, codec, metrics, cfg.Occurrences.UpsertRetries, validate, logr)
	attendanceSvc := service.NewLessonAttendanceService(attendanceRepo, templateRepo, lessonRepo, codec, validate, logr)
	auditSvc := service.NewAttendanceAuditService(attendanceRepo, templateRepo, lessonRepo, codec, metrics, cfg.Audit.PageSize, logr)

	if cfg.Audit.Schedule != "" {
		scheduler, err := service.NewAuditScheduler(auditSvc, cfg.Audit.Schedule, loc, logr)
		if err != nil {
			logr.Fatal("invalid AUDIT_SCHEDULE", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health"))

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Calendar:   handler.NewCalendarHandler(calendarSvc),
		Lessons:    handler.NewLessonHandler(lessonSvc),
		Attendance: handler.NewLessonAttendanceHandler(attendanceSvc, auditSvc),
		Metrics:    metricsHandler,
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	logr.Info("server stopped")
}

