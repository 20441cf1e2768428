package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"timetrack/internal/approval"
	"timetrack/internal/cache"
	"timetrack/internal/entry"
	"timetrack/internal/handler"
	"timetrack/internal/httpserver"
	"timetrack/internal/insights"
	"timetrack/internal/repository"
	"timetrack/migrations"
	"timetrack/pkg/config"
	"timetrack/pkg/db"
	"timetrack/pkg/logger"
	"timetrack/pkg/mq"
	"timetrack/pkg/otel"
	"timetrack/pkg/outbox"
	redisclient "timetrack/pkg/redis"
)

func main() {
	env := config.GetConfigEnv()

	// Load config
	cfg, err := config.Load(env, config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	logger := logger.NewLogger(env == "local")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
	}, logger)
	if err != nil {
		logger.Warn("OpenTelemetry initialization failed, tracing disabled", zap.Error(err))
	} else {
		defer shutdownTracing()
	}

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := migrations.Apply(ctx, dbConn, logger); err != nil {
		logger.Fatal("Schema migration failed", zap.Error(err))
	}

	// Init Redis，不可用时统计结果不缓存
	rdb := redisclient.NewRedisClient(cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	analyticsCache := cache.NewAnalyticsCache(rdb, cfg.Analytics.CacheTTL, logger)

	// Init Repositories & Services
	store := repository.NewPostgres(dbConn, logger)
	approvalService := approval.NewService(store, store, logger)
	entryService := entry.NewService(store, store, analyticsCache, logger)
	insightsService := insights.NewService(store, analyticsCache, logger,
		insights.WithLocation(cfg.Analytics.Location()),
		insights.WithWeeklyGoal(cfg.Analytics.WeeklyGoalHours),
	)

	handlers := httpserver.Handlers{
		Timesheets: handler.NewTimesheetHandler(approvalService, logger),
		Entries:    handler.NewEntryHandler(entryService, logger),
		Analytics:  handler.NewAnalyticsHandler(insightsService, logger),
	}

	// 管理端重放需要 MQ，连接失败时不挂载 /admin
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Warn("MQ publisher unavailable, admin replay disabled", zap.Error(err))
	} else {
		defer publisher.Close()
		replayService := outbox.NewReplayService(outbox.NewRepository(dbConn), publisher, logger)
		handlers.Admin = handler.NewAdminHandler(replayService, logger)
	}

	router := httpserver.NewRouter(handlers, store, cfg.JWT.Secret, dbConn, logger)
	srv := router.Server(cfg.Server.Port)

	go func() {
		logger.Info("Starting timetrack API", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down timetrack API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
