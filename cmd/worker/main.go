package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"timetrack/internal/cache"
	"timetrack/internal/mqhandler"
	"timetrack/pkg/circuitbreaker"
	"timetrack/pkg/config"
	"timetrack/pkg/db"
	"timetrack/pkg/logger"
	"timetrack/pkg/mq"
	"timetrack/pkg/otel"
	"timetrack/pkg/outbox"
	redisclient "timetrack/pkg/redis"
	"timetrack/pkg/util"
)

const notifyQueue = "timesheet.notify.q"

func main() {
	env := config.GetConfigEnv()

	// Load config
	cfg, err := config.Load(env, config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		panic(err)
	}

	logger := logger.NewLogger(env == "local")
	defer logger.Sync()

	logger.Info("Starting timetrack worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName:    cfg.ServiceName + "-worker",
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

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	deduper := util.NewDeduper(rdb, cfg.Worker.DedupTTL, logger)
	analyticsCache := cache.NewAnalyticsCache(rdb, cfg.Analytics.CacheTTL, logger)

	// Init MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// (1) Outbox dispatcher：审批事件 -> RabbitMQ
	dispatcher := outbox.NewDispatcher(outbox.NewRepository(dbConn), publisher, logger).
		WithInterval(cfg.Worker.OutboxInterval).
		WithMaxRetries(cfg.Worker.OutboxMaxRetries).
		WithBatchSize(cfg.Worker.OutboxBatchSize).
		WithBreakerConfig(breakerConfig(cfg.Worker))
	go dispatcher.Start(ctx)

	// (2) Consumer for timesheet.* notifications
	logger.Info("Initializing timesheet consumer", zap.String("queue", notifyQueue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, notifyQueue, "timesheet.*", logger)
	if err != nil {
		logger.Fatal("failed to init timesheet consumer", zap.Error(err))
	}
	defer consumer.Close()

	notifyHandler := mqhandler.NewTimesheetEventHandler(deduper, analyticsCache, logger)
	consumer.SetHandler(notifyHandler.HandleTimesheetEvent)
	consumer.SetDeadLetter(publisher)

	go func() {
		logger.Info("Starting timesheet consumer")
		if err := consumer.StartConsuming(); err != nil {
			logger.Fatal("timesheet consumer failed", zap.Error(err))
		}
	}()

	logger.Info("Worker is ready to process messages")

	<-ctx.Done()
	logger.Info("Shutting down worker")
	consumer.Stop()
}

// breakerConfig 发布熔断参数，其余取默认值
func breakerConfig(w config.WorkerConfig) circuitbreaker.Config {
	cb := circuitbreaker.DefaultConfig()
	if w.BreakerThreshold > 0 {
		cb.FailureThreshold = w.BreakerThreshold
	}
	if w.BreakerTimeout > 0 {
		cb.Timeout = w.BreakerTimeout
	}
	return cb
}
