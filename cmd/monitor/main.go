package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/castlefun/swipewatch/internal/config"
	"github.com/castlefun/swipewatch/internal/dedup"
	"github.com/castlefun/swipewatch/internal/infra/postgresql"
	infraredis "github.com/castlefun/swipewatch/internal/infra/redis"
	"github.com/castlefun/swipewatch/internal/observability"
	"github.com/castlefun/swipewatch/internal/provider"
	"github.com/castlefun/swipewatch/internal/repository"
	"github.com/castlefun/swipewatch/internal/service"
	"github.com/castlefun/swipewatch/internal/transport"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const opsShutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	metrics := observability.NewMetrics()

	recorder, err := observability.NewFileRecorder(cfg.MetricsFile)
	if err != nil {
		logger.Fatal("metrics recorder init failed", zap.Error(err))
	}

	events, err := repository.NewGormEventRepo(db, metrics)
	if err != nil {
		logger.Fatal("event repository init failed", zap.Error(err))
	}
	if err := events.WaitReady(ctx); err != nil {
		logger.Fatal("database is not reachable", zap.Error(err))
	}

	var rdb *goredis.Client
	var memStore *dedup.MemoryStore
	var store dedup.Store

	switch cfg.NormalizedDedupBackend() {
	case config.DedupBackendRedis:
		rdb, err = infraredis.NewRedis(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer rdb.Close()

		store, err = infraredis.NewDedupStore(rdb, "")
		if err != nil {
			logger.Fatal("redis dedup store init failed", zap.Error(err))
		}
	default:
		memStore = dedup.NewMemoryStore()
		if cfg.DedupSnapshotFile != "" {
			if err := memStore.LoadSnapshot(cfg.DedupSnapshotFile); err != nil {
				if os.IsNotExist(err) {
					logger.Info("no dedup snapshot found, starting cold")
				} else {
					logger.Warn("dedup snapshot load failed, starting cold", zap.Error(err))
				}
			}
		}
		store = memStore
	}

	slack, err := provider.NewSlackProvider(cfg.SlackAPIURL, cfg.SlackBotToken, cfg.SlackChannel)
	if err != nil {
		logger.Fatal("slack provider init failed", zap.Error(err))
	}

	notifier, err := service.NewNotifier(slack, metrics, logger)
	if err != nil {
		logger.Fatal("notifier init failed", zap.Error(err))
	}

	monitor, err := service.NewMonitor(
		events,
		notifier,
		store,
		metrics,
		recorder,
		cfg.PollInterval(),
		cfg.WorkerConcurrency,
		cfg.ShutdownGrace(),
		logger,
	)
	if err != nil {
		logger.Fatal("monitor init failed", zap.Error(err))
	}

	ops := transport.NewOpsServer(sqlDB, rdb, metrics, logger)
	go func() {
		if err := ops.Listen(cfg.OpsAddr); err != nil {
			logger.Error("ops server stopped", zap.Error(err))
		}
	}()

	logger.Info("swipewatch started",
		zap.Duration("pollInterval", cfg.PollInterval()),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.String("dedupBackend", cfg.NormalizedDedupBackend()),
		zap.String("channel", cfg.SlackChannel),
	)

	if err := monitor.Start(ctx); err != nil {
		logger.Error("monitor stopped with error", zap.Error(err))
	}

	// Shutdown: final metrics write, dedup snapshot, ops server drain.
	if err := recorder.Persist(metrics); err != nil {
		logger.Warn("final metrics persistence failed", zap.Error(err))
	}
	if memStore != nil && cfg.DedupSnapshotFile != "" {
		if err := memStore.SaveSnapshot(cfg.DedupSnapshotFile); err != nil {
			logger.Warn("dedup snapshot save failed", zap.Error(err))
		}
	}
	if err := ops.ShutdownWithTimeout(opsShutdownTimeout); err != nil {
		logger.Warn("ops server shutdown failed", zap.Error(err))
	}

	logger.Info("swipewatch stopped, final metrics saved")
}
