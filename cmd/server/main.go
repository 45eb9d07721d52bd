package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kubo-market/anomaly-sentinel/internal/alert"
	"github.com/kubo-market/anomaly-sentinel/internal/config"
	"github.com/kubo-market/anomaly-sentinel/internal/handler"
	"github.com/kubo-market/anomaly-sentinel/internal/logging"
	"github.com/kubo-market/anomaly-sentinel/internal/monitor"
	"github.com/kubo-market/anomaly-sentinel/internal/seed"
	"github.com/kubo-market/anomaly-sentinel/internal/service"
	"github.com/kubo-market/anomaly-sentinel/internal/storage"
)

const serviceName = "anomaly-sentinel"

// recordStore is what the server needs from a record source.
type recordStore interface {
	storage.RecordSource
	storage.RecordWriter
	handler.Pinger
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	overlay, err := config.LoadFile(cfg.File)
	if err != nil {
		logger.Fatal("load config file", zap.Error(err))
	}

	// Record source
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("open record source", zap.String("source", cfg.RecordSource), zap.Error(err))
	}
	defer closeStore()

	if cfg.SeedData {
		n, err := seed.Load(context.Background(), store)
		if err != nil {
			logger.Error("seed data", zap.Error(err))
		} else {
			logger.Info("seed data loaded", zap.Int("records", n))
		}
	}

	// Alert dispatcher
	channels := map[alert.Channel]bool{}
	var publisher alert.Publisher
	if cfg.NATSURL != "" {
		nc, err := alert.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.Fatal("connect nats", zap.String("url", cfg.NATSURL), zap.Error(err))
		}
		defer nc.Close()
		publisher = nc
		channels[alert.ChannelNATS] = true
		logger.Info("nats alert channel enabled", zap.String("subject", cfg.NATSSubject))
	}
	for c, on := range overlay.ChannelStates() {
		channels[c] = on
	}

	dispatcher := alert.NewDispatcher(alert.Options{
		Dir:             cfg.AlertsDir,
		HistoryCapacity: cfg.AlertHistoryCapacity,
		Channels:        channels,
		Rules:           overlay.AlertRules,
		Publisher:       publisher,
		Subject:         cfg.NATSSubject,
		Logger:          logger.Named("alerts"),
	})

	// Stream processor
	detector := monitor.NewAnomalyDetector(overlay.Thresholds)
	for name, enabled := range overlay.DetectionRules {
		detector.SetRuleEnabled(name, enabled)
	}
	proc := service.NewStreamProcessor(store, detector, dispatcher, service.StreamConfig{
		Interval:      cfg.StreamInterval,
		DedupTTL:      cfg.DedupTTL,
		FetchWindow:   cfg.FetchWindow,
		FetchLimit:    cfg.FetchLimit,
		EventCapacity: cfg.EventLogCapacity,
	}, logger.Named("stream"))

	// Metrics publication
	var reporter *monitor.Reporter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, metrics will retry each interval", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		reporter = monitor.NewReporter(serviceName, rdb, func() any {
			return map[string]any{
				"stream": proc.Metrics().Snapshot(),
				"alerts": dispatcher.Metrics(),
			}
		}, cfg.MetricsReportInterval, logger.Named("reporter"))
		reporter.Start(context.Background())
		logger.Info("metrics reporter started", zap.String("key", reporter.Key()))
	}

	if cfg.AutoStart {
		proc.Start()
	}

	// Router
	router := handler.NewRouter(logger,
		handler.NewHealthHandler(store, cfg.RecordSource),
		handler.NewStreamHandler(proc),
		handler.NewAlertHandler(dispatcher, proc),
	)

	// Server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	logger.Info("anomaly sentinel running", zap.String("port", cfg.Port), zap.String("source", cfg.RecordSource))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", zap.Error(err))
	}

	// The loop never abandons a tick, so wait up to one interval plus slack.
	if proc.Stop() {
		select {
		case <-proc.Done():
		case <-time.After(cfg.StreamInterval + 10*time.Second):
			logger.Warn("stream loop did not stop in time")
		}
	}
	if reporter != nil {
		reporter.Stop()
	}
	logger.Info("server stopped")
}

func openStore(cfg config.Config, logger *zap.Logger) (recordStore, func(), error) {
	if cfg.RecordSource == config.SourceMemory {
		logger.Info("using in-memory record source")
		return storage.NewMemoryRepository(), func() {}, nil
	}

	db, err := storage.NewPostgresDB(cfg.DatabaseDSN, cfg.MigrationsPath)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("connected to postgres")
	return storage.NewPostgresRepository(db), func() { db.Close() }, nil
}
